package main

import "github.com/dotnet/sdk-sub044/cmd/sdk-workload/cmd"

func main() {
	cmd.Execute()
}
