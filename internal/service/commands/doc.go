// Package commands implements the workload commands behind the CLI: install,
// update, uninstall, repair, clean, list and download.
//
// Each command loads settings, builds the engine for the selected install
// context and holds the operation marker of the feature band while it
// mutates the workload root.
package commands
