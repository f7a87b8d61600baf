// Package sdks enumerates installed SDKs and their feature bands.
package sdks
