// Package model defines the domain types and value objects for the
// expo-container library and CLI.
//
// This package contains pure data structures with no external dependencies:
// the ExpoOptions configuration record, resource health and command state
// enums, command results, and the request/response shapes exchanged with the
// container engine.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling,
// plus ArgumentError for configuration mistakes caught at registration time.
package model
