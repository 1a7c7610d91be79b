// Package cli turns command-line arguments and an optional YAML settings
// file into the application's configuration, and carries the exit code of
// a rejected invocation.
package cli
