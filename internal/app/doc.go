// Package app wires the management controller, its persisted model file,
// the broker engine and the management endpoint into one process, decoupled
// from any specific entrypoint like a CLI.
package app
