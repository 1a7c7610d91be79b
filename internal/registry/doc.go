// Package registry provides the central "glue" for the subsystem modules.
//
// A Registry owns everything a module contributes: the attribute catalog of
// its resource types, the operation handlers bound to them and the version
// transformer table. Nothing here is process-wide; every controller builds
// its own Registry so several servers can coexist in one process.
//
// During startup the registry is populated by each Module and then validated
// to ensure that catalog, handlers and transformers agree with each other.
package registry
