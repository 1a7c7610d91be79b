// Package messaging is the broker subsystem module: the resource types of a
// messaging server, the services backing them, their runtime operations and
// the transformers for older model versions.
//
// Resource layout:
//
//	/                                   global client thread pools
//	/server=<name>                      a broker server
//	/server=<name>/queue=<name>
//	/server=<name>/connector=<name>
//	/server=<name>/discovery-group=<name>
//	/server=<name>/connection-factory=<name>
//
// A server's children only get services once their server runs. Starting a
// server installs them in tiers: connectors and discovery groups first, then
// queues and connection factories.
package messaging
