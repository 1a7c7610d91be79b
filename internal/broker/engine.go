// Package broker is the narrow control surface of the message broker the
// management model configures. Only RUNTIME-stage steps call into it.
package broker

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Component kinds a server hosts.
const (
	KindServer            = "server"
	KindQueue             = "queue"
	KindConnector         = "connector"
	KindDiscoveryGroup    = "discovery-group"
	KindConnectionFactory = "connection-factory"
)

// Queue control operations.
const (
	OpPause          = "pause"
	OpResume         = "resume"
	OpCountMessages  = "count-messages"
	OpRemoveMessages = "remove-messages"
)

// Ref names one component of one server.
type Ref struct {
	Server string
	Kind   string
	Name   string
}

// ServerRef names the server itself.
func ServerRef(server string) Ref {
	return Ref{Server: server, Kind: KindServer, Name: server}
}

// String returns the string representation of a Ref.
func (r Ref) String() string {
	if r.Kind == KindServer {
		return r.Server
	}
	return fmt.Sprintf("%s/%s/%s", r.Server, r.Kind, r.Name)
}

// Engine controls broker servers and their components.
type Engine interface {
	StartServer(ctx context.Context, server string, settings map[string]cty.Value) error
	StopServer(ctx context.Context, server string) error
	Deploy(ctx context.Context, ref Ref, settings map[string]cty.Value) error
	Destroy(ctx context.Context, ref Ref) error
	SetAttribute(ctx context.Context, ref Ref, attr string, v cty.Value) error
	ReadAttribute(ctx context.Context, ref Ref, attr string) (cty.Value, error)
	Invoke(ctx context.Context, ref Ref, op string, args map[string]cty.Value) (cty.Value, error)
	Ping(ctx context.Context, server string) error
}
