package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/broker"
	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/service"
)

const healthTimeout = 2 * time.Second

// controlled is a service backed by one broker component.
type controlled interface {
	service.Service
	Ref() broker.Ref
}

// serverService runs a broker server.
type serverService struct {
	engine   broker.Engine
	name     string
	settings map[string]cty.Value
}

func (s *serverService) Ref() broker.Ref { return broker.ServerRef(s.name) }

func (s *serverService) Start(ctx context.Context) error {
	ctxlog.FromContext(ctx).Info("▶️ Starting broker server.", "server", s.name)
	return s.engine.StartServer(ctx, s.name, s.settings)
}

func (s *serverService) Stop(ctx context.Context) error {
	ctxlog.FromContext(ctx).Info("🔥 Stopping broker server.", "server", s.name)
	return s.engine.StopServer(ctx, s.name)
}

func (s *serverService) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	return s.engine.Ping(ctx, s.name) == nil
}

// componentService deploys one component on a running server.
type componentService struct {
	engine   broker.Engine
	ref      broker.Ref
	settings map[string]cty.Value
}

func (c *componentService) Ref() broker.Ref { return c.ref }

func (c *componentService) Start(ctx context.Context) error {
	ctxlog.FromContext(ctx).Debug("Deploying broker component.", "component", c.ref.String())
	return c.engine.Deploy(ctx, c.ref, c.settings)
}

func (c *componentService) Stop(ctx context.Context) error {
	ctxlog.FromContext(ctx).Debug("Destroying broker component.", "component", c.ref.String())
	return c.engine.Destroy(ctx, c.ref)
}

func (c *componentService) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	return c.engine.Ping(ctx, c.ref.Server) == nil
}

// serverAddress returns the address of the server owning addr.
func serverAddress(addr address.Address) address.Address {
	return address.New(addr.Segment(0))
}

// refOf maps a resource address to the broker component backing it.
func refOf(addr address.Address) broker.Ref {
	if addr.Len() == 1 {
		return broker.ServerRef(addr.Name())
	}
	return broker.Ref{Server: addr.Segment(0).Value, Kind: addr.Type(), Name: addr.Name()}
}

// settingsOf keeps the set values of a resolved model.
func settingsOf(model map[string]cty.Value) map[string]cty.Value {
	out := make(map[string]cty.Value, len(model))
	for k, v := range model {
		if !v.IsNull() {
			out[k] = v
		}
	}
	return out
}

// controlledService returns the broker component behind a live handle.
func controlledService(h *service.Handle) (controlled, error) {
	c, ok := h.Service().(controlled)
	if !ok {
		return nil, fmt.Errorf("service %q is not backed by a broker component", h.Name())
	}
	return c, nil
}
