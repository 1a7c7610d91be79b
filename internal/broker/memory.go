package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// Version is reported by in-memory servers.
const Version = "2.31.2"

// Call records one control call made to a Memory engine.
type Call struct {
	Method string
	Ref    Ref
	Attr   string
	Value  cty.Value
}

type faultKey struct {
	method string
	ref    Ref
}

type fault struct {
	err  error
	once bool
}

type component struct {
	settings  map[string]cty.Value
	messages  int64
	paused    bool
	consumers int64
}

type memServer struct {
	settings   map[string]cty.Value
	components map[Ref]*component
}

// Memory is an in-process Engine. Faults can be injected per method and
// component, and every call is recorded.
type Memory struct {
	mu      sync.Mutex
	servers map[string]*memServer
	calls   []Call
	faults  map[faultKey]fault
}

var _ Engine = (*Memory)(nil)

// NewMemory creates an engine with no servers running.
func NewMemory() *Memory {
	return &Memory{
		servers: make(map[string]*memServer),
		faults:  make(map[faultKey]fault),
	}
}

// Fail makes every later call of method on ref return err. A nil err clears
// the fault.
func (m *Memory) Fail(method string, ref Ref, err error) {
	m.setFault(method, ref, fault{err: err})
}

// FailOnce makes only the next call of method on ref return err.
func (m *Memory) FailOnce(method string, ref Ref, err error) {
	m.setFault(method, ref, fault{err: err, once: true})
}

func (m *Memory) setFault(method string, ref Ref, f fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := faultKey{method: method, ref: ref}
	if f.err == nil {
		delete(m.faults, k)
		return
	}
	m.faults[k] = f
}

// Calls returns the recorded calls of method, or all calls when method is
// empty.
func (m *Memory) Calls(method string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Deployed lists the deployed components of a server, sorted.
func (m *Memory) Deployed(server string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[server]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.components))
	for ref := range s.components {
		out = append(out, ref.String())
	}
	sort.Strings(out)
	return out
}

// Enqueue adds n messages to a deployed queue.
func (m *Memory) Enqueue(ref Ref, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.component(ref)
	if err != nil {
		return err
	}
	c.messages += n
	return nil
}

// Settings returns the settings a component was last deployed or updated
// with.
func (m *Memory) Settings(ref Ref) (map[string]cty.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ref.Kind == KindServer {
		s, ok := m.servers[ref.Server]
		if !ok {
			return nil, false
		}
		return copySettings(s.settings), true
	}
	c, err := m.component(ref)
	if err != nil {
		return nil, false
	}
	return copySettings(c.settings), true
}

// record logs a call and returns the injected fault for it, if any. The
// caller holds the lock.
func (m *Memory) record(c Call) error {
	m.calls = append(m.calls, c)
	k := faultKey{method: c.Method, ref: c.Ref}
	if f, ok := m.faults[k]; ok {
		if f.once {
			delete(m.faults, k)
		}
		return f.err
	}
	return nil
}

func (m *Memory) server(name string) (*memServer, error) {
	s, ok := m.servers[name]
	if !ok {
		return nil, fmt.Errorf("server %q is not running", name)
	}
	return s, nil
}

func (m *Memory) component(ref Ref) (*component, error) {
	s, err := m.server(ref.Server)
	if err != nil {
		return nil, err
	}
	c, ok := s.components[ref]
	if !ok {
		return nil, fmt.Errorf("%s %q is not deployed on %q", ref.Kind, ref.Name, ref.Server)
	}
	return c, nil
}

// StartServer implements Engine.
func (m *Memory) StartServer(_ context.Context, server string, settings map[string]cty.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "StartServer", Ref: ServerRef(server)}); err != nil {
		return err
	}
	if _, running := m.servers[server]; running {
		return fmt.Errorf("server %q is already running", server)
	}
	m.servers[server] = &memServer{settings: copySettings(settings), components: make(map[Ref]*component)}
	return nil
}

// StopServer implements Engine.
func (m *Memory) StopServer(_ context.Context, server string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "StopServer", Ref: ServerRef(server)}); err != nil {
		return err
	}
	delete(m.servers, server)
	return nil
}

// Deploy implements Engine.
func (m *Memory) Deploy(_ context.Context, ref Ref, settings map[string]cty.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "Deploy", Ref: ref}); err != nil {
		return err
	}
	s, err := m.server(ref.Server)
	if err != nil {
		return err
	}
	if _, exists := s.components[ref]; exists {
		return fmt.Errorf("%s %q is already deployed on %q", ref.Kind, ref.Name, ref.Server)
	}
	s.components[ref] = &component{settings: copySettings(settings)}
	return nil
}

// Destroy implements Engine.
func (m *Memory) Destroy(_ context.Context, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "Destroy", Ref: ref}); err != nil {
		return err
	}
	if _, err := m.component(ref); err != nil {
		return err
	}
	delete(m.servers[ref.Server].components, ref)
	return nil
}

// SetAttribute implements Engine.
func (m *Memory) SetAttribute(_ context.Context, ref Ref, attr string, v cty.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "SetAttribute", Ref: ref, Attr: attr, Value: v}); err != nil {
		return err
	}
	if ref.Kind == KindServer {
		s, err := m.server(ref.Server)
		if err != nil {
			return err
		}
		s.settings[attr] = v
		return nil
	}
	c, err := m.component(ref)
	if err != nil {
		return err
	}
	c.settings[attr] = v
	return nil
}

// ReadAttribute implements Engine. Runtime attributes are computed, the rest
// come from the current settings.
func (m *Memory) ReadAttribute(_ context.Context, ref Ref, attr string) (cty.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "ReadAttribute", Ref: ref, Attr: attr}); err != nil {
		return cty.NilVal, err
	}
	if ref.Kind == KindServer {
		s, ok := m.servers[ref.Server]
		switch attr {
		case "started":
			return cty.BoolVal(ok), nil
		case "version":
			return cty.StringVal(Version), nil
		}
		if !ok {
			return cty.NilVal, fmt.Errorf("server %q is not running", ref.Server)
		}
		return settingOrNull(s.settings, attr), nil
	}
	c, err := m.component(ref)
	if err != nil {
		return cty.NilVal, err
	}
	switch attr {
	case "message-count":
		return cty.NumberIntVal(c.messages), nil
	case "paused":
		return cty.BoolVal(c.paused), nil
	case "consumer-count":
		return cty.NumberIntVal(c.consumers), nil
	}
	return settingOrNull(c.settings, attr), nil
}

// Invoke implements Engine for the queue control operations.
func (m *Memory) Invoke(_ context.Context, ref Ref, op string, _ map[string]cty.Value) (cty.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "Invoke", Ref: ref, Attr: op}); err != nil {
		return cty.NilVal, err
	}
	c, err := m.component(ref)
	if err != nil {
		return cty.NilVal, err
	}
	if ref.Kind != KindQueue {
		return cty.NilVal, fmt.Errorf("%s does not support %q", ref.Kind, op)
	}
	switch op {
	case OpPause:
		c.paused = true
		return cty.NullVal(cty.DynamicPseudoType), nil
	case OpResume:
		c.paused = false
		return cty.NullVal(cty.DynamicPseudoType), nil
	case OpCountMessages:
		return cty.NumberIntVal(c.messages), nil
	case OpRemoveMessages:
		n := c.messages
		c.messages = 0
		return cty.NumberIntVal(n), nil
	default:
		return cty.NilVal, fmt.Errorf("unknown queue operation %q", op)
	}
}

// Ping implements Engine.
func (m *Memory) Ping(_ context.Context, server string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Method: "Ping", Ref: ServerRef(server)}); err != nil {
		return err
	}
	_, err := m.server(server)
	return err
}

func copySettings(in map[string]cty.Value) map[string]cty.Value {
	out := make(map[string]cty.Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func settingOrNull(settings map[string]cty.Value, attr string) cty.Value {
	if v, ok := settings[attr]; ok {
		return v
	}
	return cty.NullVal(cty.DynamicPseudoType)
}
