package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/value"
)

// Socket.IO events of the broker control channel. Every request carries an
// id that the broker echoes in its result event.
const (
	EventControl = "control"
	EventResult  = "control-result"
)

// RemoteConfig configures the connection to a broker control endpoint.
type RemoteConfig struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
	CallTimeout        time.Duration
	MaxConnectRetries  uint64
}

// DefaultRemoteConfig returns the settings used when only a URL is given.
func DefaultRemoteConfig(rawURL string) RemoteConfig {
	return RemoteConfig{
		URL:               rawURL,
		Namespace:         "/",
		ConnectTimeout:    15 * time.Second,
		CallTimeout:       10 * time.Second,
		MaxConnectRetries: 5,
	}
}

type reply struct {
	result any
	err    error
}

// Remote is an Engine that forwards control calls to a broker over
// Socket.IO.
type Remote struct {
	cfg    RemoteConfig
	logger *slog.Logger
	emit   func(event string, args ...any)
	close  func()

	mu      sync.Mutex
	pending map[string]chan reply
}

var _ Engine = (*Remote)(nil)

func newRemote(cfg RemoteConfig, logger *slog.Logger) *Remote {
	return &Remote{
		cfg:     cfg,
		logger:  logger,
		emit:    func(string, ...any) {},
		close:   func() {},
		pending: make(map[string]chan reply),
	}
}

// DialRemote connects to the broker, retrying with exponential backoff.
func DialRemote(ctx context.Context, cfg RemoteConfig) (*Remote, error) {
	logger := ctxlog.FromContext(ctx).With("engine", "remote", "url", cfg.URL)
	r := newRemote(cfg, logger)

	var io *socket.Socket
	connect := func() error {
		s, err := connect(ctx, cfg, logger)
		if err != nil {
			return err
		}
		io = s
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.MaxConnectRetries), ctx)
	err := backoff.RetryNotify(connect, policy, func(err error, next time.Duration) {
		logger.Warn("Broker connection failed; retrying.", "error", err, "retry_in", next)
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to broker at %s: %w", cfg.URL, err)
	}

	io.On(types.EventName(EventResult), func(data ...any) {
		r.deliver(data...)
	})
	io.On(types.EventName("disconnect"), func(...any) {
		logger.Warn("Broker connection lost.")
		r.failPending(errors.New("broker connection lost"))
	})
	r.emit = func(event string, args ...any) {
		io.Emit(event, args...)
	}
	r.close = func() {
		logger.Debug("Disconnecting broker client.")
		io.Disconnect()
	}
	return r, nil
}

// connect opens one Socket.IO connection and waits for it to be accepted.
func connect(ctx context.Context, cfg RemoteConfig, logger *slog.Logger) (*socket.Socket, error) {
	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to parse URL: %w", err))
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification.")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connected := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to broker.", "sid", io.Id())
		signalConnect(connected, nil)
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		signalConnect(connected, err)
	})

	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return io, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, backoff.Permanent(ctx.Err())
	case <-time.After(cfg.ConnectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", cfg.ConnectTimeout)
	}
}

// signalConnect reports the first connection outcome. Later outcomes are
// dropped so event handlers never block once connect has returned.
func signalConnect(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

// Close disconnects from the broker and fails calls still in flight.
func (r *Remote) Close() {
	r.close()
	r.failPending(errors.New("broker client closed"))
}

// deliver routes a result event to the call waiting for it.
func (r *Remote) deliver(data ...any) {
	if len(data) == 0 {
		return
	}
	msg, ok := data[0].(map[string]any)
	if !ok {
		r.logger.Warn("Ignoring malformed broker result.", "payload", fmt.Sprintf("%v", data[0]))
		return
	}
	id, _ := msg["id"].(string)

	r.mu.Lock()
	ch, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()
	if !ok {
		r.logger.Debug("Dropping broker result for an unknown call.", "id", id)
		return
	}

	var res reply
	if e, _ := msg["error"].(string); e != "" {
		res.err = errors.New(e)
	} else {
		res.result = msg["result"]
	}
	ch <- res
}

func (r *Remote) failPending(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.pending {
		ch <- reply{err: err}
		delete(r.pending, id)
	}
}

// call sends one request and waits for its result.
func (r *Remote) call(ctx context.Context, method string, ref Ref, fields map[string]any) (any, error) {
	id := uuid.NewString()
	req := map[string]any{
		"id":     id,
		"method": method,
		"server": ref.Server,
		"kind":   ref.Kind,
		"name":   ref.Name,
	}
	for k, v := range fields {
		req[k] = v
	}

	ch := make(chan reply, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()

	r.logger.Debug("Sending broker control call.", "method", method, "ref", ref.String(), "id", id)
	r.emit(EventControl, req)

	timer := time.NewTimer(r.cfg.CallTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("broker %s on %s: %w", method, ref, res.err)
		}
		return res.result, nil
	case <-ctx.Done():
		r.forget(id)
		return nil, ctx.Err()
	case <-timer.C:
		r.forget(id)
		return nil, fmt.Errorf("broker %s on %s: timed out after %s", method, ref, r.cfg.CallTimeout)
	}
}

func (r *Remote) forget(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func nativeSettings(settings map[string]cty.Value) (map[string]any, error) {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		n, err := value.ToNative(v)
		if err != nil {
			return nil, fmt.Errorf("setting %q: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// StartServer implements Engine.
func (r *Remote) StartServer(ctx context.Context, server string, settings map[string]cty.Value) error {
	native, err := nativeSettings(settings)
	if err != nil {
		return err
	}
	_, err = r.call(ctx, "start-server", ServerRef(server), map[string]any{"settings": native})
	return err
}

// StopServer implements Engine.
func (r *Remote) StopServer(ctx context.Context, server string) error {
	_, err := r.call(ctx, "stop-server", ServerRef(server), nil)
	return err
}

// Deploy implements Engine.
func (r *Remote) Deploy(ctx context.Context, ref Ref, settings map[string]cty.Value) error {
	native, err := nativeSettings(settings)
	if err != nil {
		return err
	}
	_, err = r.call(ctx, "deploy", ref, map[string]any{"settings": native})
	return err
}

// Destroy implements Engine.
func (r *Remote) Destroy(ctx context.Context, ref Ref) error {
	_, err := r.call(ctx, "destroy", ref, nil)
	return err
}

// SetAttribute implements Engine.
func (r *Remote) SetAttribute(ctx context.Context, ref Ref, attr string, v cty.Value) error {
	native, err := value.ToNative(v)
	if err != nil {
		return err
	}
	_, err = r.call(ctx, "set-attribute", ref, map[string]any{"attribute": attr, "value": native})
	return err
}

// ReadAttribute implements Engine.
func (r *Remote) ReadAttribute(ctx context.Context, ref Ref, attr string) (cty.Value, error) {
	res, err := r.call(ctx, "read-attribute", ref, map[string]any{"attribute": attr})
	if err != nil {
		return cty.NilVal, err
	}
	return value.FromNative(res)
}

// Invoke implements Engine.
func (r *Remote) Invoke(ctx context.Context, ref Ref, op string, args map[string]cty.Value) (cty.Value, error) {
	native, err := nativeSettings(args)
	if err != nil {
		return cty.NilVal, err
	}
	res, err := r.call(ctx, "invoke", ref, map[string]any{"operation": op, "args": native})
	if err != nil {
		return cty.NilVal, err
	}
	return value.FromNative(res)
}

// Ping implements Engine.
func (r *Remote) Ping(ctx context.Context, server string) error {
	_, err := r.call(ctx, "ping", ServerRef(server), nil)
	return err
}
