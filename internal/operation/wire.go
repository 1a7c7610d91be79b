package operation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Masterminds/semver/v3"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/address"
	"github.com/vk/brokerconf/internal/failure"
	"github.com/vk/brokerconf/internal/value"
)

type wireHeaders struct {
	RollbackOnRuntimeFailure *bool  `json:"rollback-on-runtime-failure,omitempty"`
	DryRun                   bool   `json:"dry-run,omitempty"`
	ClientVersion            string `json:"client-version,omitempty"`
}

type wireOperation struct {
	Op      string                     `json:"op"`
	Address string                     `json:"address"`
	Params  map[string]json.RawMessage `json:"params,omitempty"`
	Headers *wireHeaders               `json:"headers,omitempty"`
	Steps   []json.RawMessage          `json:"steps,omitempty"`
}

// Decode reads one JSON operation.
func Decode(r io.Reader) (*Operation, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, failure.Wrap(failure.ValidationFailed, err, "malformed operation")
	}
	var op Operation
	if err := op.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return &op, nil
}

// UnmarshalJSON implements json.Unmarshaler. Numbers keep their exact
// decimal form.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return failure.Wrap(failure.ValidationFailed, err, "malformed operation")
	}
	if w.Op == "" {
		return failure.New(failure.ValidationFailed, "operation name is missing")
	}
	addr, err := address.Parse(w.Address)
	if err != nil {
		return failure.Wrap(failure.ValidationFailed, err, "invalid address")
	}

	params := make(map[string]cty.Value, len(w.Params))
	for name, raw := range w.Params {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var native any
		if err := dec.Decode(&native); err != nil {
			return failure.Wrap(failure.ValidationFailed, err, "parameter %q", name)
		}
		v, err := value.FromNative(native)
		if err != nil {
			return failure.Wrap(failure.ValidationFailed, err, "parameter %q", name)
		}
		params[name] = v
	}

	decoded := New(w.Op, addr, params)
	if w.Headers != nil {
		if w.Headers.RollbackOnRuntimeFailure != nil {
			decoded.headers.RollbackOnRuntimeFailure = *w.Headers.RollbackOnRuntimeFailure
		}
		decoded.headers.DryRun = w.Headers.DryRun
		if w.Headers.ClientVersion != "" {
			v, err := semver.NewVersion(w.Headers.ClientVersion)
			if err != nil {
				return failure.Wrap(failure.ValidationFailed, err, "invalid client-version %q", w.Headers.ClientVersion)
			}
			decoded.headers.ClientVersion = v
		}
	}
	for i, rawStep := range w.Steps {
		var step Operation
		if err := step.UnmarshalJSON(rawStep); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		decoded.steps = append(decoded.steps, &step)
	}

	*o = *decoded
	return nil
}

// MarshalJSON implements json.Marshaler.
func (o *Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{Op: o.name, Address: o.address.String()}
	if len(o.params) > 0 {
		w.Params = make(map[string]json.RawMessage, len(o.params))
		for name, v := range o.params {
			native, err := value.ToNative(v)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", name, err)
			}
			b, err := json.Marshal(native)
			if err != nil {
				return nil, err
			}
			w.Params[name] = b
		}
	}
	if h := o.headers; !h.RollbackOnRuntimeFailure || h.DryRun || h.ClientVersion != nil {
		wh := &wireHeaders{DryRun: h.DryRun}
		if !h.RollbackOnRuntimeFailure {
			f := false
			wh.RollbackOnRuntimeFailure = &f
		}
		if h.ClientVersion != nil {
			wh.ClientVersion = h.ClientVersion.String()
		}
		w.Headers = wh
	}
	for _, step := range o.steps {
		b, err := step.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w.Steps = append(w.Steps, b)
	}
	return json.Marshal(w)
}

type wireResult struct {
	Outcome            Outcome      `json:"outcome"`
	Result             any          `json:"result,omitempty"`
	FailureDescription string       `json:"failure-description,omitempty"`
	FailureKind        failure.Kind `json:"failure-kind,omitempty"`
	RolledBack         bool         `json:"rolled-back,omitempty"`
	ReloadRequired     bool         `json:"reload-required,omitempty"`
	Compensating       *Operation   `json:"compensating-operation,omitempty"`
	OperationID        string       `json:"operation-id,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (r *Result) MarshalJSON() ([]byte, error) {
	w := wireResult{
		Outcome:            r.Outcome,
		FailureDescription: r.FailureDescription,
		FailureKind:        r.FailureKind,
		RolledBack:         r.RolledBack,
		ReloadRequired:     r.ReloadRequired,
		Compensating:       r.Compensating,
		OperationID:        r.OperationID,
	}
	if r.Result.Type() != cty.NilType {
		native, err := value.ToNative(r.Result)
		if err != nil {
			return nil, err
		}
		w.Result = native
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Result) UnmarshalJSON(data []byte) error {
	var w struct {
		wireResult
		Result json.RawMessage `json:"result,omitempty"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Result{
		Outcome:            w.Outcome,
		FailureDescription: w.FailureDescription,
		FailureKind:        w.FailureKind,
		RolledBack:         w.RolledBack,
		ReloadRequired:     w.ReloadRequired,
		Compensating:       w.Compensating,
		OperationID:        w.OperationID,
		Result:             cty.NullVal(cty.DynamicPseudoType),
	}
	if len(w.Result) > 0 {
		dec := json.NewDecoder(bytes.NewReader(w.Result))
		dec.UseNumber()
		var native any
		if err := dec.Decode(&native); err != nil {
			return err
		}
		v, err := value.FromNative(native)
		if err != nil {
			return err
		}
		r.Result = v
	}
	return nil
}
