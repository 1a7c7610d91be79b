package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/tree"
	"github.com/vk/brokerconf/internal/value"
)

// SubsystemBlock is the type of the top-level block.
const SubsystemBlock = "subsystem"

// Write results reported to the observer.
const (
	ResultWritten   = "written"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
)

// Writer rewrites the model file from a committed root. Its Persist method
// is a tree.PersistFunc.
type Writer struct {
	path      string
	subsystem string
	observe   func(result string)

	mu     sync.Mutex
	sum    uint64
	primed bool
}

// NewWriter creates a writer for the file at path. The hash of the current
// file contents, if any, is taken so that an identical first commit does not
// touch the file.
func NewWriter(path, subsystem string) *Writer {
	w := &Writer{path: path, subsystem: subsystem}
	if data, err := os.ReadFile(path); err == nil {
		w.sum = xxhash.Sum64(data)
		w.primed = true
	}
	return w
}

// OnWrite registers a callback receiving the result of every Persist call.
func (w *Writer) OnWrite(fn func(result string)) {
	w.observe = fn
}

// Path returns the model file path.
func (w *Writer) Path() string { return w.path }

// Persist renders root and replaces the file atomically. A render that is
// byte-identical to the last written content is skipped.
func (w *Writer) Persist(root *tree.Resource) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := Render(w.subsystem, root)
	if err != nil {
		w.report(ResultFailed)
		return err
	}
	sum := xxhash.Sum64(data)
	if w.primed && sum == w.sum {
		w.report(ResultUnchanged)
		return nil
	}
	if err := writeAtomic(w.path, data); err != nil {
		w.report(ResultFailed)
		return err
	}
	w.sum = sum
	w.primed = true
	w.report(ResultWritten)
	return nil
}

func (w *Writer) report(result string) {
	if w.observe != nil {
		w.observe(result)
	}
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Render produces the canonical HCL form of root. The output depends only
// on the model content.
func Render(subsystem string, root *tree.Resource) ([]byte, error) {
	f := hclwrite.NewEmptyFile()
	block := f.Body().AppendNewBlock(SubsystemBlock, []string{subsystem})
	if err := renderResource(block.Body(), root); err != nil {
		return nil, err
	}
	return hclwrite.Format(f.Bytes()), nil
}

func renderResource(body *hclwrite.Body, r *tree.Resource) error {
	wrote := false
	for _, name := range r.AttributeNames() {
		v, _ := r.Attribute(name)
		if v.IsNull() {
			continue
		}
		if value.IsExpression(v) {
			body.SetAttributeRaw(name, templateTokens(value.ExpressionSource(v)))
			wrote = true
			continue
		}
		if !v.IsWhollyKnown() || !isPlain(v.Type()) {
			return fmt.Errorf("attribute %q holds a value of type %s that cannot be persisted", name, v.Type().FriendlyName())
		}
		body.SetAttributeValue(name, v)
		wrote = true
	}

	for _, childType := range r.ChildTypes() {
		for _, name := range r.ChildNames(childType) {
			child, _ := r.Child(childType, name)
			if wrote {
				body.AppendNewline()
			}
			wrote = true
			block := body.AppendNewBlock(childType, []string{name})
			if err := renderResource(block.Body(), child); err != nil {
				return fmt.Errorf("%s %q: %w", childType, name, err)
			}
		}
	}
	return nil
}

func isPlain(ty cty.Type) bool {
	switch {
	case ty.IsPrimitiveType():
		return true
	case ty.IsListType(), ty.IsSetType(), ty.IsMapType():
		return isPlain(ty.ElementType())
	case ty.IsTupleType():
		for _, et := range ty.TupleElementTypes() {
			if !isPlain(et) {
				return false
			}
		}
		return true
	case ty.IsObjectType():
		for _, at := range ty.AttributeTypes() {
			if !isPlain(at) {
				return false
			}
		}
		return true
	}
	return false
}

func templateTokens(src string) hclwrite.Tokens {
	return hclwrite.Tokens{
		{Type: hclsyntax.TokenOQuote, Bytes: []byte(`"`)},
		{Type: hclsyntax.TokenQuotedLit, Bytes: []byte(quoteTemplate(src))},
		{Type: hclsyntax.TokenCQuote, Bytes: []byte(`"`)},
	}
}
