package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/vk/brokerconf/internal/ctxlog"
)

// ValidateRegistry performs a strict parity check between the catalog, the
// resource definitions and the transformer table.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)
	current := r.ModelVersion()

	catalogTypes := r.Catalog.Types()
	for _, t := range catalogTypes {
		if _, ok := r.definitions[t]; !ok {
			errs = append(errs, fmt.Sprintf("type '%s': catalog describes it but no definition is registered", t))
		}
	}

	for _, t := range r.Types() {
		def := r.definitions[t]
		if !slices.Contains(catalogTypes, t) {
			errs = append(errs, fmt.Sprintf("type '%s': definition registered but the catalog does not describe it", t))
			continue
		}
		if def.Resolver == nil {
			errs = append(errs, fmt.Sprintf("type '%s': definition has no expression resolver", t))
		}
		for _, p := range def.Parents {
			if _, ok := r.definitions[p]; !ok {
				errs = append(errs, fmt.Sprintf("type '%s': parent type '%s' is not registered", t, p))
			}
		}

		attrs, _ := r.Catalog.Describe(t)
		for _, a := range attrs {
			if a.Since == nil {
				continue
			}
			if a.Since.GreaterThan(current) {
				errs = append(errs, fmt.Sprintf("type '%s', attribute '%s': introduced in %s, after the model version %s", t, a.Name, a.Since, current))
				continue
			}
			// The newest chain below Since is the one that must hide the attribute.
			for _, c := range r.Transforms.Chains() {
				if !c.Version().LessThan(a.Since) {
					continue
				}
				if !slices.Contains(c.Types(), t) {
					logger.Warn("Attribute is newer than a supported version whose chain has no transformers for its type.",
						"type", t, "attribute", a.Name, "since", a.Since.String(), "version", c.Version().String())
				}
				break
			}
		}
	}

	for _, c := range r.Transforms.Chains() {
		for _, t := range c.Types() {
			if _, ok := r.definitions[t]; !ok {
				errs = append(errs, fmt.Sprintf("transformers for %s: type '%s' is not registered", c.Version(), t))
			}
		}
	}

	for _, op := range r.Startup {
		if _, ok := r.Handlers.Lookup(op.Address().Type(), op.Name()); !ok {
			errs = append(errs, fmt.Sprintf("startup operation '%s': no handler is registered", op))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
