// Package handlers implements the operation handlers of the management model:
// the Add, Remove and Write-Attribute lifecycle templates and the read
// operations, plus the table that maps (resource type, operation name) to a
// handler.
package handlers

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/brokerconf/internal/operation"
	"github.com/vk/brokerconf/internal/pipeline"
)

// Handler turns one operation into the first MODEL step of its execution.
type Handler func(op *operation.Operation) pipeline.Step

type key struct {
	resourceType string
	operation    string
}

// Handlers holds all the registered handlers.
type Handlers struct {
	all map[key]Handler
}

// New creates and initializes a new Handlers instance.
func New() *Handlers {
	return &Handlers{
		all: make(map[key]Handler),
	}
}

// RegisterHandler registers the handler of one operation on one resource
// type. An empty resource type is the subsystem root.
func (h *Handlers) RegisterHandler(resourceType, opName string, handler Handler) {
	k := key{resourceType: resourceType, operation: opName}
	if _, exists := h.all[k]; exists {
		panic(fmt.Sprintf("handler for operation '%s' on resource type '%s' already registered", opName, resourceType))
	}
	slog.Debug("Registering operation handler.", "resource_type", resourceType, "operation", opName)
	h.all[k] = handler
}

// Lookup finds the handler of an operation on a resource type.
func (h *Handlers) Lookup(resourceType, opName string) (Handler, bool) {
	handler, ok := h.all[key{resourceType: resourceType, operation: opName}]
	return handler, ok
}

// Operations lists the operations registered for a resource type, sorted.
func (h *Handlers) Operations(resourceType string) []string {
	var out []string
	for k := range h.all {
		if k.resourceType == resourceType {
			out = append(out, k.operation)
		}
	}
	sort.Strings(out)
	return out
}

// RegisterStandard registers add, remove, write-attribute,
// undefine-attribute and the read operations for a resource definition.
// The root resource only gets the attribute and read operations.
func (h *Handlers) RegisterStandard(def *Definition) {
	if def.Type != "" {
		h.RegisterHandler(def.Type, operation.Add, def.Add)
		h.RegisterHandler(def.Type, operation.Remove, def.Remove)
	}
	h.RegisterHandler(def.Type, operation.WriteAttribute, def.WriteAttribute)
	h.RegisterHandler(def.Type, operation.UndefineAttribute, def.UndefineAttribute)
	h.RegisterHandler(def.Type, operation.ReadResource, def.ReadResource)
	h.RegisterHandler(def.Type, operation.ReadAttribute, def.ReadAttribute)
	h.RegisterHandler(def.Type, operation.ReadChildrenNames, def.ReadChildrenNames)
}
