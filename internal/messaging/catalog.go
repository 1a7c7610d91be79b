package messaging

import (
	"github.com/Masterminds/semver/v3"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/catalog"
	"github.com/vk/brokerconf/internal/value"
)

// ModelVersion is the version of the management model this module
// describes.
const ModelVersion = "16.0.0"

// Subsystem names the subsystem in the persisted model file.
const Subsystem = "messaging"

// Resource types.
const (
	TypeRoot              = ""
	TypeServer            = "server"
	TypeQueue             = "queue"
	TypeConnector         = "connector"
	TypeDiscoveryGroup    = "discovery-group"
	TypeConnectionFactory = "connection-factory"
)

var (
	v13 = semver.MustParse("13.0.0")
	v14 = semver.MustParse("14.0.0")
	v15 = semver.MustParse("15.0.0")
	v16 = semver.MustParse("16.0.0")
)

func registerCatalog(c *catalog.Catalog) {
	c.MustRegister(TypeRoot,
		catalog.AttributeDescriptor{
			Name:       "global-client-thread-pool-max-size",
			Kind:       value.Int,
			Validators: []catalog.Validator{catalog.AtLeast(1)},
			Mutability: catalog.RestartAllServices,
			Since:      v16,
		},
		catalog.AttributeDescriptor{
			Name:       "global-client-scheduled-thread-pool-max-size",
			Kind:       value.Int,
			Validators: []catalog.Validator{catalog.AtLeast(1)},
			Mutability: catalog.RestartAllServices,
			Since:      v16,
		},
	)

	c.MustRegister(TypeServer,
		catalog.AttributeDescriptor{
			Name:       "persistence-enabled",
			Kind:       value.Bool,
			Default:    catalog.Default(cty.True),
			Mutability: catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:       "journal-file-size",
			Kind:       value.Long,
			Default:    catalog.Default(cty.NumberIntVal(10485760)),
			Validators: []catalog.Validator{catalog.AtLeast(1024)},
			Mutability: catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:       "statistics-enabled",
			Kind:       value.Bool,
			Default:    catalog.Default(cty.False),
			Mutability: catalog.RestartNone,
			Since:      v13,
		},
		catalog.AttributeDescriptor{
			Name:       "security-enabled",
			Kind:       value.Bool,
			Default:    catalog.Default(cty.True),
			Mutability: catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:            "cluster-password",
			Kind:            value.String,
			AllowExpression: true,
			Mutability:      catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:       "critical-analyzer-enabled",
			Kind:       value.Bool,
			Default:    catalog.Default(cty.True),
			Mutability: catalog.RestartAllServices,
			Since:      v16,
		},
		catalog.AttributeDescriptor{Name: "started", Kind: value.Bool, Mutability: catalog.StorageRuntime},
		catalog.AttributeDescriptor{Name: "version", Kind: value.String, Mutability: catalog.StorageRuntime},
	)

	c.MustRegister(TypeQueue,
		catalog.AttributeDescriptor{
			Name:            "address",
			Kind:            value.String,
			Required:        true,
			Validators:      []catalog.Validator{catalog.NotEmpty()},
			AllowExpression: true,
			Mutability:      catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:       "durable",
			Kind:       value.Bool,
			Default:    catalog.Default(cty.True),
			Mutability: catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:            "filter",
			Kind:            value.String,
			AllowExpression: true,
			Mutability:      catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:       "redelivery-delay",
			Kind:       value.Long,
			Default:    catalog.Default(cty.NumberIntVal(0)),
			Validators: []catalog.Validator{catalog.AtLeast(0)},
			Mutability: catalog.RestartNone,
		},
		catalog.AttributeDescriptor{
			Name:       "max-redelivery-delay",
			Kind:       value.Long,
			Default:    catalog.Default(cty.NumberIntVal(10000)),
			Validators: []catalog.Validator{catalog.AtLeast(0)},
			Mutability: catalog.RestartNone,
			Since:      v15,
		},
		catalog.AttributeDescriptor{Name: "message-count", Kind: value.Long, Mutability: catalog.StorageRuntime},
		catalog.AttributeDescriptor{Name: "paused", Kind: value.Bool, Mutability: catalog.StorageRuntime},
		catalog.AttributeDescriptor{Name: "consumer-count", Kind: value.Int, Mutability: catalog.StorageRuntime},
	)

	c.MustRegister(TypeConnector,
		catalog.AttributeDescriptor{
			Name:            "socket-binding",
			Kind:            value.String,
			Required:        true,
			AllowExpression: true,
			Mutability:      catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:        "params",
			Kind:        value.Object,
			ElementType: cty.String,
			Mutability:  catalog.RestartAllServices,
		},
	)

	c.MustRegister(TypeDiscoveryGroup,
		catalog.AttributeDescriptor{
			Name:       "refresh-timeout",
			Kind:       value.Long,
			Default:    catalog.Default(cty.NumberIntVal(10000)),
			Validators: []catalog.Validator{catalog.AtLeast(0)},
			Mutability: catalog.RestartNone,
		},
		catalog.AttributeDescriptor{
			Name:            "jgroups-cluster",
			Kind:            value.String,
			AllowExpression: true,
			Mutability:      catalog.RestartAllServices,
			Since:           v14,
		},
	)

	c.MustRegister(TypeConnectionFactory,
		catalog.AttributeDescriptor{
			Name:        "entries",
			Kind:        value.List,
			ElementType: cty.String,
			Required:    true,
			Validators:  []catalog.Validator{catalog.NotEmpty()},
			Mutability:  catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:         "connectors",
			Kind:         value.List,
			ElementType:  cty.String,
			Required:     true,
			Alternatives: []string{"discovery-group"},
			Mutability:   catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:         "discovery-group",
			Kind:         value.String,
			Required:     true,
			Alternatives: []string{"connectors"},
			Mutability:   catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:       "ha",
			Kind:       value.Bool,
			Default:    catalog.Default(cty.False),
			Mutability: catalog.RestartAllServices,
		},
		catalog.AttributeDescriptor{
			Name:       "call-timeout",
			Kind:       value.Long,
			Default:    catalog.Default(cty.NumberIntVal(30000)),
			Validators: []catalog.Validator{catalog.AtLeast(0)},
			Mutability: catalog.RestartNone,
		},
		catalog.AttributeDescriptor{
			Name:            "client-id",
			Kind:            value.String,
			AllowExpression: true,
			Mutability:      catalog.RestartNone,
		},
	)
}
