package messaging

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/brokerconf/internal/registry"
	"github.com/vk/brokerconf/internal/transform"
)

// registerTransformers describes what each older model version lacks
// compared to the next newer one.
func registerTransformers(r *registry.Registry) {
	// 16.0.0 added the global client pools and the critical analyzer.
	r.Transforms.Register("15.0.0").
		Add(TypeRoot,
			transform.RejectIfPresent("global client thread pools are not supported",
				"global-client-thread-pool-max-size", "global-client-scheduled-thread-pool-max-size"),
			transform.RemoveAttributes("global-client-thread-pool-max-size", "global-client-scheduled-thread-pool-max-size"),
		).
		Add(TypeServer,
			transform.DiscardIfDefault(map[string]cty.Value{"critical-analyzer-enabled": cty.True}),
			transform.RemoveAttributes("critical-analyzer-enabled"),
		)

	// 15.0.0 added max-redelivery-delay and expression support for client-id.
	r.Transforms.Register("14.0.0").
		Add(TypeQueue,
			transform.DiscardIfDefault(map[string]cty.Value{"max-redelivery-delay": cty.NumberIntVal(10000)}),
			transform.RemoveAttributes("max-redelivery-delay"),
		).
		Add(TypeConnectionFactory, transform.RejectExpressions("client-id"))

	// 14.0.0 added JGroups discovery and expression support for queue filters.
	r.Transforms.Register("13.0.0").
		Add(TypeDiscoveryGroup,
			transform.RejectIfPresent("JGroups discovery is not supported", "jgroups-cluster"),
			transform.RemoveAttributes("jgroups-cluster"),
		).
		Add(TypeQueue, transform.RejectExpressions("filter"))

	// 13.0.0 added statistics and changed the journal file size default.
	r.Transforms.Register("12.0.0").
		Add(TypeServer,
			transform.InsertDefaults(map[string]cty.Value{"journal-file-size": cty.NumberIntVal(10485760)}),
			transform.DiscardIfDefault(map[string]cty.Value{"statistics-enabled": cty.False}),
			transform.RemoveAttributes("statistics-enabled"),
		)
}
