package service

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/vk/brokerconf/internal/ctxlog"
	"github.com/vk/brokerconf/internal/failure"
)

// InstallPlan installs services tier by tier. The services of one tier are
// installed concurrently and every tier waits for the previous one to be up.
// A name that is already installed is reported as an inconsistency and
// reused. On failure everything the plan installed is removed again and the
// first error is returned.
func (c *Coordinator) InstallPlan(ctx context.Context, tiers ...[]Descriptor) ([]Descriptor, error) {
	logger := ctxlog.FromContext(ctx)

	var (
		mu        sync.Mutex
		installed []Descriptor
	)
	for i, tier := range tiers {
		if len(tier) == 0 {
			continue
		}
		logger.Debug("Installing service tier.", "tier", i, "services", len(tier))
		g, gctx := errgroup.WithContext(ctx)
		for _, d := range tier {
			if _, exists := c.container.Lookup(d.Name); exists {
				logger.Warn("Service is already installed; reusing it.",
					"service", d.Name, "kind", failure.ConfigurationInconsistency)
				continue
			}
			g.Go(func() error {
				if _, err := c.Install(gctx, d); err != nil {
					return err
				}
				mu.Lock()
				installed = append(installed, d)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			cleanup := context.WithoutCancel(ctx)
			for _, d := range removalOrder(installed) {
				if rmErr := c.Remove(cleanup, d.Name); rmErr != nil {
					logger.Error("Failed to remove service after a failed startup plan.", "service", d.Name, "error", rmErr)
				}
			}
			return nil, err
		}
	}
	return installed, nil
}
