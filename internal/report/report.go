// Package report fans out the independent lookup sources, waits for all of
// them to settle, and assembles the aggregated network identity report.
package report

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/netident/netident/internal/provider"
	"github.com/netident/netident/internal/types"
)

// CascadeResolver is the subset of the provider resolver the aggregator
// needs.
type CascadeResolver interface {
	Resolve(ctx context.Context, providers []provider.Descriptor) (*types.NetworkInfo, error)
}

// Sources holds the cascade for each of the four report slots. The geo
// cascade is multi-provider; the others are single-provider lists.
type Sources struct {
	Geo   []provider.Descriptor
	IPv4  []provider.Descriptor
	IPv6  []provider.Descriptor
	Trace []provider.Descriptor
}

// DefaultSources returns the built-in source configuration.
func DefaultSources() Sources {
	return Sources{
		Geo:   provider.GeoCascade(),
		IPv4:  provider.IPv4Lookup(),
		IPv6:  provider.IPv6Lookup(),
		Trace: provider.TraceLookup(),
	}
}

// Aggregator builds network reports by running every source concurrently.
type Aggregator struct {
	resolver CascadeResolver
	sources  Sources
	logger   *logrus.Logger
}

// NewAggregator creates a report aggregator over the given resolver and
// source configuration.
func NewAggregator(resolver CascadeResolver, sources Sources, logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		resolver: resolver,
		sources:  sources,
		logger:   logger,
	}
}

// Build starts all four source cascades concurrently and waits for every
// one of them to settle. A source that exhausts its cascade records its
// error in its own slot; it never cancels or blocks the other sources.
// Complete is set only after the join, so a consumer observing it can rely
// on every slot being final.
func (a *Aggregator) Build(ctx context.Context) *types.NetworkReport {
	start := time.Now()
	rep := &types.NetworkReport{}

	var g errgroup.Group
	g.Go(a.run(ctx, "geo", a.sources.Geo, &rep.Geo))
	g.Go(a.run(ctx, "ipv4", a.sources.IPv4, &rep.IPv4))
	g.Go(a.run(ctx, "ipv6", a.sources.IPv6, &rep.IPv6))
	g.Go(a.run(ctx, "trace", a.sources.Trace, &rep.Trace))

	// Sources report failures through their own slot, never through the
	// group, so Wait cannot short-circuit.
	_ = g.Wait()

	rep.Complete = true
	rep.DurationMS = time.Since(start).Milliseconds()
	return rep
}

// run returns the worker for one source. Each worker writes only its own
// slot of the report.
func (a *Aggregator) run(ctx context.Context, name string, cascade []provider.Descriptor, slot *types.SourceResult) func() error {
	return func() error {
		info, err := a.resolver.Resolve(ctx, cascade)
		if err != nil {
			a.logger.WithField("source", name).Warnf("source failed: %v", err)
			slot.Error = err.Error()
			return nil
		}
		slot.Info = info
		return nil
	}
}
