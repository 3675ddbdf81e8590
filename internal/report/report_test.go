package report

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netident/netident/internal/provider"
	"github.com/netident/netident/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeResolver answers by cascade head name, optionally with a per-source
// delay, and records which cascades it saw.
type fakeResolver struct {
	mu      sync.Mutex
	results map[string]*types.NetworkInfo
	errs    map[string]error
	delays  map[string]time.Duration
	calls   []string
}

func (f *fakeResolver) Resolve(ctx context.Context, providers []provider.Descriptor) (*types.NetworkInfo, error) {
	name := providers[0].Name

	f.mu.Lock()
	f.calls = append(f.calls, name)
	delay := f.delays[name]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if info, ok := f.results[name]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("no fixture for %s", name)
}

func testSources() Sources {
	descriptor := func(name string) []provider.Descriptor {
		return []provider.Descriptor{{Name: name, Endpoint: "http://example.test", Parse: provider.ParsePlainIP}}
	}
	return Sources{
		Geo:   descriptor("geo"),
		IPv4:  descriptor("ipv4"),
		IPv6:  descriptor("ipv6"),
		Trace: descriptor("trace"),
	}
}

func infoFixture(ip, source string) *types.NetworkInfo {
	info := types.NewNetworkInfo()
	info.IP = ip
	info.Source = source
	return info
}

func TestBuild_AllSourcesSucceed(t *testing.T) {
	resolver := &fakeResolver{
		results: map[string]*types.NetworkInfo{
			"geo":   infoFixture("198.51.100.7", "primary"),
			"ipv4":  infoFixture("198.51.100.7", "ipify-v4"),
			"ipv6":  infoFixture("2001:db8::1", "ipify-v6"),
			"trace": infoFixture("198.51.100.7", "cloudflare-trace"),
		},
	}

	aggregator := NewAggregator(resolver, testSources(), testLogger())
	rep := aggregator.Build(context.Background())

	if !rep.Complete {
		t.Error("report not marked complete after join")
	}
	for name, slot := range map[string]types.SourceResult{
		"geo": rep.Geo, "ipv4": rep.IPv4, "ipv6": rep.IPv6, "trace": rep.Trace,
	} {
		if !slot.OK() {
			t.Errorf("source %s not OK: %+v", name, slot)
		}
	}
	if len(resolver.calls) != 4 {
		t.Errorf("resolver called %d times, want 4", len(resolver.calls))
	}
}

func TestBuild_PartialFailureDoesNotBlockOthers(t *testing.T) {
	resolver := &fakeResolver{
		results: map[string]*types.NetworkInfo{
			"geo":   infoFixture("198.51.100.7", "primary"),
			"ipv4":  infoFixture("198.51.100.7", "ipify-v4"),
			"trace": infoFixture("198.51.100.7", "cloudflare-trace"),
		},
		errs: map[string]error{
			"ipv6": fmt.Errorf("all 1 providers failed: ipify-v6: no route"),
		},
	}

	aggregator := NewAggregator(resolver, testSources(), testLogger())
	rep := aggregator.Build(context.Background())

	if !rep.Complete {
		t.Error("report not marked complete despite one failed source")
	}
	if rep.IPv6.OK() {
		t.Error("ipv6 slot should carry the failure")
	}
	if rep.IPv6.Error == "" {
		t.Error("ipv6 slot missing its error string")
	}
	if rep.IPv6.Info != nil {
		t.Error("failed source must not carry partial data")
	}
	if !rep.Geo.OK() || !rep.IPv4.OK() || !rep.Trace.OK() {
		t.Error("healthy sources were affected by the failing one")
	}
}

func TestBuild_AllSourcesFail(t *testing.T) {
	resolver := &fakeResolver{
		errs: map[string]error{
			"geo":   fmt.Errorf("geo down"),
			"ipv4":  fmt.Errorf("ipv4 down"),
			"ipv6":  fmt.Errorf("ipv6 down"),
			"trace": fmt.Errorf("trace down"),
		},
	}

	aggregator := NewAggregator(resolver, testSources(), testLogger())
	rep := aggregator.Build(context.Background())

	// Even total failure completes the join
	if !rep.Complete {
		t.Error("report not marked complete on total failure")
	}
	for name, slot := range map[string]types.SourceResult{
		"geo": rep.Geo, "ipv4": rep.IPv4, "ipv6": rep.IPv6, "trace": rep.Trace,
	} {
		if slot.OK() {
			t.Errorf("source %s should have failed", name)
		}
	}
}

func TestBuild_SourcesRunConcurrently(t *testing.T) {
	// Four sources at 50ms each take ~50ms concurrently, ~200ms serially
	delay := 50 * time.Millisecond
	resolver := &fakeResolver{
		results: map[string]*types.NetworkInfo{
			"geo":   infoFixture("198.51.100.7", "primary"),
			"ipv4":  infoFixture("198.51.100.7", "ipify-v4"),
			"ipv6":  infoFixture("2001:db8::1", "ipify-v6"),
			"trace": infoFixture("198.51.100.7", "cloudflare-trace"),
		},
		delays: map[string]time.Duration{
			"geo": delay, "ipv4": delay, "ipv6": delay, "trace": delay,
		},
	}

	aggregator := NewAggregator(resolver, testSources(), testLogger())
	start := time.Now()
	rep := aggregator.Build(context.Background())
	elapsed := time.Since(start)

	if !rep.Complete {
		t.Fatal("report not complete")
	}
	if elapsed > 3*delay {
		t.Errorf("Build took %v, sources appear to run serially", elapsed)
	}
}

func TestDefaultSources(t *testing.T) {
	sources := DefaultSources()
	if len(sources.Geo) < 2 {
		t.Error("geo cascade should have multiple providers")
	}
	if len(sources.IPv4) != 1 || len(sources.IPv6) != 1 || len(sources.Trace) != 1 {
		t.Error("address and trace sources should be single-provider")
	}
}
