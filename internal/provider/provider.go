// Package provider implements the ordered fallback cascade over third-party
// network-identity endpoints: providers are tried in list order and the
// first successfully parsed response wins.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netident/netident/internal/types"
)

// maxBodySize caps how much of a provider response is read. Lookup
// payloads are small; anything larger is malformed.
const maxBodySize = 1 << 20

// ParseFunc turns a raw provider response body into a normalized result.
// It must return an error for any malformed or unexpected shape, including
// provider-specific "status not ok" sentinel fields.
type ParseFunc func(body []byte) (*types.NetworkInfo, error)

// Descriptor describes one data source in a cascade: a display name, an
// endpoint URL, and the parser for its response format. List order is
// priority order.
type Descriptor struct {
	Name     string
	Endpoint string
	Parse    ParseFunc
}

// AttemptError records a single failed provider attempt.
type AttemptError struct {
	Provider string
	Err      error
}

func (a AttemptError) Error() string {
	return fmt.Sprintf("%s: %v", a.Provider, a.Err)
}

func (a AttemptError) Unwrap() error {
	return a.Err
}

// CascadeError is the terminal failure returned when every provider in a
// cascade has been tried and failed. It carries one attempt error per
// provider, in cascade order.
type CascadeError struct {
	Attempts []AttemptError
}

func (e *CascadeError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Error())
	}
	return fmt.Sprintf("all %d providers failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// Resolver runs provider cascades over a shared HTTP client.
type Resolver struct {
	client    *http.Client
	logger    *logrus.Logger
	userAgent string
}

// NewResolver creates a cascade resolver. A nil client falls back to
// http.DefaultClient.
func NewResolver(client *http.Client, userAgent string, logger *logrus.Logger) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		client:    client,
		logger:    logger,
		userAgent: userAgent,
	}
}

// Resolve tries each provider in order until one yields a parsed result.
// On success it stops immediately; no providers past the winner are
// contacted and the result is tagged with the winning provider's name.
// Transport errors, non-2xx statuses, and parse failures all advance to
// the next provider without retrying. When every provider fails the
// returned error is a *CascadeError.
func (r *Resolver) Resolve(ctx context.Context, providers []Descriptor) (*types.NetworkInfo, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	cascadeErr := &CascadeError{}
	for _, d := range providers {
		info, err := r.attempt(ctx, d)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"provider": d.Name,
				"endpoint": d.Endpoint,
			}).Debugf("provider attempt failed: %v", err)
			cascadeErr.Attempts = append(cascadeErr.Attempts, AttemptError{Provider: d.Name, Err: err})
			continue
		}
		info.Source = d.Name
		info.Normalize()
		return info, nil
	}

	return nil, cascadeErr
}

// attempt issues a single request to one provider and parses the response.
func (r *Resolver) attempt(ctx context.Context, d Descriptor) (*types.NetworkInfo, error) {
	endpoint, err := cacheBust(d.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	info, err := d.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("parser returned no result")
	}
	return info, nil
}

// cacheBust appends the current timestamp as a query parameter so
// intermediaries cannot serve a stale lookup.
func cacheBust(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(time.Now().UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
