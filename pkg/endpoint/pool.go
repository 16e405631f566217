// Package endpoint manages the ordered pool of upstream issuance endpoints
// and the rotation policy used to spread attempts across them.
package endpoint

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var endpointDispatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tokenforge_endpoint_dispatches_total",
	Help: "Total issuance request dispatches by endpoint",
}, []string{"endpoint"})

// Endpoint is one upstream service instance able to issue tokens.
// Endpoints are immutable and part of a fixed ordered pool built once per run.
type Endpoint struct {
	// Name is the identity label used in logs, metrics, and results.
	Name string

	// BaseURL is the issuance URL without credentials,
	// e.g. "https://issuer-1.example.com/v1/auth".
	BaseURL string
}

// RequestURL builds the per-account issuance URL with encoded credentials.
func (e Endpoint) RequestURL(uid, password string) string {
	q := url.Values{}
	q.Set("uid", uid)
	q.Set("password", password)

	sep := "?"
	if strings.Contains(e.BaseURL, "?") {
		sep = "&"
	}
	return e.BaseURL + sep + q.Encode()
}

// Pool is an immutable ordered set of endpoints with a shared round-robin
// cursor and per-endpoint dispatch counters. All methods are safe for
// concurrent use; no endpoint is ever removed from the pool.
type Pool struct {
	endpoints  []Endpoint
	position   map[string]int
	cursor     atomic.Uint64
	dispatches []atomic.Int64
}

// NewPool creates a pool from an ordered endpoint list.
func NewPool(endpoints []Endpoint) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("endpoint pool requires at least one endpoint")
	}

	position := make(map[string]int, len(endpoints))
	for i, ep := range endpoints {
		if ep.Name == "" || ep.BaseURL == "" {
			return nil, fmt.Errorf("endpoint %d: name and base URL are required", i)
		}
		if _, dup := position[ep.Name]; dup {
			return nil, fmt.Errorf("duplicate endpoint name %q", ep.Name)
		}
		position[ep.Name] = i
	}

	return &Pool{
		endpoints:  append([]Endpoint(nil), endpoints...),
		position:   position,
		dispatches: make([]atomic.Int64, len(endpoints)),
	}, nil
}

// Size returns the number of endpoints in the pool.
func (p *Pool) Size() int {
	return len(p.endpoints)
}

// Select picks the endpoint for the next attempt. With prev == nil (first
// attempt for an account) it advances the shared round-robin cursor so load
// spreads evenly across endpoints. With prev set (retry after a failure) it
// returns the next endpoint in ring order relative to prev, so consecutive
// failures exhaust all endpoints before repeating one.
func (p *Pool) Select(prev *Endpoint) Endpoint {
	if prev == nil {
		i := int((p.cursor.Add(1) - 1) % uint64(len(p.endpoints)))
		return p.endpoints[i]
	}
	i := (p.position[prev.Name] + 1) % len(p.endpoints)
	return p.endpoints[i]
}

// RecordDispatch increments the attempt counter for ep. Counters are
// monotonically increasing and never reset mid-run.
func (p *Pool) RecordDispatch(ep Endpoint) {
	if i, ok := p.position[ep.Name]; ok {
		p.dispatches[i].Add(1)
	}
	endpointDispatchesTotal.WithLabelValues(ep.Name).Inc()
}

// Dispatches returns a snapshot of per-endpoint attempt counts.
func (p *Pool) Dispatches() map[string]int64 {
	out := make(map[string]int64, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[ep.Name] = p.dispatches[i].Load()
	}
	return out
}
