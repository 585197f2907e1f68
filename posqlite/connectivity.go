// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posqlite

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Connectivity is an online/offline signal. Changes delivers the new state on every
// transition; a slow reader only sees the latest state.
type Connectivity interface {
	Online() bool
	Changes() <-chan bool
}

// ManualConnectivity is driven by the caller (the UI's network callback, or tests)
type ManualConnectivity struct {
	mu      sync.Mutex
	online  bool
	changes chan bool
}

// NewManualConnectivity returns a signal in the given initial state
func NewManualConnectivity(online bool) *ManualConnectivity {
	return &ManualConnectivity{online: online, changes: make(chan bool, 1)}
}

func (c *ManualConnectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *ManualConnectivity) Changes() <-chan bool { return c.changes }

// SetOnline records the state and notifies on a transition
func (c *ManualConnectivity) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online == online {
		return
	}
	c.online = online
	publishLatest(c.changes, online)
}

// publishLatest replaces any unread value in a 1-slot channel
func publishLatest(ch chan bool, v bool) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// ProbeConnectivity polls the server's GET /health endpoint
type ProbeConnectivity struct {
	URL      string
	Interval time.Duration
	HTTP     *http.Client

	mu      sync.Mutex
	online  bool
	changes chan bool
	logger  *slog.Logger
}

// NewProbeConnectivity probes baseURL + "/health" every interval
func NewProbeConnectivity(baseURL string, interval time.Duration, logger *slog.Logger) *ProbeConnectivity {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProbeConnectivity{
		URL:      strings.TrimRight(baseURL, "/") + "/health",
		Interval: interval,
		HTTP:     &http.Client{Timeout: 5 * time.Second},
		changes:  make(chan bool, 1),
		logger:   logger,
	}
}

func (p *ProbeConnectivity) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

func (p *ProbeConnectivity) Changes() <-chan bool { return p.changes }

// Run probes until ctx is done
func (p *ProbeConnectivity) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		p.Probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Probe performs one health check and publishes a transition if the state changed
func (p *ProbeConnectivity) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	p.mu.Lock()
	changed := p.online != online
	p.online = online
	if changed {
		publishLatest(p.changes, online)
	}
	p.mu.Unlock()
	if changed {
		p.logger.Info("Connectivity changed", "online", online)
	}
	return online
}

func (p *ProbeConnectivity) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
