// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package network

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/placesync/internal/logging"
)

// ProberConfig configures a Prober.
type ProberConfig struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
}

// Prober derives the online signal by polling a health URL. Any response
// below 500 counts as online; errors and 5xx count as offline. It embeds a
// Switch, so it is itself a Monitor, and implements suture.Service.
type Prober struct {
	*Switch
	url      string
	interval time.Duration
	client   *http.Client
}

// NewProber creates a prober that starts in the offline state until the
// first probe completes.
func NewProber(cfg ProberConfig) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Prober{
		Switch:   NewSwitch(false),
		url:      cfg.URL,
		interval: cfg.Interval,
		client:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Serve probes until ctx is cancelled.
func (p *Prober) Serve(ctx context.Context) error {
	logging.Info().Str("url", p.url).Dur("interval", p.interval).Msg("network prober started")

	p.ProbeOnce(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("network prober stopped")
			return ctx.Err()
		case <-ticker.C:
			p.ProbeOnce(ctx)
		}
	}
}

// ProbeOnce performs one probe and updates the state.
func (p *Prober) ProbeOnce(ctx context.Context) bool {
	online := p.probe(ctx)
	p.Set(online)
	return online
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		logging.Warn().Err(err).Str("url", p.url).Msg("invalid probe request")
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug().Err(err).Msg("network probe failed")
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// String implements fmt.Stringer for supervisor logging.
func (p *Prober) String() string {
	return "network-prober"
}
