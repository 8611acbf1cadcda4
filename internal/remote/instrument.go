// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package remote

import (
	"context"
	"time"

	"github.com/tomtom215/placesync/internal/metrics"
)

// Instrumented records latency and error metrics for every call to next.
type Instrumented struct {
	next Store
}

// Instrument wraps next with metrics.
func Instrument(next Store) *Instrumented {
	return &Instrumented{next: next}
}

// Get implements Store.
func (i *Instrumented) Get(ctx context.Context, c Collection, key string) (Document, error) {
	start := time.Now()
	doc, err := i.next.Get(ctx, c, key)
	metrics.RecordRemoteCall("get", string(c), time.Since(start), errorType(err))
	return doc, err
}

// Put implements Store.
func (i *Instrumented) Put(ctx context.Context, c Collection, key string, doc Document) error {
	start := time.Now()
	err := i.next.Put(ctx, c, key, doc)
	metrics.RecordRemoteCall("put", string(c), time.Since(start), errorType(err))
	return err
}

// Delete implements Store.
func (i *Instrumented) Delete(ctx context.Context, c Collection, key string) error {
	start := time.Now()
	err := i.next.Delete(ctx, c, key)
	metrics.RecordRemoteCall("delete", string(c), time.Since(start), errorType(err))
	return err
}

// Query implements Store.
func (i *Instrumented) Query(ctx context.Context, c Collection, filters ...Filter) ([]Document, error) {
	start := time.Now()
	docs, err := i.next.Query(ctx, c, filters...)
	metrics.RecordRemoteCall("query", string(c), time.Since(start), errorType(err))
	return docs, err
}
