// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

// Package remote defines the authoritative document store the sync engine
// reconciles against, plus three implementations: an in-process Memory store
// (with fault injection for tests and offline demos), an HTTP JSON client, and
// a circuit breaker decorator.
//
// Every call is request/response and individually fallible. Callers tell a
// missing document (ErrNotFound) apart from a failed call (ErrTransport) with
// errors.Is.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// Collection names a remote document collection.
type Collection string

const (
	// CollectionSavedMarks is keyed by "<userID>_<entityID>".
	CollectionSavedMarks Collection = "saved_marks"

	// CollectionPlannedVisits is keyed by visit id.
	CollectionPlannedVisits Collection = "planned_visits"

	// CollectionVisitHistory is keyed by visit id.
	CollectionVisitHistory Collection = "visit_history"
)

// Valid reports whether c is a known collection.
func (c Collection) Valid() bool {
	switch c {
	case CollectionSavedMarks, CollectionPlannedVisits, CollectionVisitHistory:
		return true
	default:
		return false
	}
}

// Document is a schemaless remote document.
type Document = map[string]any

// Filter is an equality filter on one top-level document field.
type Filter struct {
	Field string
	Value any
}

// Where builds an equality filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Errors
var (
	// ErrNotFound means the call succeeded and the document does not exist.
	ErrNotFound = errors.New("remote document not found")

	// ErrTransport means the call itself failed (network, server, timeout).
	ErrTransport = errors.New("remote transport error")
)

// TransportError wraps cause so that it matches both ErrTransport and cause.
func TransportError(op string, cause error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, cause)
}

// IsNotFound reports whether err is a not-found outcome.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	return errors.Is(err, ErrTransport)
}

// Store is the remote document store contract.
type Store interface {
	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, c Collection, key string) (Document, error)

	// Put creates or overwrites the document.
	Put(ctx context.Context, c Collection, key string, doc Document) error

	// Delete removes the document. Deleting a missing document returns ErrNotFound.
	Delete(ctx context.Context, c Collection, key string) error

	// Query returns every document whose fields equal all filters.
	Query(ctx context.Context, c Collection, filters ...Filter) ([]Document, error)
}

func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case IsNotFound(err):
		return "not_found"
	default:
		return "transport"
	}
}
