// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package oplog

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/placesync/internal/models"
)

// Kind is the closed set of operation kinds.
type Kind int

const (
	KindToggleSave Kind = iota + 1
	KindScheduleVisit
	KindUpdateVisit
	KindCompleteVisit
	KindDeleteVisit
	KindAddReview
)

var kindNames = [...]string{
	KindToggleSave:    "toggle-save",
	KindScheduleVisit: "schedule-visit",
	KindUpdateVisit:   "update-visit",
	KindCompleteVisit: "complete-visit",
	KindDeleteVisit:   "delete-visit",
	KindAddReview:     "add-review",
}

// AllKinds returns every kind in declaration order.
func AllKinds() []Kind {
	return []Kind{
		KindToggleSave,
		KindScheduleVisit,
		KindUpdateVisit,
		KindCompleteVisit,
		KindDeleteVisit,
		KindAddReview,
	}
}

// Valid reports whether k is a declared kind.
func (k Kind) Valid() bool {
	return k >= KindToggleSave && k <= KindAddReview
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds() {
		if kindNames[k] == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid operation kind %d", int(k))
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Payload is implemented only by the payload types in this package. Each
// carries exactly what its replay needs.
type Payload interface {
	Kind() Kind
	Target() string
	isPayload()
}

// ToggleSave sets the saved state of an entity to Saved.
type ToggleSave struct {
	Mark  models.SavedMark `json:"mark"`
	Saved bool             `json:"saved"`
}

func (p *ToggleSave) Kind() Kind     { return KindToggleSave }
func (p *ToggleSave) Target() string { return p.Mark.EntityID }
func (*ToggleSave) isPayload()       {}

// ScheduleVisit creates a planned visit. EnsureSaved is the saved mark that
// was auto-created alongside it, if any.
type ScheduleVisit struct {
	Visit       models.PlannedVisit `json:"visit"`
	EnsureSaved *models.SavedMark   `json:"ensureSaved,omitempty"`
}

func (p *ScheduleVisit) Kind() Kind     { return KindScheduleVisit }
func (p *ScheduleVisit) Target() string { return p.Visit.VisitID }
func (*ScheduleVisit) isPayload()       {}

// UpdateVisit overwrites a planned visit with its updated form.
type UpdateVisit struct {
	Visit models.PlannedVisit `json:"visit"`
}

func (p *UpdateVisit) Kind() Kind     { return KindUpdateVisit }
func (p *UpdateVisit) Target() string { return p.Visit.VisitID }
func (*UpdateVisit) isPayload()       {}

// CompleteVisit removes the planned visit and writes its history record.
type CompleteVisit struct {
	History     models.VisitHistory `json:"history"`
	EnsureSaved *models.SavedMark   `json:"ensureSaved,omitempty"`
}

func (p *CompleteVisit) Kind() Kind     { return KindCompleteVisit }
func (p *CompleteVisit) Target() string { return p.History.VisitID }
func (*CompleteVisit) isPayload()       {}

// DeleteVisit removes a planned visit.
type DeleteVisit struct {
	VisitID  string `json:"visitId"`
	EntityID string `json:"entityId"`
}

func (p *DeleteVisit) Kind() Kind     { return KindDeleteVisit }
func (p *DeleteVisit) Target() string { return p.VisitID }
func (*DeleteVisit) isPayload()       {}

// AddReview writes the reviewed history record. RemovePlanned is set when
// the review completed a still-planned visit.
type AddReview struct {
	History       models.VisitHistory `json:"history"`
	RemovePlanned bool                `json:"removePlanned,omitempty"`
	EnsureSaved   *models.SavedMark   `json:"ensureSaved,omitempty"`
}

func (p *AddReview) Kind() Kind     { return KindAddReview }
func (p *AddReview) Target() string { return p.History.VisitID }
func (*AddReview) isPayload()       {}

// entityOf returns the entity a payload touches.
func entityOf(p Payload) string {
	switch v := p.(type) {
	case *ToggleSave:
		return v.Mark.EntityID
	case *ScheduleVisit:
		return v.Visit.EntityID
	case *UpdateVisit:
		return v.Visit.EntityID
	case *CompleteVisit:
		return v.History.EntityID
	case *DeleteVisit:
		return v.EntityID
	case *AddReview:
		return v.History.EntityID
	default:
		return ""
	}
}

// newPayload returns an empty payload of kind k for decoding.
func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindToggleSave:
		return &ToggleSave{}, nil
	case KindScheduleVisit:
		return &ScheduleVisit{}, nil
	case KindUpdateVisit:
		return &UpdateVisit{}, nil
	case KindCompleteVisit:
		return &CompleteVisit{}, nil
	case KindDeleteVisit:
		return &DeleteVisit{}, nil
	case KindAddReview:
		return &AddReview{}, nil
	default:
		return nil, fmt.Errorf("invalid operation kind %d", int(k))
	}
}

// Operation is a pending mutation not yet confirmed by the remote store.
type Operation struct {
	ID            string
	Kind          Kind
	Target        string
	Payload       Payload
	EnqueuedAt    time.Time
	RetryCount    int
	LastError     string
	LastAttemptAt time.Time

	// seq preserves insertion order across restarts.
	seq uint64
}

type operationJSON struct {
	ID            string          `json:"id"`
	Kind          Kind            `json:"kind"`
	Target        string          `json:"target"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	RetryCount    int             `json:"retryCount"`
	LastError     string          `json:"lastError,omitempty"`
	LastAttemptAt time.Time       `json:"lastAttemptAt,omitempty"`
	Seq           uint64          `json:"seq"`
}

// MarshalJSON encodes the operation with its kind as the payload discriminator.
func (o *Operation) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(o.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", o.Kind, err)
	}
	return json.Marshal(operationJSON{
		ID:            o.ID,
		Kind:          o.Kind,
		Target:        o.Target,
		Payload:       payload,
		EnqueuedAt:    o.EnqueuedAt,
		RetryCount:    o.RetryCount,
		LastError:     o.LastError,
		LastAttemptAt: o.LastAttemptAt,
		Seq:           o.seq,
	})
}

// UnmarshalJSON decodes the payload into the concrete type named by kind.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var raw operationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := newPayload(raw.Kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw.Payload, payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", raw.Kind, err)
	}
	if payload.Target() == "" || payload.Target() != raw.Target {
		return fmt.Errorf("operation %s target mismatch: %q vs %q", raw.ID, raw.Target, payload.Target())
	}
	*o = Operation{
		ID:            raw.ID,
		Kind:          raw.Kind,
		Target:        raw.Target,
		Payload:       payload,
		EnqueuedAt:    raw.EnqueuedAt,
		RetryCount:    raw.RetryCount,
		LastError:     raw.LastError,
		LastAttemptAt: raw.LastAttemptAt,
		seq:           raw.Seq,
	}
	return nil
}

// clone returns a copy safe to hand to callers. Payloads are treated as
// immutable once appended, so they are shared.
func (o *Operation) clone() *Operation {
	c := *o
	return &c
}
