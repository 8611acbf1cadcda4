// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/tomtom215/placesync/internal/engine"
	"github.com/tomtom215/placesync/internal/logging"
	"github.com/tomtom215/placesync/internal/supervisor"
	"github.com/tomtom215/placesync/internal/validation"
)

// busyRetryAfter is the Retry-After hint, in seconds, for lock contention.
const busyRetryAfter = 1

// errorStatus maps an engine error kind to an HTTP status and error code.
type errorStatus struct {
	status int
	code   string
}

var kindStatus = map[engine.ErrorKind]errorStatus{
	engine.KindInvalidArgument:   {http.StatusBadRequest, ErrCodeValidationFailed},
	engine.KindUnauthenticated:   {http.StatusUnauthorized, ErrCodeUnauthorized},
	engine.KindBusy:              {http.StatusServiceUnavailable, ErrCodeSyncBusy},
	engine.KindOffline:           {http.StatusServiceUnavailable, ErrCodeOffline},
	engine.KindRemoteTransport:   {http.StatusBadGateway, ErrCodeExternalServiceFail},
	engine.KindCorruptLocalState: {http.StatusInternalServerError, ErrCodeLocalStateCorrupt},
	engine.KindInternal:          {http.StatusInternalServerError, ErrCodeInternalError},
}

// writeEngineError writes err in the response envelope. Engine error kinds
// pick the status; anything else is a 500 whose message is not echoed.
func writeEngineError(rw *ResponseWriter, err error) {
	if errors.Is(err, supervisor.ErrNoSession) {
		rw.Error(http.StatusUnauthorized, ErrCodeNoSession, "no user is signed in")
		return
	}

	kind, ok := engine.KindOf(err)
	if !ok {
		logging.Ctx(rw.r.Context()).Error().Err(err).Msg("unclassified engine error")
		rw.InternalError("internal error")
		return
	}

	st := kindStatus[kind]
	details := map[string]interface{}{"kind": kind.String()}
	var engErr *engine.Error
	if errors.As(err, &engErr) && engErr.Op != "" {
		details["op"] = engErr.Op
	}
	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		for k, v := range verr.ToAPIError().Details {
			details[k] = v
		}
	}

	message := err.Error()
	switch kind {
	case engine.KindBusy:
		rw.w.Header().Set("Retry-After", strconv.Itoa(busyRetryAfter))
	case engine.KindCorruptLocalState, engine.KindInternal:
		logging.Ctx(rw.r.Context()).Error().Err(err).Str("kind", kind.String()).Msg("sync engine failure")
		message = "local sync state failure"
	case engine.KindRemoteTransport:
		logging.Ctx(rw.r.Context()).Warn().Err(err).Msg("remote store unavailable")
	}

	rw.ErrorWithDetails(st.status, st.code, message, details)
}
