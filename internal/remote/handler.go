// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package remote

import (
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/placesync/internal/logging"
)

// maxDocumentSize bounds PUT bodies.
const maxDocumentSize = 1 << 20

// NewHandler serves s over the protocol HTTPStore speaks. When token is
// non-empty, requests must carry it as a bearer token. It lets a process
// running the Memory store act as the backend for other clients.
func NewHandler(s Store, token string) http.Handler {
	r := chi.NewRouter()
	if token != "" {
		r.Use(requireToken(token))
	}
	r.Route("/v1/collections/{collection}/documents", func(r chi.Router) {
		r.Get("/", queryHandler(s))
		r.Get("/{key}", getHandler(s))
		r.Put("/{key}", putHandler(s))
		r.Delete("/{key}", deleteHandler(s))
	})
	return r
}

func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+token {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func collectionParam(w http.ResponseWriter, r *http.Request) (Collection, bool) {
	c := Collection(chi.URLParam(r, "collection"))
	if !c.Valid() {
		writeError(w, http.StatusNotFound, "unknown collection")
		return "", false
	}
	return c, true
}

// keyParam returns the decoded document key. chi matches on RawPath when the
// request has one, so an escaped '/' in a key arrives still escaped.
func keyParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key, true
	}
	decoded, err := url.PathUnescape(key)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key")
		return "", false
	}
	return decoded, true
}

func getHandler(s Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := collectionParam(w, r)
		if !ok {
			return
		}
		key, ok := keyParam(w, r)
		if !ok {
			return
		}
		doc, err := s.Get(r.Context(), c, key)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func putHandler(s Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := collectionParam(w, r)
		if !ok {
			return
		}
		key, ok := keyParam(w, r)
		if !ok {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize+1))
		if err != nil || len(body) > maxDocumentSize {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		var doc Document
		if err := json.Unmarshal(body, &doc); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON document")
			return
		}
		if err := s.Put(r.Context(), c, key, doc); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteHandler(s Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := collectionParam(w, r)
		if !ok {
			return
		}
		key, ok := keyParam(w, r)
		if !ok {
			return
		}
		if err := s.Delete(r.Context(), c, key); err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func queryHandler(s Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := collectionParam(w, r)
		if !ok {
			return
		}
		var filters []Filter
		for field, values := range r.URL.Query() {
			for _, raw := range values {
				var v any
				if err := json.Unmarshal([]byte(raw), &v); err != nil {
					v = raw
				}
				filters = append(filters, Where(field, v))
			}
		}
		docs, err := s.Query(r.Context(), c, filters...)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		if docs == nil {
			docs = []Document{}
		}
		writeJSON(w, http.StatusOK, queryResponse{Documents: docs})
	}
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrTransport):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("failed to write remote handler response")
	}
}
