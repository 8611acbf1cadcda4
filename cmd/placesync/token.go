// Placesync - Offline-Tolerant Place Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/placesync

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tomtom215/placesync/internal/auth"
	"github.com/tomtom215/placesync/internal/config"
)

var errNoJWTSecret = errors.New("auth.jwt_secret is not set")

// issueToken writes a bearer token for userID to w.
func issueToken(cfg *config.Config, userID string, w io.Writer) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("usage: placesync token <user-id>")
	}
	if cfg.Auth.JWTSecret == "" {
		return errNoJWTSecret
	}
	m, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("create JWT manager: %w", err)
	}
	token, err := m.GenerateToken(userID)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
