// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

// Package lock provides the run lock that keeps a single ETL writer active.
//
// Every lease carries a random token and expires after its TTL, so a
// crashed run frees the lock on its own. Release only removes the key when
// it still holds the caller's token.
package lock
