// Copyright 2026 The VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for VaultFS packages:
// channel operations with timeout safety valves so that a deadlocked
// finalizer or table hangs a test for seconds, not forever.
package testutil
