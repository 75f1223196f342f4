// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for privsep.
//
// Configuration is loaded from a single file specified by either the
// PRIVSEP_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search: with neither set, every role runs on
// [Default].
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. Production is stricter: logs are
// always JSON and a zero shutdown delay is rejected by [Config.Validate].
//
// Durations are written the way time.ParseDuration reads them
// ("500ms", "5s").
//
// This package depends on no other privsep packages.
package config
