/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/ankit10009/jira-cloud-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriter_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(config.Config{AppEnv: "prod", LogLevel: "warn"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Str("issue_key", "ABC-1").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "ABC-1", entry["issue_key"])
	assert.Equal(t, "shown", entry["message"])
}

func TestNewWriter_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(config.Config{AppEnv: "dev", LogLevel: "chatty"}, &buf)

	log.Debug().Msg("debug")
	log.Info().Msg("info line")
	assert.NotContains(t, buf.String(), "debug")
	assert.Contains(t, buf.String(), "info line")
}
