/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package logger

import (
	"io"
	"os"
	"time"

	"github.com/ankit10009/jira-cloud-api/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func New(cfg config.Config) zerolog.Logger {
	return NewWriter(cfg, os.Stdout)
}

// NewWriter builds the process logger on w and installs it as the global one.
func NewWriter(cfg config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.AppEnv == "dev" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Str("svc", "jira-staging").Logger()
	log.Logger = logger
	return logger
}
