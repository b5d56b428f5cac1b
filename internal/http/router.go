/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"time"

	"github.com/ankit10009/jira-cloud-api/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NewRouter wires the API. jobs and conn may be nil, in which case their
// routes are not registered.
func NewRouter(cfg config.Config, log zerolog.Logger, svc service, jobs jobRunner, conn connectionChecker) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLog(log))

	h := NewHandlers(cfg, log, svc, jobs, conn)

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api/jira/issues")
	api.GET("/yesterday/:issueType", h.Yesterday)
	api.POST("/sync/:issueType", h.Sync)
	api.GET("/stored/:issueType", h.Stored)
	api.GET("/search", h.Search)
	api.GET("/key/:issueKey", h.ByKey)
	api.GET("/stats", h.Stats)

	if conn != nil {
		r.GET("/api/jira/connection", h.Connection)
	}
	if jobs != nil {
		r.POST("/admin/jobs/:name", h.RunJob)
	}
	return r
}

// requestLog attaches a request-scoped logger to the context and logs the
// outcome of every request.
func requestLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqLog := log.With().Str("request_id", uuid.NewString()).Logger()
		c.Request = c.Request.WithContext(reqLog.WithContext(c.Request.Context()))
		c.Next()
		reqLog.Info().
			Str("m", c.Request.Method).
			Str("p", c.FullPath()).
			Int("s", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http")
	}
}
