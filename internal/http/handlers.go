/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ankit10009/jira-cloud-api/internal/adapters/jira"
	"github.com/ankit10009/jira-cloud-api/internal/config"
	"github.com/ankit10009/jira-cloud-api/internal/domain"
	"github.com/ankit10009/jira-cloud-api/internal/repo"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HeaderPartial marks a response built from an interrupted fetch.
const HeaderPartial = "X-Partial-Result"

type service interface {
	FetchYesterday(ctx context.Context, issueType string) ([]domain.RemoteIssue, error)
	SyncYesterday(ctx context.Context, issueType string) (domain.SaveResult, error)
	StoredSince(ctx context.Context, issueType string, window time.Duration) ([]domain.StagingRow, error)
	Search(ctx context.Context, jql string, save bool) ([]domain.RemoteIssue, *domain.SaveResult, error)
	IssueByKey(ctx context.Context, issueKey string) (domain.StagingRow, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

type jobRunner interface {
	Known(name string) bool
	Run(name string) bool
}

type connectionChecker interface {
	CheckConnection(ctx context.Context) (*jira.Connection, error)
}

type Handlers struct {
	cfg  config.Config
	log  zerolog.Logger
	svc  service
	jobs jobRunner
	conn connectionChecker
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service, jobs jobRunner, conn connectionChecker) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc, jobs: jobs, conn: conn}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// fail writes a short error body; causes stay in the log.
func (h *Handlers) fail(c *gin.Context, err error) {
	status, msg := statusFor(err)
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": msg})
}

func statusFor(err error) (int, string) {
	var re *jira.RemoteError
	var te *jira.TransportError
	switch {
	case errors.As(err, &re):
		return http.StatusBadGateway, fmt.Sprintf("jira returned status %d", re.StatusCode)
	case errors.As(err, &te) && te.Timeout():
		return http.StatusGatewayTimeout, "jira request timed out"
	case errors.As(err, &te):
		return http.StatusBadGateway, "jira unreachable"
	case errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "storage error"
	}
}

func (h *Handlers) Yesterday(c *gin.Context) {
	issues, err := h.svc.FetchYesterday(c.Request.Context(), c.Param("issueType"))
	if err != nil {
		if len(issues) == 0 {
			h.fail(c, err)
			return
		}
		c.Header(HeaderPartial, "true")
	}
	c.JSON(http.StatusOK, issues)
}

func (h *Handlers) Sync(c *gin.Context) {
	issueType := c.Param("issueType")
	res, err := h.svc.SyncYesterday(c.Request.Context(), issueType)
	n := res.Inserted + res.Updated + res.Failed
	if err != nil {
		if n == 0 {
			h.fail(c, err)
			return
		}
		c.Header(HeaderPartial, "true")
	}
	c.String(http.StatusOK, "Synced %d %s issues to database", n, issueType)
}

func (h *Handlers) Stored(c *gin.Context) {
	hours := 24
	if v := c.Query("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = n
	}
	rows, err := h.svc.StoredSince(c.Request.Context(), c.Param("issueType"), time.Duration(hours)*time.Hour)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handlers) Search(c *gin.Context) {
	jql := strings.TrimSpace(c.Query("jql"))
	if jql == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jql is required"})
		return
	}
	save := false
	if v := c.Query("saveToDb"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "saveToDb must be a boolean"})
			return
		}
		save = b
	}
	issues, _, err := h.svc.Search(c.Request.Context(), jql, save)
	if err != nil {
		if len(issues) == 0 {
			h.fail(c, err)
			return
		}
		c.Header(HeaderPartial, "true")
	}
	c.JSON(http.StatusOK, issues)
}

func (h *Handlers) ByKey(c *gin.Context) {
	row, err := h.svc.IssueByKey(c.Request.Context(), c.Param("issueKey"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}

func (h *Handlers) Stats(c *gin.Context) {
	types, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"types": types})
}

// Connection checks credentials against the remote and reports which staged
// custom fields the instance lacks.
func (h *Handlers) Connection(c *gin.Context) {
	conn, err := h.conn.CheckConnection(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conn)
}

// RunJob triggers a scheduled job out of band.
func (h *Handlers) RunJob(c *gin.Context) {
	name := c.Param("name")
	if !h.jobs.Known(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	go h.jobs.Run(name)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "job": name})
}
