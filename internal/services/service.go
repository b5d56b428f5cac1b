/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ankit10009/jira-cloud-api/internal/adapters/jira"
	"github.com/ankit10009/jira-cloud-api/internal/config"
	"github.com/ankit10009/jira-cloud-api/internal/domain"
	"github.com/ankit10009/jira-cloud-api/internal/repo"
	"github.com/rs/zerolog"
)

// CustomSearchType labels ad-hoc JQL batches in logs. Rows keep the issue type
// from the payload.
const CustomSearchType = "Custom_Search"

const defaultMaxResults = 100

type Searcher interface {
	Search(ctx context.Context, jql string, startAt, maxResults int) (*domain.SearchPage, error)
}

// Store is the staging store as seen by the service. Both repo.Repository and
// repo.MemoryStore satisfy it.
type Store interface {
	FindByKey(ctx context.Context, issueKey string) (domain.StagingRow, error)
	FindByTypeAndFetchWindow(ctx context.Context, issueType string, start, end time.Time) ([]domain.StagingRow, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountByType(ctx context.Context, issueType string) (int64, error)
	DistinctIssueTypes(ctx context.Context) ([]string, error)
	InBatch(ctx context.Context, fn func(repo.RowWriter) error) error
}

type Service struct {
	cfg   config.Config
	log   zerolog.Logger
	store Store
	jira  Searcher
	norm  *Normalizer
	now   func() time.Time
}

func New(cfg config.Config, log zerolog.Logger, store Store, jira Searcher) *Service {
	return &Service{cfg: cfg, log: log, store: store, jira: jira, norm: NewNormalizer(log), now: time.Now}
}

// WithClock replaces the time source used for "yesterday" and retention.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// logger prefers the request or job scoped logger carried by ctx.
func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

func (s *Service) pageSize() int {
	if s.cfg.JiraMaxResults > 0 {
		return s.cfg.JiraMaxResults
	}
	return defaultMaxResults
}

// FetchAll pages through jql until a short page, the reported total, or a
// failure. On failure the issues collected so far are returned together with
// the error. Cancelling ctx stops the loop between pages; the page in flight
// is allowed to finish.
func (s *Service) FetchAll(ctx context.Context, jql string) ([]domain.RemoteIssue, error) {
	maxResults := s.pageSize()
	log := s.logger(ctx).With().Str("jql", jql).Logger()
	acc := []domain.RemoteIssue{}
	startAt := 0
	for {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Int("collected", len(acc)).Msg("fetch stopped")
			return acc, err
		}
		page, err := s.jira.Search(context.WithoutCancel(ctx), jql, startAt, maxResults)
		if err != nil {
			log.Error().Err(err).Int("start_at", startAt).Int("collected", len(acc)).Msg("jira search failed")
			return acc, fmt.Errorf("fetch page at %d: %w", startAt, err)
		}
		if page == nil {
			break
		}
		acc = append(acc, page.Issues...)
		log.Debug().Int("start_at", startAt).Int("page", len(page.Issues)).Int("total", page.Total).Msg("fetched page")
		if len(page.Issues) < maxResults || len(acc) >= page.Total {
			break
		}
		startAt += maxResults
	}
	log.Info().Int("count", len(acc)).Msg("fetched issues")
	return acc, nil
}

// SaveIssues upserts issues by key in one batch. Rows that fail to normalize
// or write are logged and counted, the rest of the batch proceeds. issueType
// only labels the logs.
func (s *Service) SaveIssues(ctx context.Context, issues []domain.RemoteIssue, issueType string) (domain.SaveResult, error) {
	var res domain.SaveResult
	log := s.logger(ctx).With().Str("issue_type", issueType).Logger()
	if len(issues) == 0 {
		log.Info().Msg("no issues to save")
		return res, nil
	}
	issues = lastPerKey(issues)

	// the batch commits even when the caller is being cancelled
	bctx := context.WithoutCancel(ctx)
	err := s.store.InBatch(bctx, func(w repo.RowWriter) error {
		for _, iss := range issues {
			row, err := s.norm.ToRow(iss)
			if err != nil {
				res.Failed++
				log.Error().Err(err).Str("issue_key", iss.Key).Msg("skip issue: normalize failed")
				continue
			}
			inserted, err := w.Upsert(bctx, &row)
			if err != nil {
				res.Failed++
				log.Error().Err(err).Str("issue_key", iss.Key).Msg("skip issue: store failed")
				continue
			}
			if inserted {
				res.Inserted++
			} else {
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("save batch failed")
		return domain.SaveResult{Failed: len(issues)}, err
	}
	log.Info().Int("inserted", res.Inserted).Int("updated", res.Updated).Int("failed", res.Failed).Msg("saved issues")
	return res, nil
}

// lastPerKey drops earlier duplicates so each key is written once per batch.
func lastPerKey(issues []domain.RemoteIssue) []domain.RemoteIssue {
	last := make(map[string]int, len(issues))
	for i, iss := range issues {
		last[iss.Key] = i
	}
	if len(last) == len(issues) {
		return issues
	}
	out := make([]domain.RemoteIssue, 0, len(last))
	for i, iss := range issues {
		if last[iss.Key] == i {
			out = append(out, iss)
		}
	}
	return out
}

func (s *Service) yesterdayJQL(issueType string) string {
	return jira.YesterdayJQL(issueType, s.cfg.JiraProjectKey, s.now(), s.cfg.Location())
}

// FetchYesterday returns the issues of issueType updated yesterday. Nothing
// is stored.
func (s *Service) FetchYesterday(ctx context.Context, issueType string) ([]domain.RemoteIssue, error) {
	return s.FetchAll(ctx, s.yesterdayJQL(issueType))
}

// SyncYesterday fetches yesterday's issues and saves whatever was collected,
// even when the fetch stopped early. Fetch and save errors are joined.
func (s *Service) SyncYesterday(ctx context.Context, issueType string) (domain.SaveResult, error) {
	issues, fetchErr := s.FetchYesterday(ctx, issueType)
	res, saveErr := s.SaveIssues(ctx, issues, issueType)
	return res, errors.Join(fetchErr, saveErr)
}

// Search runs an arbitrary JQL and optionally stores the result.
func (s *Service) Search(ctx context.Context, jql string, save bool) ([]domain.RemoteIssue, *domain.SaveResult, error) {
	issues, fetchErr := s.FetchAll(ctx, jql)
	if !save {
		return issues, nil, fetchErr
	}
	res, saveErr := s.SaveIssues(ctx, issues, CustomSearchType)
	return issues, &res, errors.Join(fetchErr, saveErr)
}

// Cleanup deletes rows fetched more than retentionDays ago.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("cleanup: retention days must be positive, got %d", retentionDays)
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	n, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger(ctx).Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("retention sweep")
	return n, nil
}

// StoredSince returns rows of issueType fetched within the last window.
func (s *Service) StoredSince(ctx context.Context, issueType string, window time.Duration) ([]domain.StagingRow, error) {
	end := s.now()
	return s.store.FindByTypeAndFetchWindow(ctx, issueType, end.Add(-window), end)
}

func (s *Service) IssueByKey(ctx context.Context, issueKey string) (domain.StagingRow, error) {
	return s.store.FindByKey(ctx, issueKey)
}

// Stats counts stored rows per issue type.
func (s *Service) Stats(ctx context.Context) (map[string]int64, error) {
	types, err := s.store.DistinctIssueTypes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(types))
	for _, t := range types {
		n, err := s.store.CountByType(ctx, t)
		if err != nil {
			return nil, err
		}
		out[t] = n
	}
	return out, nil
}
