/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ankit10009/jira-cloud-api/internal/domain"
)

// MemoryStore is a process-local staging store with the same contract as
// Repository. It backs STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[string]domain.StagingRow
	nextID int64
	now    func() time.Time

	lockMu sync.Mutex
	locks  map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:  map[string]domain.StagingRow{},
		now:   time.Now,
		locks: map[string]bool{},
	}
}

func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) FindByKey(_ context.Context, issueKey string) (domain.StagingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[issueKey]
	if !ok {
		return domain.StagingRow{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) Insert(_ context.Context, row *domain.StagingRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[row.IssueKey]; ok {
		return fmt.Errorf("insert %s: %w", row.IssueKey, ErrDuplicateKey)
	}
	m.nextID++
	now := m.now()
	row.ID = m.nextID
	row.FetchDate = now
	row.LastModifiedDate = now
	m.rows[row.IssueKey] = *row
	return nil
}

func (m *MemoryStore) UpdateMutableFields(_ context.Context, existing, data domain.StagingRow) (domain.StagingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[existing.IssueKey]
	if !ok {
		return existing, ErrNotFound
	}
	merged := mergeMutable(cur, data)
	merged.LastModifiedDate = m.now()
	if merged.LastModifiedDate.Before(merged.FetchDate) {
		merged.LastModifiedDate = merged.FetchDate
	}
	m.rows[cur.IssueKey] = merged
	return merged, nil
}

// Upsert follows find, then update or insert. An insert that loses a race is
// retried as an update.
func (m *MemoryStore) Upsert(ctx context.Context, row *domain.StagingRow) (bool, error) {
	existing, err := m.FindByKey(ctx, row.IssueKey)
	switch {
	case err == nil:
		return false, m.update(ctx, existing, row)
	case !errors.Is(err, ErrNotFound):
		return false, err
	}
	err = m.Insert(ctx, row)
	if !errors.Is(err, ErrDuplicateKey) {
		return err == nil, err
	}
	existing, err = m.FindByKey(ctx, row.IssueKey)
	if err != nil {
		return false, err
	}
	return false, m.update(ctx, existing, row)
}

func (m *MemoryStore) update(ctx context.Context, existing domain.StagingRow, row *domain.StagingRow) error {
	merged, err := m.UpdateMutableFields(ctx, existing, *row)
	if err != nil {
		return err
	}
	*row = merged
	return nil
}

type memWriter struct {
	m    *MemoryStore
	undo []func()
}

func (w *memWriter) Upsert(ctx context.Context, row *domain.StagingRow) (bool, error) {
	w.m.mu.Lock()
	prev, had := w.m.rows[row.IssueKey]
	w.m.mu.Unlock()

	inserted, err := w.m.Upsert(ctx, row)
	if err != nil {
		return false, err
	}
	key := row.IssueKey
	w.undo = append(w.undo, func() {
		if had {
			w.m.rows[key] = prev
		} else {
			delete(w.m.rows, key)
		}
	})
	return inserted, nil
}

// InBatch applies fn's writes and reverts them when fn fails. Writes are
// visible to other callers before the batch returns.
func (m *MemoryStore) InBatch(_ context.Context, fn func(RowWriter) error) error {
	w := &memWriter{m: m}
	if err := fn(w); err != nil {
		m.mu.Lock()
		for i := len(w.undo) - 1; i >= 0; i-- {
			w.undo[i]()
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryStore) FindByTypeAndFetchWindow(_ context.Context, issueType string, start, end time.Time) ([]domain.StagingRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.StagingRow{}
	for _, r := range m.rows {
		if r.IssueType == nil || *r.IssueType != issueType {
			continue
		}
		if r.FetchDate.Before(start) || r.FetchDate.After(end) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FetchDate.Equal(out[j].FetchDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].FetchDate.Before(out[j].FetchDate)
	})
	return out, nil
}

func (m *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.rows {
		if r.FetchDate.Before(cutoff) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountByType(_ context.Context, issueType string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows {
		if r.IssueType != nil && *r.IssueType == issueType {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DistinctIssueTypes(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	for _, r := range m.rows {
		if r.IssueType != nil {
			seen[*r.IssueType] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// Len returns the number of stored rows.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// WithJobLock is the process-local counterpart of the advisory lock.
func (m *MemoryStore) WithJobLock(ctx context.Context, name string, fn func(context.Context) error) (bool, error) {
	m.lockMu.Lock()
	if m.locks[name] {
		m.lockMu.Unlock()
		return false, nil
	}
	m.locks[name] = true
	m.lockMu.Unlock()

	defer func() {
		m.lockMu.Lock()
		delete(m.locks, name)
		m.lockMu.Unlock()
	}()
	return true, fn(ctx)
}
