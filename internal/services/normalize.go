/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ankit10009/jira-cloud-api/internal/domain"
	"github.com/rs/zerolog"
)

// Column bounds of the staging table.
const (
	maxSummary    = 1000
	maxLabels     = 2000
	maxComponents = 1000
)

// Jira timestamp layouts, tried in order.
var jiraTimeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

// NormalizeError means the issue could not be serialized for rawJson.
type NormalizeError struct {
	IssueKey string
	Err      error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %s: %v", e.IssueKey, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// Normalizer flattens remote issues into staging rows.
type Normalizer struct {
	log zerolog.Logger
}

func NewNormalizer(log zerolog.Logger) *Normalizer { return &Normalizer{log: log} }

// ToRow projects issue onto a staging row. Absent nested records become
// nulls. Only a rawJson serialization failure is an error.
func (n *Normalizer) ToRow(issue domain.RemoteIssue) (domain.StagingRow, error) {
	raw, err := json.Marshal(issue)
	if err != nil {
		return domain.StagingRow{}, &NormalizeError{IssueKey: issue.Key, Err: err}
	}
	row := domain.StagingRow{
		IssueKey: issue.Key,
		IssueID:  issue.ID,
		RawJSON:  string(raw),
	}
	f := issue.Fields
	if f == nil {
		return row, nil
	}
	log := n.log.With().Str("issue_key", issue.Key).Logger()

	row.Summary = clip(f.Summary, maxSummary)
	row.Description = description(f.Description)
	row.IssueType = named(f.IssueType)
	row.Priority = named(f.Priority)
	if f.Status != nil {
		row.Status = f.Status.Name
		row.StatusCategory = named(f.Status.StatusCategory)
	}
	if f.Assignee != nil {
		row.AssigneeEmail = f.Assignee.EmailAddress
		row.AssigneeDisplayName = f.Assignee.DisplayName
	}
	if f.Reporter != nil {
		row.ReporterEmail = f.Reporter.EmailAddress
		row.ReporterDisplayName = f.Reporter.DisplayName
	}
	if f.Project != nil {
		row.ProjectKey = f.Project.Key
		row.ProjectName = f.Project.Name
	}
	row.CreatedDate = parseJiraTime(log, "created", f.Created)
	row.UpdatedDate = parseJiraTime(log, "updated", f.Updated)
	row.ResolutionDate = parseJiraTime(log, "resolutiondate", f.ResolutionDate)

	if len(f.Labels) > 0 {
		row.Labels = clip(ptr(strings.Join(f.Labels, ",")), maxLabels)
	}
	if len(f.Components) > 0 {
		names := make([]string, 0, len(f.Components))
		for _, c := range f.Components {
			if c.Name != nil {
				names = append(names, *c.Name)
			}
		}
		if len(names) > 0 {
			row.Components = clip(ptr(strings.Join(names, ",")), maxComponents)
		}
	}
	row.CustomField1 = text(f.CustomField1)
	row.CustomField2 = text(f.CustomField2)
	row.CustomField3 = serialized(f.CustomField3)
	return row, nil
}

func ptr(s string) *string { return &s }

func named(n *domain.Named) *string {
	if n == nil {
		return nil
	}
	return n.Name
}

func text(v *domain.JSONValue) *string {
	if v == nil || v.Kind == domain.KindNull {
		return nil
	}
	return ptr(v.Text())
}

// serialized returns compact JSON for v, or its textual form when v does not
// hold valid JSON.
func serialized(v *domain.JSONValue) *string {
	if v == nil || v.Kind == domain.KindNull {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ptr(v.Text())
	}
	return ptr(string(b))
}

// clip bounds s to limit runes.
func clip(s *string, limit int) *string {
	if s == nil || utf8.RuneCountInString(*s) <= limit {
		return s
	}
	r := []rune(*s)
	return ptr(string(r[:limit]))
}

// parseJiraTime accepts Jira's timestamp with or without milliseconds. The
// offset is kept. Anything else is logged and dropped.
func parseJiraTime(log zerolog.Logger, field string, s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	for _, layout := range jiraTimeLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			return &t
		}
	}
	log.Warn().Str("field", field).Str("value", *s).Msg("failed to parse date")
	return nil
}

type adfNode struct {
	Text    *string   `json:"text"`
	Content []adfNode `json:"content"`
}

func (a adfNode) flatten() string {
	parts := make([]string, 0, len(a.Content))
	for _, b := range a.Content {
		if b.Text != nil {
			parts = append(parts, *b.Text)
		}
		if b.Content != nil {
			parts = append(parts, b.flatten())
		}
	}
	return strings.Join(parts, " ")
}

// description keeps plain strings and flattens Atlassian Document Format
// objects to their text.
func description(v *domain.JSONValue) *string {
	if v == nil || v.Kind == domain.KindNull {
		return nil
	}
	if v.Kind == domain.KindObject {
		var doc adfNode
		if err := json.Unmarshal(v.Raw, &doc); err == nil && doc.Content != nil {
			return ptr(doc.flatten())
		}
	}
	return ptr(v.Text())
}
