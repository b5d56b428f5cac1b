/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package services

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ankit10009/jira-cloud-api/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeIssue(t *testing.T, s string) domain.RemoteIssue {
	t.Helper()
	var iss domain.RemoteIssue
	require.NoError(t, json.Unmarshal([]byte(s), &iss))
	return iss
}

const fullIssue = `{
  "id": "10001", "key": "ABC-1", "self": "https://jira.example.com/rest/api/3/issue/10001",
  "fields": {
    "summary": "Login fails",
    "description": {"type": "doc", "version": 1, "content": [
      {"type": "paragraph", "content": [{"type": "text", "text": "Steps:"}, {"type": "text", "text": "open app"}]},
      {"type": "paragraph", "content": [{"type": "text", "text": "crash"}]}
    ]},
    "issuetype": {"name": "Bug"},
    "status": {"name": "In Progress", "statusCategory": {"name": "In Progress"}},
    "priority": {"name": "High"},
    "assignee": {"emailAddress": "dev@example.com", "displayName": "Dev One"},
    "reporter": {"displayName": "QA"},
    "project": {"key": "ABC", "name": "Alpha"},
    "created": "2024-01-15T10:30:00.000+0000",
    "updated": "2024-01-16T09:00:00+0200",
    "resolutiondate": null,
    "labels": ["backend", "urgent"],
    "components": [{"name": "api"}, {"name": "auth"}],
    "customfield_10000": "team-a",
    "customfield_10001": 42,
    "customfield_10002": {"value": "Gold", "id": "3"},
    "unknown_field": [1, 2, 3]
  }
}`

func TestToRow_FullIssue(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(zerolog.Nop())

	row, err := n.ToRow(decodeIssue(t, fullIssue))
	require.NoError(t, err)

	assert.Equal(t, "ABC-1", row.IssueKey)
	assert.Equal(t, "10001", row.IssueID)
	assert.Equal(t, "Login fails", *row.Summary)
	assert.Equal(t, "Steps: open app crash", *row.Description)
	assert.Equal(t, "Bug", *row.IssueType)
	assert.Equal(t, "In Progress", *row.Status)
	assert.Equal(t, "In Progress", *row.StatusCategory)
	assert.Equal(t, "High", *row.Priority)
	assert.Equal(t, "dev@example.com", *row.AssigneeEmail)
	assert.Equal(t, "Dev One", *row.AssigneeDisplayName)
	assert.Nil(t, row.ReporterEmail)
	assert.Equal(t, "QA", *row.ReporterDisplayName)
	assert.Equal(t, "ABC", *row.ProjectKey)
	assert.Equal(t, "Alpha", *row.ProjectName)
	assert.Equal(t, "backend,urgent", *row.Labels)
	assert.Equal(t, "api,auth", *row.Components)
	assert.Equal(t, "team-a", *row.CustomField1)
	assert.Equal(t, "42", *row.CustomField2)
	assert.JSONEq(t, `{"value":"Gold","id":"3"}`, *row.CustomField3)
	assert.Nil(t, row.ResolutionDate)

	require.NotNil(t, row.CreatedDate)
	assert.True(t, row.CreatedDate.Equal(time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)))
	require.NotNil(t, row.UpdatedDate)
	_, offset := row.UpdatedDate.Zone()
	assert.Equal(t, 2*3600, offset)
	assert.True(t, row.UpdatedDate.Equal(time.Date(2024, 1, 16, 7, 0, 0, 0, time.UTC)))

	assert.Contains(t, row.RawJSON, `"unknown_field":[1,2,3]`)
	assert.True(t, json.Valid([]byte(row.RawJSON)))
}

func TestToRow_AbsentNestedRecordsAreNull(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(zerolog.Nop())

	t.Run("no fields", func(t *testing.T) {
		t.Parallel()
		row, err := n.ToRow(decodeIssue(t, `{"id":"1","key":"ABC-9"}`))
		require.NoError(t, err)
		assert.Equal(t, "ABC-9", row.IssueKey)
		assert.Nil(t, row.Summary)
		assert.Nil(t, row.IssueType)
		assert.Nil(t, row.Labels)
		assert.JSONEq(t, `{"id":"1","key":"ABC-9"}`, row.RawJSON)
	})

	t.Run("empty and null nested", func(t *testing.T) {
		t.Parallel()
		row, err := n.ToRow(decodeIssue(t, `{"id":"2","key":"ABC-10","fields":{
			"status":{"name":"Open"},"assignee":null,"labels":[],"components":[],
			"customfield_10002":null,"description":"plain text"}}`))
		require.NoError(t, err)
		assert.Equal(t, "Open", *row.Status)
		assert.Nil(t, row.StatusCategory)
		assert.Nil(t, row.AssigneeEmail)
		assert.Nil(t, row.Labels)
		assert.Nil(t, row.Components)
		assert.Nil(t, row.CustomField3)
		assert.Equal(t, "plain text", *row.Description)
	})
}

func TestToRow_MalformedDateIsNull(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(zerolog.Nop())

	row, err := n.ToRow(decodeIssue(t, `{"id":"3","key":"ABC-3","fields":{"updated":"not-a-date","created":"2024-01-15"}}`))
	require.NoError(t, err)
	assert.Nil(t, row.UpdatedDate)
	assert.Nil(t, row.CreatedDate)
	assert.Contains(t, row.RawJSON, "not-a-date")
}

func TestParseJiraTime_FallbackLayout(t *testing.T) {
	t.Parallel()
	withMillis := "2024-01-15T10:30:00.000+0000"
	without := "2024-01-15T10:30:00+0000"

	a := parseJiraTime(zerolog.Nop(), "created", &withMillis)
	b := parseJiraTime(zerolog.Nop(), "created", &without)
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.True(t, a.Equal(*b))
	assert.Equal(t, a.Format(time.RFC3339), b.Format(time.RFC3339))

	empty := ""
	assert.Nil(t, parseJiraTime(zerolog.Nop(), "created", &empty))
	assert.Nil(t, parseJiraTime(zerolog.Nop(), "created", nil))
}

func TestToRow_ClipsBoundedColumns(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(zerolog.Nop())

	long := strings.Repeat("é", 1200)
	labels := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		labels = append(labels, "label")
	}
	iss := domain.RemoteIssue{ID: "1", Key: "ABC-1", Fields: &domain.IssueFields{Summary: &long, Labels: labels}}

	row, err := n.ToRow(iss)
	require.NoError(t, err)
	assert.Equal(t, 1000, len([]rune(*row.Summary)))
	assert.Equal(t, 2000, len([]rune(*row.Labels)))
	assert.Contains(t, row.RawJSON, long)
}

func TestToRow_UnserializableIssueIsNormalizeError(t *testing.T) {
	t.Parallel()
	n := NewNormalizer(zerolog.Nop())

	_, err := n.ToRow(domain.RemoteIssue{Key: "BAD-1", Raw: json.RawMessage(`{"key":`)})
	var ne *NormalizeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "BAD-1", ne.IssueKey)
}

func TestSerialized_FallsBackToText(t *testing.T) {
	t.Parallel()

	ok := &domain.JSONValue{Kind: domain.KindArray, Raw: json.RawMessage(`[ 1, "a" ]`)}
	assert.Equal(t, `[1,"a"]`, *serialized(ok))

	broken := &domain.JSONValue{Kind: domain.KindObject, Raw: json.RawMessage(`{oops`)}
	assert.Equal(t, `{oops`, *serialized(broken))

	str := &domain.JSONValue{Kind: domain.KindString, Raw: json.RawMessage(`"x"`)}
	assert.Equal(t, `"x"`, *serialized(str))
	assert.Equal(t, "x", *text(str))
}
