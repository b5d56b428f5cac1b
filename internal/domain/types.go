/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package domain

import (
	"encoding/json"
	"time"
)

// SearchPage is the remote search envelope. Unknown fields are dropped.
type SearchPage struct {
	StartAt    int           `json:"startAt"`
	MaxResults int           `json:"maxResults"`
	Total      int           `json:"total"`
	Issues     []RemoteIssue `json:"issues"`
}

// RemoteIssue is one issue as returned by the search endpoint. Raw keeps the
// exact bytes received so the staging row can carry them for audit.
type RemoteIssue struct {
	ID     string       `json:"id"`
	Key    string       `json:"key"`
	Self   string       `json:"self,omitempty"`
	Fields *IssueFields `json:"fields,omitempty"`

	Raw json.RawMessage `json:"-"`
}

type remoteIssue RemoteIssue

func (i *RemoteIssue) UnmarshalJSON(b []byte) error {
	var p remoteIssue
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*i = RemoteIssue(p)
	i.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON emits the received payload when there is one, so a decoded
// issue round-trips byte-for-byte (modulo whitespace).
func (i RemoteIssue) MarshalJSON() ([]byte, error) {
	if len(i.Raw) > 0 {
		return i.Raw, nil
	}
	return json.Marshal(remoteIssue(i))
}

type IssueFields struct {
	Summary        *string    `json:"summary,omitempty"`
	Description    *JSONValue `json:"description,omitempty"`
	IssueType      *Named     `json:"issuetype,omitempty"`
	Status         *Status    `json:"status,omitempty"`
	Priority       *Named     `json:"priority,omitempty"`
	Assignee       *User      `json:"assignee,omitempty"`
	Reporter       *User      `json:"reporter,omitempty"`
	Project        *Project   `json:"project,omitempty"`
	Created        *string    `json:"created,omitempty"`
	Updated        *string    `json:"updated,omitempty"`
	ResolutionDate *string    `json:"resolutiondate,omitempty"`
	Labels         []string   `json:"labels,omitempty"`
	Components     []Named    `json:"components,omitempty"`
	CustomField1   *JSONValue `json:"customfield_10000,omitempty"`
	CustomField2   *JSONValue `json:"customfield_10001,omitempty"`
	CustomField3   *JSONValue `json:"customfield_10002,omitempty"`
}

type Named struct {
	ID   string  `json:"id,omitempty"`
	Name *string `json:"name,omitempty"`
}

type Status struct {
	ID             string  `json:"id,omitempty"`
	Name           *string `json:"name,omitempty"`
	StatusCategory *Named  `json:"statusCategory,omitempty"`
}

type User struct {
	AccountID    string  `json:"accountId,omitempty"`
	EmailAddress *string `json:"emailAddress,omitempty"`
	DisplayName  *string `json:"displayName,omitempty"`
}

type Project struct {
	ID   string  `json:"id,omitempty"`
	Key  *string `json:"key,omitempty"`
	Name *string `json:"name,omitempty"`
}

// JSONKind tags the shape of a free-form JSON value.
type JSONKind int

const (
	KindNull JSONKind = iota
	KindObject
	KindArray
	KindString
	KindNumber
	KindBool
)

// JSONValue holds an arbitrary JSON value together with its kind. A JSON null
// in a pointer field never reaches UnmarshalJSON, so a nil *JSONValue means
// "absent or null".
type JSONValue struct {
	Kind JSONKind
	Raw  json.RawMessage
}

func (v *JSONValue) UnmarshalJSON(b []byte) error {
	v.Raw = append(json.RawMessage(nil), b...)
	v.Kind = kindOf(b)
	return nil
}

func (v JSONValue) MarshalJSON() ([]byte, error) {
	if len(v.Raw) == 0 {
		return []byte("null"), nil
	}
	return v.Raw, nil
}

// Text returns the value's textual form: strings unquoted, anything else as
// its JSON text.
func (v JSONValue) Text() string {
	if v.Kind == KindString {
		var s string
		if err := json.Unmarshal(v.Raw, &s); err == nil {
			return s
		}
	}
	return string(v.Raw)
}

func kindOf(b []byte) JSONKind {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return KindObject
		case '[':
			return KindArray
		case '"':
			return KindString
		case 't', 'f':
			return KindBool
		case 'n':
			return KindNull
		default:
			return KindNumber
		}
	}
	return KindNull
}

// StagingRow is one persisted, denormalized snapshot of a remote issue.
type StagingRow struct {
	ID                  int64      `json:"id"`
	IssueKey            string     `json:"issueKey"`
	IssueID             string     `json:"issueId"`
	IssueType           *string    `json:"issueType"`
	Summary             *string    `json:"summary"`
	Description         *string    `json:"description"`
	Status              *string    `json:"status"`
	StatusCategory      *string    `json:"statusCategory"`
	Priority            *string    `json:"priority"`
	AssigneeEmail       *string    `json:"assigneeEmail"`
	AssigneeDisplayName *string    `json:"assigneeDisplayName"`
	ReporterEmail       *string    `json:"reporterEmail"`
	ReporterDisplayName *string    `json:"reporterDisplayName"`
	ProjectKey          *string    `json:"projectKey"`
	ProjectName         *string    `json:"projectName"`
	CreatedDate         *time.Time `json:"createdDate"`
	UpdatedDate         *time.Time `json:"updatedDate"`
	ResolutionDate      *time.Time `json:"resolutionDate"`
	Labels              *string    `json:"labels"`
	Components          *string    `json:"components"`
	CustomField1        *string    `json:"customField1"`
	CustomField2        *string    `json:"customField2"`
	CustomField3        *string    `json:"customField3"`
	RawJSON             string     `json:"rawJson"`
	FetchDate           time.Time  `json:"fetchDate"`
	LastModifiedDate    time.Time  `json:"lastModifiedDate"`
}

// SaveResult counts the outcome of one saveIssues batch.
type SaveResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}
