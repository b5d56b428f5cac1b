/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// BuildJQL composes the updated-window query. The project clause is always the
// outermost filter, the issue type sits between it and the window.
func BuildJQL(issueType, projectKey string, start, end time.Time) string {
	jql := fmt.Sprintf("updated >= '%s 00:00' AND updated <= '%s 23:59'",
		start.Format(dayLayout), end.Format(dayLayout))
	if issueType != "" {
		jql = fmt.Sprintf("issueType = '%s' AND (%s)", issueType, jql)
	}
	if projectKey != "" {
		jql = fmt.Sprintf("project = '%s' AND (%s)", projectKey, jql)
	}
	return jql
}

// Yesterday returns the calendar day before now in loc, as midnight in loc.
func Yesterday(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	n := now.In(loc)
	return time.Date(n.Year(), n.Month(), n.Day()-1, 0, 0, 0, 0, loc)
}

// YesterdayJQL is BuildJQL over the single day before now.
func YesterdayJQL(issueType, projectKey string, now time.Time, loc *time.Location) string {
	d := Yesterday(now, loc)
	return BuildJQL(issueType, projectKey, d, d)
}
