/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package repo

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jira_issue_staging (
        id                    BIGSERIAL PRIMARY KEY,
        issue_key             VARCHAR(255) NOT NULL,
        issue_id              VARCHAR(255) NOT NULL,
        issue_type            VARCHAR(255),
        summary               VARCHAR(1000),
        description           TEXT,
        status                VARCHAR(255),
        status_category       VARCHAR(255),
        priority              VARCHAR(255),
        assignee_email        VARCHAR(255),
        assignee_display_name VARCHAR(255),
        reporter_email        VARCHAR(255),
        reporter_display_name VARCHAR(255),
        project_key           VARCHAR(255),
        project_name          VARCHAR(255),
        created_date          TIMESTAMPTZ,
        updated_date          TIMESTAMPTZ,
        resolution_date       TIMESTAMPTZ,
        labels                VARCHAR(2000),
        components            VARCHAR(1000),
        custom_field1         TEXT,
        custom_field2         TEXT,
        custom_field3         TEXT,
        raw_json              TEXT NOT NULL,
        fetch_date            TIMESTAMPTZ NOT NULL,
        last_modified_date    TIMESTAMPTZ NOT NULL,
        CHECK (last_modified_date >= fetch_date)
    )`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_jira_issue_staging_issue_key ON jira_issue_staging (issue_key)`,
	`CREATE INDEX IF NOT EXISTS ix_jira_issue_staging_type_fetch ON jira_issue_staging (issue_type, fetch_date)`,
	`CREATE INDEX IF NOT EXISTS ix_jira_issue_staging_fetch ON jira_issue_staging (fetch_date)`,
}

// EnsureSchema creates the staging table and its indexes when missing. It
// never alters an existing table.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	r.log.Debug().Int("statements", len(schemaStatements)).Msg("staging schema ensured")
	return nil
}
