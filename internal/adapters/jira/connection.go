/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jira

import (
	"context"
	"strings"

	"github.com/ankit10009/jira-cloud-api/internal/domain"
)

const (
	serverInfoPath = "/rest/api/3/serverInfo"
	myselfPath     = "/rest/api/3/myself"
	fieldPath      = "/rest/api/3/field"
)

// StagingCustomFields are the custom field ids copied into custom_field1..3.
var StagingCustomFields = []string{"customfield_10000", "customfield_10001", "customfield_10002"}

type ServerInfo struct {
	BaseURL        string `json:"baseUrl"`
	Version        string `json:"version"`
	DeploymentType string `json:"deploymentType"`
	ServerTitle    string `json:"serverTitle"`
}

type Field struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Custom bool   `json:"custom"`
}

// Connection is the result of a credentials and field discovery check.
type Connection struct {
	Server        ServerInfo  `json:"server"`
	User          domain.User `json:"user"`
	CustomFields  []Field     `json:"customFields"`
	MissingFields []string    `json:"missingFields,omitempty"`
}

func (c *Client) ServerInfo(ctx context.Context) (ServerInfo, error) {
	var si ServerInfo
	err := c.get(ctx, "server info", serverInfoPath, nil, &si)
	return si, err
}

// Myself returns the account the configured credentials authenticate as.
func (c *Client) Myself(ctx context.Context) (domain.User, error) {
	var u domain.User
	err := c.get(ctx, "myself", myselfPath, nil, &u)
	return u, err
}

// CustomFields lists the instance's custom fields.
func (c *Client) CustomFields(ctx context.Context) ([]Field, error) {
	var all []Field
	if err := c.get(ctx, "fields", fieldPath, nil, &all); err != nil {
		return nil, err
	}
	out := make([]Field, 0, len(all))
	for _, f := range all {
		if f.Custom || strings.HasPrefix(f.ID, "customfield_") {
			out = append(out, f)
		}
	}
	return out, nil
}

// CheckConnection verifies reachability, then credentials, then that the
// custom fields read into staging rows exist. It stops at the first failure.
func (c *Client) CheckConnection(ctx context.Context) (*Connection, error) {
	si, err := c.ServerInfo(ctx)
	if err != nil {
		return nil, err
	}
	me, err := c.Myself(ctx)
	if err != nil {
		return nil, err
	}
	fields, err := c.CustomFields(ctx)
	if err != nil {
		return nil, err
	}

	conn := &Connection{Server: si, User: me, CustomFields: fields}
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.ID] = true
	}
	for _, id := range StagingCustomFields {
		if !known[id] {
			conn.MissingFields = append(conn.MissingFields, id)
		}
	}
	return conn, nil
}
