// Copyright 2025 Microsoft Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package registry is the container type registry client. The canonical
// backing API is the Graph beta fileStorage surface; callers never see the
// transport. Known server rejections are classified into the invariant error
// codes at this boundary.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/graph"
)

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

const (
	containerTypesPath = "/storage/fileStorage/containerTypes"
	registrationsPath  = "/storage/fileStorage/containerTypeRegistrations"
)

// Server messages classified at this boundary. These strings are part of the
// service's operator-facing contract; match loosely on the stable fragment.
const (
	trialQuotaFragment      = "maximum number of allowed trial container types"
	termsFragment           = "terms of service"
	activeContainerFragment = "active containers"
	recycledFragment        = "recycled containers"
)

// defaultTermsURL is surfaced when the terms rejection message carries no
// URL of its own.
const defaultTermsURL = "https://aka.ms/enable-sharepoint-embedded"

var urlPattern = regexp.MustCompile(`https://\S+`)

// Client exposes the five container type operations plus the registration
// surface.
type Client struct {
	rest *graph.Client
}

// NewClient wraps a Graph beta REST core.
func NewClient(rest *graph.Client) *Client {
	return &Client{rest: rest}
}

// List returns every container type in the tenant.
func (c *Client) List(ctx context.Context) ([]ContainerType, error) {
	var out struct {
		Value []ContainerType `json:"value"`
	}
	if err := c.rest.DoJSON(ctx, http.MethodGet, containerTypesPath, nil, nil, &out, ""); err != nil {
		return nil, fmt.Errorf("failed to list container types: %w", err)
	}
	return out.Value, nil
}

// Get returns one container type, or (nil, nil) when it does not exist.
func (c *Client) Get(ctx context.Context, id string) (*ContainerType, error) {
	status, data, err := c.rest.Do(ctx, http.MethodGet, containerTypesPath+"/"+id, nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, ctyperr.FromResponse(status, data, id)
	}

	var ct ContainerType
	if err := unmarshal(data, &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

// Create creates a container type. Trial-tier rejections for quota and
// unaccepted terms of service are classified into QuotaExceeded and
// TermsNotAccepted; everything else passes through.
func (c *Client) Create(ctx context.Context, ct *ContainerType) (*ContainerType, error) {
	status, data, err := c.rest.Do(ctx, http.MethodPost, containerTypesPath, nil, ct)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, classifyCreateFailure(status, data, ct.Name)
	}

	var created ContainerType
	if err := unmarshal(data, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func classifyCreateFailure(status int, body []byte, target string) error {
	base := ctyperr.FromResponse(status, body, target)
	lower := strings.ToLower(base.Message)

	switch {
	case strings.Contains(lower, trialQuotaFragment):
		return &ctyperr.Error{
			Code:       ctyperr.CodeQuotaExceeded,
			StatusCode: status,
			Message:    base.Message,
			Target:     target,
		}
	case strings.Contains(lower, termsFragment):
		remediation := defaultTermsURL
		if m := urlPattern.FindString(base.Message); m != "" {
			remediation = strings.TrimRight(m, ".,)")
		}
		return &ctyperr.Error{
			Code:           ctyperr.CodeTermsNotAccepted,
			StatusCode:     status,
			Message:        base.Message,
			Target:         target,
			RemediationURL: remediation,
		}
	default:
		return base
	}
}

// Update renames or re-configures a container type under optimistic
// concurrency. The current ETag is always re-fetched immediately before the
// PATCH; a caller snapshot ETag that no longer matches surfaces as Conflict
// before anything is sent, never as a silent overwrite.
func (c *Client) Update(ctx context.Context, id string, patch map[string]any, etag string) (*ContainerType, error) {
	current, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ctyperr.New(ctyperr.CodeNotFound, id, "container type does not exist")
	}
	if etag != "" && current.ETag != etag {
		return nil, ctyperr.New(ctyperr.CodeConflict, id,
			"container type changed since it was read (etag %s, now %s); re-fetch and retry", etag, current.ETag)
	}

	body := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		body[k] = v
	}
	body["etag"] = current.ETag

	var updated ContainerType
	if err := c.rest.DoJSON(ctx, http.MethodPatch, containerTypesPath+"/"+id, nil, body, &updated, id); err != nil {
		return nil, fmt.Errorf("failed to update container type: %w", err)
	}
	return &updated, nil
}

// Delete removes a container type. The service rejects deletion while the
// type still has active or recycled containers; both rejections surface as
// HasActiveResources with distinct targets so the operator knows what to
// clean up.
func (c *Client) Delete(ctx context.Context, id string) error {
	status, data, err := c.rest.Do(ctx, http.MethodDelete, containerTypesPath+"/"+id, nil, nil)
	if err != nil {
		return err
	}
	if status >= 200 && status <= 299 {
		return nil
	}

	base := ctyperr.FromResponse(status, data, id)
	lower := strings.ToLower(base.Message)
	switch {
	case strings.Contains(lower, recycledFragment):
		return &ctyperr.Error{
			Code:       ctyperr.CodeHasActiveResources,
			StatusCode: status,
			Message:    base.Message,
			Target:     "recycledContainers",
		}
	case strings.Contains(lower, activeContainerFragment):
		return &ctyperr.Error{
			Code:       ctyperr.CodeHasActiveResources,
			StatusCode: status,
			Message:    base.Message,
			Target:     "activeContainers",
		}
	default:
		return base
	}
}

// GetRegistration fetches the tenant-local registration of a container
// type. A registration that does not exist yet is an empty one, not an
// error.
func (c *Client) GetRegistration(ctx context.Context, containerTypeID, tenantID string) (*Registration, error) {
	status, data, err := c.rest.Do(ctx, http.MethodGet, registrationsPath+"/"+containerTypeID, nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return &Registration{
			ID:              RegistrationID(containerTypeID, tenantID),
			ContainerTypeID: containerTypeID,
			TenantID:        tenantID,
		}, nil
	}
	if status != http.StatusOK {
		return nil, ctyperr.FromResponse(status, data, containerTypeID)
	}

	var reg Registration
	if err := unmarshal(data, &reg); err != nil {
		return nil, err
	}
	if reg.ID == "" {
		reg.ID = RegistrationID(containerTypeID, tenantID)
	}
	reg.TenantID = tenantID
	return &reg, nil
}

// SubmitRegistration PUTs the full grant list for a container type in this
// tenant.
func (c *Client) SubmitRegistration(ctx context.Context, reg *Registration) error {
	body := map[string]any{
		"applicationPermissionGrants": reg.ApplicationPermissionGrants,
	}
	err := c.rest.DoJSON(ctx, http.MethodPut, registrationsPath+"/"+reg.ContainerTypeID, nil, body, nil, reg.ID)
	if err != nil {
		return fmt.Errorf("failed to submit registration: %w", err)
	}
	return nil
}

// GetGrant returns the grant for one application in the registration, or
// (nil, nil) when the app has none.
func (c *Client) GetGrant(ctx context.Context, containerTypeID, appID string) (*ApplicationPermissions, error) {
	path := registrationsPath + "/" + containerTypeID + "/applicationPermissionGrants/" + appID
	status, data, err := c.rest.Do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, ctyperr.FromResponse(status, data, appID)
	}

	var grant ApplicationPermissions
	if err := unmarshal(data, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}
