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

// Package spadmin manages the containers that live inside a container type.
// Recycling is a soft delete: recycled containers sit in a separate surface
// until restored or permanently removed, and they still block deletion of
// their container type.
package spadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/graph"
)

const (
	containersPath        = "/storage/fileStorage/containers"
	deletedContainersPath = "/storage/fileStorage/deletedContainers"
)

// Status of a container.
type Status string

const (
	StatusActive   Status = "active"
	StatusRecycled Status = "recycled"
)

// Container is one storage container belonging to a container type.
type Container struct {
	ID              string    `json:"id,omitempty"`
	DisplayName     string    `json:"displayName"`
	Description     string    `json:"description,omitempty"`
	ContainerTypeID string    `json:"containerTypeId,omitempty"`
	Status          Status    `json:"status,omitempty"`
	CreatedDateTime time.Time `json:"createdDateTime,omitempty"`
}

// Client drives container operations through the Graph beta surface using
// the owning application's token.
type Client struct {
	rest *graph.Client
}

func NewClient(rest *graph.Client) *Client {
	return &Client{rest: rest}
}

// CreateRequest carries the caller inputs for a new container.
type CreateRequest struct {
	DisplayName     string `validate:"required,min=1,max=255"`
	Description     string
	ContainerTypeID string `validate:"required"`
}

// Create provisions a container inside the given container type.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Container, error) {
	if err := ctyperr.ValidateStruct(req.DisplayName, req); err != nil {
		return nil, err
	}

	body := Container{
		DisplayName:     req.DisplayName,
		Description:     req.Description,
		ContainerTypeID: req.ContainerTypeID,
	}
	var created Container
	if err := c.rest.DoJSON(ctx, http.MethodPost, containersPath, nil, body, &created, req.DisplayName); err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	created.Status = StatusActive
	return &created, nil
}

// List returns the active containers of a container type.
func (c *Client) List(ctx context.Context, containerTypeID string) ([]Container, error) {
	path := containersPath + "?$filter=" + url.QueryEscape(fmt.Sprintf("containerTypeId eq %s", containerTypeID))
	containers, err := c.list(ctx, path, containerTypeID)
	if err != nil {
		return nil, err
	}
	for i := range containers {
		containers[i].Status = StatusActive
	}
	return containers, nil
}

// ListRecycled returns the recycled containers of a container type. They
// block permanent deletion of the type until restored or purged.
func (c *Client) ListRecycled(ctx context.Context, containerTypeID string) ([]Container, error) {
	path := deletedContainersPath + "?$filter=" + url.QueryEscape(fmt.Sprintf("containerTypeId eq %s", containerTypeID))
	containers, err := c.list(ctx, path, containerTypeID)
	if err != nil {
		return nil, err
	}
	for i := range containers {
		containers[i].Status = StatusRecycled
	}
	return containers, nil
}

func (c *Client) list(ctx context.Context, path, target string) ([]Container, error) {
	var out struct {
		Value []Container `json:"value"`
	}
	if err := c.rest.DoJSON(ctx, http.MethodGet, path, nil, nil, &out, target); err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return out.Value, nil
}

// Get returns one active container, or (nil, nil) when it does not exist.
func (c *Client) Get(ctx context.Context, id string) (*Container, error) {
	status, data, err := c.rest.Do(ctx, http.MethodGet, containersPath+"/"+id, nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, ctyperr.FromResponse(status, data, id)
	}

	var container Container
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("failed to unmarshal container: %w", err)
	}
	container.Status = StatusActive
	return &container, nil
}

// Recycle soft-deletes an active container.
func (c *Client) Recycle(ctx context.Context, id string) error {
	status, data, err := c.rest.Do(ctx, http.MethodDelete, containersPath+"/"+id, nil, nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return ctyperr.FromResponse(status, data, id)
	}
	return nil
}

// Restore brings a recycled container back to active.
func (c *Client) Restore(ctx context.Context, id string) error {
	status, data, err := c.rest.Do(ctx, http.MethodPost, deletedContainersPath+"/"+id+"/restore", nil, nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return ctyperr.FromResponse(status, data, id)
	}
	return nil
}

// Delete permanently removes a recycled container. Active containers must
// be recycled first.
func (c *Client) Delete(ctx context.Context, id string) error {
	status, data, err := c.rest.Do(ctx, http.MethodDelete, deletedContainersPath+"/"+id, nil, nil)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return ctyperr.FromResponse(status, data, id)
	}
	return nil
}
