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

package app

import (
	"context"

	"github.com/microsoft/spectl/cmd/common"
	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/graph"
	"github.com/microsoft/spectl/pkg/registry"
)

// CreateOptions carries the raw inputs of 'app create'.
type CreateOptions struct {
	DisplayName string
}

// ValidatedCreateOptions is CreateOptions after the session check.
type ValidatedCreateOptions struct {
	Directory *graph.AppService
}

func DefaultCreateOptions() *CreateOptions {
	return &CreateOptions{}
}

func (o *CreateOptions) Validate(ctx context.Context, rt *common.Runtime) (*ValidatedCreateOptions, error) {
	if _, err := rt.Account(); err != nil {
		return nil, err
	}
	return &ValidatedCreateOptions{Directory: rt.Directory()}, nil
}

// ImportOptions carries the raw inputs of 'app import'.
type ImportOptions struct {
	AppID     string
	Confirmed bool
}

// ValidatedImportOptions resolves the application being imported.
type ValidatedImportOptions struct {
	Directory *graph.AppService
	App       *graph.Application
}

func DefaultImportOptions() *ImportOptions {
	return &ImportOptions{}
}

func (o *ImportOptions) Validate(ctx context.Context, rt *common.Runtime) (*ValidatedImportOptions, error) {
	if _, err := rt.Account(); err != nil {
		return nil, err
	}
	dir := rt.Directory()

	app, err := dir.GetByAppID(ctx, o.AppID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, ctyperr.New(ctyperr.CodeNotFound, o.AppID, "application does not exist in this tenant")
	}
	return &ValidatedImportOptions{Directory: dir, App: app}, nil
}

// ListOptions carries the raw inputs of 'app list'.
type ListOptions struct {
	Search     string
	UnusedOnly bool
}

// ValidatedListOptions bundles the clients list needs.
type ValidatedListOptions struct {
	Directory *graph.AppService
	Registry  *registry.Client
}

func DefaultListOptions() *ListOptions {
	return &ListOptions{}
}

func (o *ListOptions) Validate(ctx context.Context, rt *common.Runtime) (*ValidatedListOptions, error) {
	if _, err := rt.Account(); err != nil {
		return nil, err
	}
	return &ValidatedListOptions{Directory: rt.Directory(), Registry: rt.Registry()}, nil
}
