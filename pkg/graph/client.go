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

// Package graph talks to Microsoft Graph: a small authenticated REST core
// plus the directory application service built on it. The container type
// registry client reuses the same core against the beta surface.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/microsoft/spectl/pkg/ctyperr"
)

// Base URLs of the two Graph surfaces this tool uses.
const (
	BaseURLV1   = "https://graph.microsoft.com/v1.0"
	BaseURLBeta = "https://graph.microsoft.com/beta"
)

// TokenSource returns a bearer token for each request; the token broker's
// Broker.TokenSource produces one.
type TokenSource func(ctx context.Context) (string, error)

// Client is the authenticated REST core.
type Client struct {
	baseURL    string
	token      TokenSource
	httpClient *http.Client
}

// ClientOptions tweaks a Client.
type ClientOptions struct {
	// HTTPClient overrides http.DefaultClient, for tests.
	HTTPClient *http.Client
}

// NewClient returns a REST core for the given base URL.
func NewClient(baseURL string, token TokenSource, opts *ClientOptions) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: http.DefaultClient,
	}
	if opts != nil && opts.HTTPClient != nil {
		c.httpClient = opts.HTTPClient
	}
	return c
}

// Do performs one request. in, when non-nil, is marshaled as the JSON body.
// The response status and body are returned as-is; classification is the
// caller's job (some callers treat 404 as "absent", not as an error).
func (c *Client) Do(ctx context.Context, method, path string, headers http.Header, in any) (int, []byte, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	token, err := c.token(ctx)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

// DoJSON performs one request, classifies any non-2xx response into a
// ctyperr.Error, and unmarshals a 2xx body into out when out is non-nil.
func (c *Client) DoJSON(ctx context.Context, method, path string, headers http.Header, in, out any, target string) error {
	status, data, err := c.Do(ctx, method, path, headers, in)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return ctyperr.FromResponse(status, data, target)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to unmarshal response for %s %s: %w", method, path, err)
		}
	}
	return nil
}

func unmarshalInto(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
