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

package graph

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/keycred"
)

// AppService is the directory application service: create, look up and
// update application registrations and attach credential material to them.
type AppService struct {
	client *Client

	// propagationGrace is how long to wait after attaching a key
	// credential before requesting a secret for the same app. Directory
	// writes are not immediately consistent.
	propagationGrace time.Duration

	// sleep is injectable for tests; defaults to a context-aware wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAppService returns an AppService over the v1.0 Graph client.
func NewAppService(client *Client, propagationGrace time.Duration) *AppService {
	return &AppService{
		client:           client,
		propagationGrace: propagationGrace,
		sleep:            contextSleep,
	}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	DisplayName  string `validate:"required,min=1,max=120"`
	LoopbackPort int
}

// Create registers a new application with the SharePoint Embedded
// permission preset, the loopback redirect URIs and an api://{appId}
// identifier URI.
func (s *AppService) Create(ctx context.Context, req CreateRequest) (*Application, error) {
	if err := ctyperr.ValidateStruct("displayName", req); err != nil {
		return nil, err
	}

	redirect := fmt.Sprintf("http://localhost:%d/redirect", req.LoopbackPort)
	body := map[string]any{
		"displayName":    req.DisplayName,
		"signInAudience": "AzureADMyOrganization",
		"web": map[string]any{
			"redirectUris": []string{redirect},
		},
		"spa": map[string]any{
			"redirectUris": []string{redirect},
		},
		"requiredResourceAccess": defaultResourceAccess(),
	}

	var app Application
	if err := s.client.DoJSON(ctx, http.MethodPost, "/applications", nil, body, &app, req.DisplayName); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	// The identifier URI embeds the server-assigned appId, so it can only
	// be set after creation.
	patch := map[string]any{
		"identifierUris": []string{"api://" + app.ClientID},
	}
	if err := s.Update(ctx, app.ObjectID, patch); err != nil {
		return nil, fmt.Errorf("failed to set identifier URI on %s: %w", app.ClientID, err)
	}

	return &app, nil
}

// Get returns the application with the given directory object id, or
// (nil, nil) when it does not exist.
func (s *AppService) Get(ctx context.Context, objectID string) (*Application, error) {
	status, data, err := s.client.Do(ctx, http.MethodGet, "/applications/"+objectID, nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, ctyperr.FromResponse(status, data, objectID)
	}

	var app Application
	if err := unmarshalInto(data, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// GetByAppID looks an application up by its client id (appId), or
// (nil, nil) when no registration matches.
func (s *AppService) GetByAppID(ctx context.Context, clientID string) (*Application, error) {
	path := "/applications?$filter=" + url.QueryEscape(fmt.Sprintf("appId eq '%s'", clientID))

	var list struct {
		Value []Application `json:"value"`
	}
	if err := s.client.DoJSON(ctx, http.MethodGet, path, nil, nil, &list, clientID); err != nil {
		return nil, fmt.Errorf("failed to look up application by appId: %w", err)
	}
	if len(list.Value) == 0 {
		return nil, nil
	}
	return &list.Value[0], nil
}

// Search finds applications whose display name matches term, using the
// eventual-consistency search surface.
func (s *AppService) Search(ctx context.Context, term string) ([]Application, error) {
	path := "/applications?$search=" + url.QueryEscape(fmt.Sprintf(`"displayName:%s"`, term)) + "&$count=true"
	headers := http.Header{"ConsistencyLevel": []string{"eventual"}}

	var list struct {
		Count int           `json:"@odata.count"`
		Value []Application `json:"value"`
	}
	if err := s.client.DoJSON(ctx, http.MethodGet, path, headers, nil, &list, term); err != nil {
		return nil, fmt.Errorf("failed to search applications: %w", err)
	}
	return list.Value, nil
}

// Update PATCHes the application object.
func (s *AppService) Update(ctx context.Context, objectID string, patch map[string]any) error {
	if err := s.client.DoJSON(ctx, http.MethodPatch, "/applications/"+objectID, nil, patch, nil, objectID); err != nil {
		return fmt.Errorf("failed to update application: %w", err)
	}
	return nil
}

// AddKeyCredential attaches the certificate as a verify-only key credential.
// The full keyCredentials list is replaced; this tool is the only writer of
// the apps it creates.
func (s *AppService) AddKeyCredential(ctx context.Context, objectID string, material *keycred.Material) error {
	patch := map[string]any{
		"keyCredentials": []KeyCredential{{
			Type:                "AsymmetricX509Cert",
			Usage:               "Verify",
			Key:                 base64.StdEncoding.EncodeToString(material.Certificate.Raw),
			DisplayName:         "spectl generated",
			CustomKeyIdentifier: base64.StdEncoding.EncodeToString(material.Thumbprint()),
		}},
	}
	if err := s.Update(ctx, objectID, patch); err != nil {
		return fmt.Errorf("failed to attach key credential: %w", err)
	}
	return nil
}

// AddPasswordCredential requests a new client secret from the directory.
func (s *AppService) AddPasswordCredential(ctx context.Context, objectID, displayName string) (*PasswordCredential, error) {
	body := map[string]any{
		"passwordCredential": map[string]any{
			"displayName": displayName,
		},
	}

	var cred PasswordCredential
	err := s.client.DoJSON(ctx, http.MethodPost, "/applications/"+objectID+"/addPassword", nil, body, &cred, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to add password credential: %w", err)
	}
	return &cred, nil
}

// EnsureCredentials attaches the generated certificate immediately and,
// after the propagation grace, a password credential. The grace exists
// because a secret requested right after the key write is routinely lost to
// directory replication lag.
func (s *AppService) EnsureCredentials(ctx context.Context, app *Application, material *keycred.Material) (*PasswordCredential, error) {
	logger := logr.FromContextOrDiscard(ctx)

	if err := s.AddKeyCredential(ctx, app.ObjectID, material); err != nil {
		return nil, err
	}
	app.Thumbprint = material.ThumbprintHex()

	logger.V(1).Info("waiting for credential propagation", "grace", s.propagationGrace.String(), "appId", app.ClientID)
	if err := s.sleep(ctx, s.propagationGrace); err != nil {
		return nil, err
	}

	secret, err := s.AddPasswordCredential(ctx, app.ObjectID, "spectl generated")
	if err != nil {
		return nil, err
	}
	app.HasSecret = true
	return secret, nil
}

// ListUnused returns the applications from apps that do not already own a
// container type, for "pick a guest app" flows.
func ListUnused(apps []Application, owningAppIDs []string) []Application {
	owning := make(map[string]bool, len(owningAppIDs))
	for _, id := range owningAppIDs {
		owning[id] = true
	}

	var out []Application
	for _, app := range apps {
		if !owning[app.ClientID] {
			out = append(out, app)
		}
	}
	return out
}
