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

// Package auth is the token broker: it exchanges interactive or app-only
// credentials for bearer tokens scoped to one audience at a time (Microsoft
// Graph, ARM, or a tenant SharePoint host) and caches one session per
// (audience, tenant, client) tuple. Refresh is lazy; there is no background
// refresh, a cached token is reused until it is found expired or the caller
// invalidates it after a 401.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/microsoft/spectl/pkg/ctyperr"
)

// DefaultAuthority is the public cloud login endpoint.
const DefaultAuthority = "https://login.microsoftonline.com"

// Audiences.
const (
	AudienceGraph = "graph"
	AudienceARM   = "arm"
	AudienceSPO   = "sharepoint"
)

// GraphScope and ARMScope are the .default scopes for the two fixed
// audiences.
const (
	GraphScope = "https://graph.microsoft.com/.default"
	ARMScope   = "https://management.azure.com/.default"
)

// SharePointScope returns the .default scope for a tenant's SharePoint host.
func SharePointScope(tenantName string) string {
	return fmt.Sprintf("https://%s.sharepoint.com/.default", tenantName)
}

// TokenEndpoint returns the v2.0 token endpoint for a tenant.
func TokenEndpoint(authority, tenantID string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/token", authority, tenantID)
}

// Key identifies one cached session.
type Key struct {
	Audience string
	TenantID string
	ClientID string
}

// refreshSkew is how close to expiry a cached token is still considered
// usable.
const refreshSkew = 5 * time.Minute

type entry struct {
	cred   azcore.TokenCredential
	scopes []string
	token  azcore.AccessToken
	cached bool
}

// Broker caches sessions and serves bearer tokens from them.
type Broker struct {
	mu      sync.Mutex
	entries map[Key]*entry
	now     func() time.Time
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		entries: make(map[Key]*entry),
		now:     time.Now,
	}
}

// Register binds a credential and its scopes to a session key. Registering
// the same key again replaces the session.
func (b *Broker) Register(key Key, cred azcore.TokenCredential, scopes []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = &entry{cred: cred, scopes: scopes}
}

// Token returns a bearer token for the session identified by key, reusing
// the cached one until it is within refreshSkew of expiry.
func (b *Broker) Token(ctx context.Context, key Key) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok {
		return "", ctyperr.New(ctyperr.CodeAuthenticationFailed, key.Audience,
			"no session for tenant %s and client %s; run 'spectl login' first", key.TenantID, key.ClientID)
	}

	if e.cached && e.token.ExpiresOn.After(b.now().Add(refreshSkew)) {
		return e.token.Token, nil
	}

	token, err := e.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: e.scopes, TenantID: key.TenantID})
	if err != nil {
		return "", ctyperr.New(ctyperr.CodeAuthenticationFailed, key.Audience,
			"failed to acquire token: %v", err)
	}

	e.token = token
	e.cached = true
	return token.Token, nil
}

// Invalidate drops the cached token for key so the next Token call hits the
// credential again. Callers use this after the remote API rejects a token
// with 401.
func (b *Broker) Invalidate(key Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[key]; ok {
		e.cached = false
		e.token = azcore.AccessToken{}
	}
}

// Deregister removes the session entirely (sign-out).
func (b *Broker) Deregister(key Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
}

// Credential returns the registered credential for key, for callers that
// hand it to an SDK client instead of drawing raw tokens.
func (b *Broker) Credential(key Key) (azcore.TokenCredential, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, false
	}
	return e.cred, true
}

// TokenSource adapts one broker key into a func the REST clients can call
// per request.
func (b *Broker) TokenSource(key Key) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		return b.Token(ctx, key)
	}
}
