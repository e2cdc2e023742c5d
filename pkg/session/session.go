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

// Package session holds the signed-in account and its token sessions. A
// Session is an explicit value passed to whoever needs it; there is no
// process-wide current account.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/go-logr/logr"

	"github.com/microsoft/spectl/pkg/auth"
	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/store"
)

const (
	accountKey = "account/current"
	tokenKey   = "account/refreshToken"
)

// tokenRecord is the persisted half of a delegated token session. It lives
// in the secrets namespace and is rewritten whenever the authority rotates
// the refresh token.
type tokenRecord struct {
	Authority    string `json:"authority,omitempty"`
	RefreshToken string `json:"refreshToken"`
}

// Account is the signed-in operator.
type Account struct {
	TenantID      string    `json:"tenantId"`
	HomeAccountID string    `json:"homeAccountId"`
	Username      string    `json:"username"`
	DisplayName   string    `json:"displayName"`
	IsAdmin       bool      `json:"isAdmin"`
	SignedInAt    time.Time `json:"signedInAt"`
}

// Session owns the current account, its delegated token sessions in the
// broker, and the persisted account snapshot.
type Session struct {
	broker   *auth.Broker
	st       *store.Store
	clientID string

	mu          sync.Mutex
	account     *Account
	subscribers []func(*Account)
}

// New builds a session around a broker and a store. A previously persisted
// account snapshot and its refresh token are loaded and the delegated token
// sessions re-registered, so a signed-in account survives process restarts.
func New(broker *auth.Broker, st *store.Store, clientID string) (*Session, error) {
	s := &Session{broker: broker, st: st, clientID: clientID}

	var account Account
	err := st.Get(store.NamespaceGeneral, accountKey, &account)
	switch {
	case err == nil:
		s.account = &account
	case errors.Is(err, store.ErrNotFound):
		return s, nil
	default:
		return nil, fmt.Errorf("failed to load account snapshot: %w", err)
	}

	var rec tokenRecord
	err = st.Get(store.NamespaceSecrets, tokenKey, &rec)
	switch {
	case err == nil:
		s.registerDelegated(account.TenantID, &rec, nil)
	case errors.Is(err, store.ErrNotFound):
		// Snapshot without a token, e.g. written by an older build.
		// The account shows as signed in but token acquisition fails
		// until the next SignIn.
	default:
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	return s, nil
}

// Account returns the signed-in account, or nil when signed out.
func (s *Session) Account() *Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Broker returns the token broker backing this session.
func (s *Session) Broker() *auth.Broker {
	return s.broker
}

// Store returns the persistence handle shared with the session.
func (s *Session) Store() *store.Store {
	return s.st
}

// OnChange registers a subscriber invoked after every sign-in and sign-out,
// with the new account or nil.
func (s *Session) OnChange(fn func(*Account)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// SignInOptions tune the interactive flow.
type SignInOptions struct {
	Authority   string
	Port        int
	OpenBrowser func(url string) error
	HTTPClient  *http.Client
}

// SignIn runs the interactive browser flow and binds delegated token
// sessions for the Graph and ARM audiences to the returned account's
// tenant. The refresh token is persisted to the secrets namespace so the
// sessions can be rebuilt by New in later processes.
func (s *Session) SignIn(ctx context.Context, opts SignInOptions) (*Account, error) {
	result, err := auth.SignIn(ctx, auth.InteractiveConfig{
		Authority:   opts.Authority,
		ClientID:    s.clientID,
		Port:        opts.Port,
		Scopes:      []string{"openid", "profile", "offline_access", auth.GraphScope},
		OpenBrowser: opts.OpenBrowser,
		HTTPClient:  opts.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	if result.Claims == nil || result.Claims.TenantID == "" {
		return nil, ctyperr.New(ctyperr.CodeAuthenticationFailed, "idToken", "ID token carries no tenant id")
	}

	account := &Account{
		TenantID:      result.Claims.TenantID,
		HomeAccountID: result.Claims.ObjectID,
		Username:      result.Claims.PreferredUsername,
		DisplayName:   result.Claims.Name,
		IsAdmin:       result.Claims.IsAdmin(),
		SignedInAt:    time.Now().UTC(),
	}

	rec := &tokenRecord{Authority: opts.Authority, RefreshToken: result.RefreshToken}
	if err := s.st.Put(store.NamespaceSecrets, tokenKey, rec); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}
	s.registerDelegated(account.TenantID, rec, opts.HTTPClient)

	if err := s.st.Put(store.NamespaceGeneral, accountKey, account); err != nil {
		return nil, fmt.Errorf("failed to persist account snapshot: %w", err)
	}

	s.setAccount(account)
	logr.FromContextOrDiscard(ctx).Info("signed in",
		"tenant", account.TenantID, "user", account.Username, "admin", account.IsAdmin)
	return account, nil
}

// registerDelegated binds one refresh-token credential to the Graph and ARM
// audience keys. A single credential backs both so a rotated refresh token
// stays consistent across audiences, and every rotation is written back to
// the store.
func (s *Session) registerDelegated(tenantID string, rec *tokenRecord, httpClient *http.Client) {
	cred := auth.NewRefreshTokenCredential(rec.Authority, tenantID, s.clientID,
		rec.RefreshToken, httpClient)
	authority := rec.Authority
	cred.OnRotate(func(refreshToken string) {
		_ = s.st.Put(store.NamespaceSecrets, tokenKey, &tokenRecord{
			Authority:    authority,
			RefreshToken: refreshToken,
		})
	})

	for audience, scope := range map[string]string{
		auth.AudienceGraph: auth.GraphScope,
		auth.AudienceARM:   auth.ARMScope,
	} {
		s.broker.Register(auth.Key{
			Audience: audience,
			TenantID: tenantID,
			ClientID: s.clientID,
		}, cred, []string{scope})
	}
}

// TokenSource returns a broker-backed token source for one audience in the
// signed-in tenant. Calling it while signed out yields a source that fails
// with AuthenticationFailed.
func (s *Session) TokenSource(audience string) func(context.Context) (string, error) {
	s.mu.Lock()
	account := s.account
	s.mu.Unlock()

	if account == nil {
		return func(context.Context) (string, error) {
			return "", ctyperr.New(ctyperr.CodeAuthenticationFailed, audience, "not signed in")
		}
	}
	return s.broker.TokenSource(auth.Key{
		Audience: audience,
		TenantID: account.TenantID,
		ClientID: s.clientID,
	})
}

// Credential returns the azcore credential backing one audience, for SDK
// clients that take a TokenCredential rather than raw bearer tokens.
func (s *Session) Credential(audience string) (azcore.TokenCredential, error) {
	s.mu.Lock()
	account := s.account
	s.mu.Unlock()
	if account == nil {
		return nil, ctyperr.New(ctyperr.CodeAuthenticationFailed, audience, "not signed in")
	}

	cred, ok := s.broker.Credential(auth.Key{
		Audience: audience,
		TenantID: account.TenantID,
		ClientID: s.clientID,
	})
	if !ok {
		return nil, ctyperr.New(ctyperr.CodeAuthenticationFailed, audience,
			"no token session for this audience; run 'spectl login' again")
	}
	return cred, nil
}

// SignOut drops the token sessions, the persisted refresh token and the
// account snapshot. Signing out while signed out is a no-op.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	account := s.account
	s.mu.Unlock()
	if account == nil {
		return nil
	}

	for _, audience := range []string{auth.AudienceGraph, auth.AudienceARM, auth.AudienceSPO} {
		s.broker.Deregister(auth.Key{
			Audience: audience,
			TenantID: account.TenantID,
			ClientID: s.clientID,
		})
	}
	if err := s.st.Delete(store.NamespaceSecrets, tokenKey); err != nil {
		return fmt.Errorf("failed to drop refresh token: %w", err)
	}
	if err := s.st.Delete(store.NamespaceGeneral, accountKey); err != nil {
		return fmt.Errorf("failed to drop account snapshot: %w", err)
	}

	s.setAccount(nil)
	logr.FromContextOrDiscard(ctx).Info("signed out", "tenant", account.TenantID, "user", account.Username)
	return nil
}

func (s *Session) setAccount(account *Account) {
	s.mu.Lock()
	s.account = account
	subscribers := make([]func(*Account), len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(account)
	}
}
