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

package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/spectl/pkg/auth"
	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/store"
)

const globalAdminRoleID = "62e90394-69f5-4237-9190-012177145e10"

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func fakeIDToken(t *testing.T, claims auth.Claims) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString(payload) + "."
}

func fakeAuthority(t *testing.T, idToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "delegated-token",
			"refresh_token": "refresh-1",
			"id_token":      idToken,
			"expires_in":    3599,
		})
	}))
}

func completeRedirect(t *testing.T, authURL string) {
	t.Helper()
	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()

	redirect, err := url.Parse(q.Get("redirect_uri"))
	require.NoError(t, err)
	redirect.RawQuery = url.Values{"code": {"authcode-1"}, "state": {q.Get("state")}}.Encode()

	resp, err := http.Get(redirect.String())
	require.NoError(t, err)
	defer resp.Body.Close()
}

func newTestSession(t *testing.T) (*Session, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	s, err := New(auth.NewBroker(), st, "client-1")
	require.NoError(t, err)
	return s, st
}

func signIn(t *testing.T, s *Session, authority *httptest.Server) *Account {
	t.Helper()
	account, err := s.SignIn(context.Background(), SignInOptions{
		Authority: authority.URL,
		Port:      freePort(t),
		OpenBrowser: func(u string) error {
			go completeRedirect(t, u)
			return nil
		},
		HTTPClient: authority.Client(),
	})
	require.NoError(t, err)
	return account
}

func TestSignInPopulatesAccount(t *testing.T) {
	idToken := fakeIDToken(t, auth.Claims{
		TenantID:          "tenant-1",
		ObjectID:          "oid-1",
		Name:              "Megan Bowen",
		PreferredUsername: "megan@contoso.com",
		Roles:             []string{globalAdminRoleID},
	})
	authority := fakeAuthority(t, idToken)
	defer authority.Close()

	s, st := newTestSession(t)
	account := signIn(t, s, authority)

	assert.Equal(t, "tenant-1", account.TenantID)
	assert.Equal(t, "oid-1", account.HomeAccountID)
	assert.Equal(t, "megan@contoso.com", account.Username)
	assert.True(t, account.IsAdmin)
	assert.Equal(t, account, s.Account())

	// delegated tokens flow from the broker for both fixed audiences
	for _, audience := range []string{auth.AudienceGraph, auth.AudienceARM} {
		tok, err := s.TokenSource(audience)(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "delegated-token", tok)
	}

	// the snapshot survives a restart
	restored, err := New(auth.NewBroker(), st, "client-1")
	require.NoError(t, err)
	require.NotNil(t, restored.Account())
	assert.Equal(t, "tenant-1", restored.Account().TenantID)
}

func TestDelegatedSessionSurvivesRestart(t *testing.T) {
	idToken := fakeIDToken(t, auth.Claims{TenantID: "tenant-1", ObjectID: "oid-1", PreferredUsername: "megan@contoso.com"})
	authority := fakeAuthority(t, idToken)
	defer authority.Close()

	s, st := newTestSession(t)
	signIn(t, s, authority)

	// the refresh token was persisted alongside the snapshot
	var rec tokenRecord
	require.NoError(t, st.Get(store.NamespaceSecrets, tokenKey, &rec))
	assert.Equal(t, "refresh-1", rec.RefreshToken)
	assert.Equal(t, authority.URL, rec.Authority)

	// a fresh broker over the same store acquires tokens without a new
	// sign-in, as every CLI invocation does
	restored, err := New(auth.NewBroker(), st, "client-1")
	require.NoError(t, err)
	require.NotNil(t, restored.Account())

	for _, audience := range []string{auth.AudienceGraph, auth.AudienceARM} {
		tok, err := restored.TokenSource(audience)(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "delegated-token", tok)
	}
	cred, err := restored.Credential(auth.AudienceARM)
	require.NoError(t, err)
	assert.NotNil(t, cred)
}

func TestSignInNonAdmin(t *testing.T) {
	idToken := fakeIDToken(t, auth.Claims{TenantID: "tenant-1", ObjectID: "oid-2", PreferredUsername: "user@contoso.com"})
	authority := fakeAuthority(t, idToken)
	defer authority.Close()

	s, _ := newTestSession(t)
	account := signIn(t, s, authority)
	assert.False(t, account.IsAdmin)
}

func TestSignOut(t *testing.T) {
	idToken := fakeIDToken(t, auth.Claims{TenantID: "tenant-1", ObjectID: "oid-1", PreferredUsername: "megan@contoso.com"})
	authority := fakeAuthority(t, idToken)
	defer authority.Close()

	s, st := newTestSession(t)
	signIn(t, s, authority)

	require.NoError(t, s.SignOut(context.Background()))
	assert.Nil(t, s.Account())

	_, err := s.TokenSource(auth.AudienceGraph)(context.Background())
	require.Error(t, err)
	assert.True(t, ctyperr.Is(err, ctyperr.CodeAuthenticationFailed))

	restored, err := New(auth.NewBroker(), st, "client-1")
	require.NoError(t, err)
	assert.Nil(t, restored.Account())

	// the refresh token is gone with the snapshot
	var rec tokenRecord
	err = st.Get(store.NamespaceSecrets, tokenKey, &rec)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = restored.TokenSource(auth.AudienceGraph)(context.Background())
	require.Error(t, err)
	assert.True(t, ctyperr.Is(err, ctyperr.CodeAuthenticationFailed))

	// signing out twice is fine
	require.NoError(t, s.SignOut(context.Background()))
}

func TestOnChangeNotifications(t *testing.T) {
	idToken := fakeIDToken(t, auth.Claims{TenantID: "tenant-1", ObjectID: "oid-1", PreferredUsername: "megan@contoso.com"})
	authority := fakeAuthority(t, idToken)
	defer authority.Close()

	s, _ := newTestSession(t)
	var seen []*Account
	s.OnChange(func(a *Account) { seen = append(seen, a) })

	signIn(t, s, authority)
	require.NoError(t, s.SignOut(context.Background()))

	require.Len(t, seen, 2)
	assert.NotNil(t, seen[0])
	assert.Nil(t, seen[1])
}

func TestTokenSourceSignedOut(t *testing.T) {
	s, _ := newTestSession(t)
	_, err := s.TokenSource(auth.AudienceGraph)(context.Background())
	require.Error(t, err)
	assert.True(t, ctyperr.Is(err, ctyperr.CodeAuthenticationFailed))
}
