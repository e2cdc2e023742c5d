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

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/spectl/pkg/keycred"
)

func testMaterial(t *testing.T) *keycred.Material {
	t.Helper()
	m, err := keycred.Generate("assertion test", time.Hour)
	require.NoError(t, err)
	return m
}

func parseAssertion(t *testing.T, assertion string) (*jwt.Token, jwt.MapClaims) {
	t.Helper()
	claims := jwt.MapClaims{}
	token, _, err := jwt.NewParser().ParseUnverified(assertion, claims)
	require.NoError(t, err)
	return token, claims
}

func TestNewClientAssertionClaims(t *testing.T) {
	m := testMaterial(t)
	endpoint := TokenEndpoint(DefaultAuthority, "tenant-1")

	now := time.Now()
	assertion, err := NewClientAssertion("client-1", endpoint, m, now)
	require.NoError(t, err)

	token, claims := parseAssertion(t, assertion)

	assert.Equal(t, "RS256", token.Header["alg"])
	assert.Equal(t, m.X5T(), token.Header["x5t"])

	assert.Equal(t, "client-1", claims["iss"])
	assert.Equal(t, "client-1", claims["sub"])
	assert.Equal(t, endpoint, claims["aud"])
	assert.NotEmpty(t, claims["jti"])

	nbf := int64(claims["nbf"].(float64))
	exp := int64(claims["exp"].(float64))
	assert.Equal(t, int64(3600), exp-nbf, "assertion lifetime must be exactly one hour")
	assert.Equal(t, now.Unix(), nbf)
}

func TestNewClientAssertionJTIUnique(t *testing.T) {
	m := testMaterial(t)
	endpoint := TokenEndpoint(DefaultAuthority, "tenant-1")
	now := time.Now()

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		assertion, err := NewClientAssertion("client-1", endpoint, m, now)
		require.NoError(t, err)
		_, claims := parseAssertion(t, assertion)
		jti := claims["jti"].(string)
		assert.False(t, seen[jti], "jti must be unique across calls within the same second")
		seen[jti] = true
	}
}

func TestNewClientAssertionSignatureVerifies(t *testing.T) {
	m := testMaterial(t)
	assertion, err := NewClientAssertion("client-1", "https://example/token", m, time.Now())
	require.NoError(t, err)

	_, err = jwt.Parse(assertion, func(token *jwt.Token) (any, error) {
		return &m.PrivateKey.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience("https://example/token"))
	require.NoError(t, err)
}

func TestCertificateCredentialGetToken(t *testing.T) {
	m := testMaterial(t)

	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"grant_type":            r.PostFormValue("grant_type"),
			"client_id":             r.PostFormValue("client_id"),
			"scope":                 r.PostFormValue("scope"),
			"client_assertion_type": r.PostFormValue("client_assertion_type"),
			"client_assertion":      r.PostFormValue("client_assertion"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"app-only-token","expires_in":3599}`))
	}))
	defer server.Close()

	cred, err := NewCertificateCredential("tenant-1", "client-1", m, &CertificateCredentialOptions{
		Authority:  server.URL,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	token, err := cred.GetToken(context.Background(), policy.TokenRequestOptions{Scopes: []string{GraphScope}})
	require.NoError(t, err)

	assert.Equal(t, "app-only-token", token.Token)
	assert.True(t, token.ExpiresOn.After(time.Now()))

	assert.Equal(t, "client_credentials", gotForm["grant_type"])
	assert.Equal(t, "client-1", gotForm["client_id"])
	assert.Equal(t, GraphScope, gotForm["scope"])
	assert.Equal(t, clientAssertionType, gotForm["client_assertion_type"])

	_, claims := parseAssertion(t, gotForm["client_assertion"])
	assert.Equal(t, TokenEndpoint(server.URL, "tenant-1"), claims["aud"])
}

func TestCertificateCredentialRejectsBadInput(t *testing.T) {
	m := testMaterial(t)

	_, err := NewCertificateCredential("", "client-1", m, nil)
	require.Error(t, err)

	_, err = NewCertificateCredential("tenant-1", "client-1", nil, nil)
	require.Error(t, err)
}

func TestCertificateCredentialServerError(t *testing.T) {
	m := testMaterial(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_client","message":"bad assertion"}}`))
	}))
	defer server.Close()

	cred, err := NewCertificateCredential("tenant-1", "client-1", m, &CertificateCredentialOptions{
		Authority:  server.URL,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	_, err = cred.GetToken(context.Background(), policy.TokenRequestOptions{Scopes: []string{ARMScope}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad assertion")
}
