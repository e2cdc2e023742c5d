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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/keycred"
)

// assertionLifetime is nbf to exp on the client assertion.
const assertionLifetime = time.Hour

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// NewClientAssertion builds the signed JWT presented as a client assertion
// on the client-credentials grant: RS256 over the certificate's private key,
// iss=sub=clientID, aud=token endpoint, a fresh jti, and the certificate's
// SHA-1 thumbprint in the x5t header.
func NewClientAssertion(clientID, tokenEndpoint string, material *keycred.Material, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss": clientID,
		"sub": clientID,
		"aud": tokenEndpoint,
		"jti": uuid.NewString(),
		"nbf": now.Unix(),
		"exp": now.Add(assertionLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["x5t"] = material.X5T()

	signed, err := token.SignedString(material.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}
	return signed, nil
}

// CertificateCredential is an azcore.TokenCredential that authenticates as
// the application itself using a certificate assertion.
type CertificateCredential struct {
	tenantID  string
	clientID  string
	material  *keycred.Material
	authority string
	client    *http.Client
}

var _ azcore.TokenCredential = (*CertificateCredential)(nil)

// CertificateCredentialOptions tweaks a CertificateCredential.
type CertificateCredentialOptions struct {
	// Authority overrides DefaultAuthority, for tests.
	Authority string
	// HTTPClient overrides http.DefaultClient, for tests.
	HTTPClient *http.Client
}

// NewCertificateCredential returns a credential for the given app and
// certificate material.
func NewCertificateCredential(tenantID, clientID string, material *keycred.Material, opts *CertificateCredentialOptions) (*CertificateCredential, error) {
	if tenantID == "" || clientID == "" {
		return nil, fmt.Errorf("tenantID and clientID are required")
	}
	if material == nil || material.PrivateKey == nil {
		return nil, fmt.Errorf("certificate material with a private key is required")
	}

	cred := &CertificateCredential{
		tenantID:  tenantID,
		clientID:  clientID,
		material:  material,
		authority: DefaultAuthority,
		client:    http.DefaultClient,
	}
	if opts != nil {
		if opts.Authority != "" {
			cred.authority = opts.Authority
		}
		if opts.HTTPClient != nil {
			cred.client = opts.HTTPClient
		}
	}
	return cred, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// GetToken implements azcore.TokenCredential by exchanging a fresh client
// assertion for an app-only token scoped to opts.Scopes.
func (c *CertificateCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	endpoint := TokenEndpoint(c.authority, c.tenantID)

	assertion, err := NewClientAssertion(c.clientID, endpoint, c.material, time.Now())
	if err != nil {
		return azcore.AccessToken{}, err
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_id":             {c.clientID},
		"scope":                 {strings.Join(opts.Scopes, " ")},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return azcore.AccessToken{}, ctyperr.FromResponse(resp.StatusCode, body, c.clientID)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return azcore.AccessToken{}, fmt.Errorf("failed to decode token response: %w", err)
	}

	return azcore.AccessToken{
		Token:     tr.AccessToken,
		ExpiresOn: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// NewSecretCredential returns an azcore.TokenCredential for the app-only
// client secret path.
func NewSecretCredential(tenantID, clientID, secret string) (azcore.TokenCredential, error) {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, secret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create client secret credential: %w", err)
	}
	return cred, nil
}
