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
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/go-logr/logr"

	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/keycred"
)

// ErrNoAuthCode is returned when the browser redirect arrives without an
// authorization code, e.g. the operator denied consent.
var ErrNoAuthCode = errors.New("no authorization code received from the authorization endpoint")

// redirectPath is the loopback route the authorization endpoint redirects
// back to. It must match a redirect URI registered on the client app.
const redirectPath = "/redirect"

// InteractiveConfig drives one interactive sign-in attempt.
type InteractiveConfig struct {
	Authority string // defaults to DefaultAuthority
	TenantID  string // defaults to "organizations"
	ClientID  string
	Port      int
	Scopes    []string

	// OpenBrowser launches the system browser at the authorization URL.
	// When nil the URL is only logged, for environments without a
	// browser.
	OpenBrowser func(url string) error

	// HTTPClient overrides http.DefaultClient, for tests.
	HTTPClient *http.Client
}

// SignInResult is the outcome of a successful interactive sign-in.
type SignInResult struct {
	AccessToken  azcore.AccessToken
	RefreshToken string
	IDToken      string
	Claims       *Claims
}

type redirectOutcome struct {
	code string
	err  error
}

// SignIn runs the authorization-code + PKCE flow: starts the loopback
// listener, opens the browser, waits for the redirect, and exchanges the
// code. The loopback listener is torn down exactly once per attempt, on
// success, failure and cancellation alike.
func SignIn(ctx context.Context, cfg InteractiveConfig) (*SignInResult, error) {
	logger := logr.FromContextOrDiscard(ctx)

	if cfg.ClientID == "" {
		return nil, ctyperr.New(ctyperr.CodeValidationFailed, "clientId", "client id is required for sign-in")
	}
	authority := cfg.Authority
	if authority == "" {
		authority = DefaultAuthority
	}
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "organizations"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	verifier, challenge, err := newPKCEPair()
	if err != nil {
		return nil, err
	}
	state, err := keycred.NewSecret(32)
	if err != nil {
		return nil, err
	}
	redirectURI := fmt.Sprintf("http://localhost:%d%s", cfg.Port, redirectPath)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to start loopback listener on port %d: %w", cfg.Port, err)
	}

	outcome := make(chan redirectOutcome, 1)
	var deliver sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc(redirectPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var result redirectOutcome
		switch {
		case q.Get("state") != state:
			result.err = fmt.Errorf("authorization response state mismatch")
		case q.Get("error") != "":
			result.err = fmt.Errorf("%w: %s: %s", ErrNoAuthCode, q.Get("error"), q.Get("error_description"))
		case q.Get("code") == "":
			result.err = ErrNoAuthCode
		default:
			result.code = q.Get("code")
		}

		w.Header().Set("Content-Type", "text/html")
		if result.err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "<html><body>Sign-in failed. You may close this window.</body></html>")
		} else {
			fmt.Fprint(w, "<html><body>Sign-in complete. You may close this window.</body></html>")
		}

		deliver.Do(func() { outcome <- result })
	})

	server := &http.Server{Handler: mux}
	var shutdown sync.Once
	teardown := func() {
		shutdown.Do(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}
	defer teardown()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver.Do(func() { outcome <- redirectOutcome{err: fmt.Errorf("loopback listener failed: %w", err)} })
		}
	}()

	authURL := authority + "/" + tenant + "/oauth2/v2.0/authorize?" + url.Values{
		"client_id":             {cfg.ClientID},
		"response_type":         {"code"},
		"redirect_uri":          {redirectURI},
		"scope":                 {strings.Join(cfg.Scopes, " ")},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"prompt":                {"select_account"},
	}.Encode()

	logger.Info("waiting for browser sign-in", "url", authURL)
	if cfg.OpenBrowser != nil {
		if err := cfg.OpenBrowser(authURL); err != nil {
			logger.Error(err, "failed to open browser; sign in manually at the URL above")
		}
	}

	var code string
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-outcome:
		if result.err != nil {
			return nil, result.err
		}
		code = result.code
	}

	// The listener's job ends with the code; shut it down before the
	// exchange so a stray second redirect cannot race the result.
	teardown()

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {cfg.ClientID},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"code_verifier": {verifier},
		"scope":         {strings.Join(cfg.Scopes, " ")},
	}
	tr, err := postTokenForm(ctx, httpClient, TokenEndpoint(authority, tenant), form)
	if err != nil {
		return nil, err
	}

	result := &SignInResult{
		AccessToken: azcore.AccessToken{
			Token:     tr.AccessToken,
			ExpiresOn: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		},
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
	}
	if tr.IDToken != "" {
		claims, err := ParseIDTokenClaims(tr.IDToken)
		if err != nil {
			return nil, err
		}
		result.Claims = claims
	}
	return result, nil
}

// newPKCEPair returns a code verifier and its S256 challenge.
func newPKCEPair() (verifier, challenge string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate PKCE verifier: %w", err)
	}
	verifier = base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// RefreshTokenCredential serves delegated tokens for any audience from the
// refresh token obtained at sign-in. The refresh token rotates on each
// exchange.
type RefreshTokenCredential struct {
	authority string
	tenantID  string
	clientID  string
	client    *http.Client

	mu           sync.Mutex
	refreshToken string
	onRotate     func(refreshToken string)
}

var _ azcore.TokenCredential = (*RefreshTokenCredential)(nil)

// NewRefreshTokenCredential wraps a refresh token from SignIn.
func NewRefreshTokenCredential(authority, tenantID, clientID, refreshToken string, httpClient *http.Client) *RefreshTokenCredential {
	if authority == "" {
		authority = DefaultAuthority
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RefreshTokenCredential{
		authority:    authority,
		tenantID:     tenantID,
		clientID:     clientID,
		client:       httpClient,
		refreshToken: refreshToken,
	}
}

// OnRotate registers an observer for rotated refresh tokens. Sessions use
// it to keep the persisted token current so later processes resume from the
// newest one.
func (c *RefreshTokenCredential) OnRotate(fn func(refreshToken string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRotate = fn
}

// GetToken implements azcore.TokenCredential via the refresh-token grant.
func (c *RefreshTokenCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.clientID},
		"refresh_token": {c.refreshToken},
		"scope":         {strings.Join(opts.Scopes, " ")},
	}
	tr, err := postTokenForm(ctx, c.client, TokenEndpoint(c.authority, c.tenantID), form)
	if err != nil {
		return azcore.AccessToken{}, err
	}

	if tr.RefreshToken != "" {
		c.refreshToken = tr.RefreshToken
		if c.onRotate != nil {
			c.onRotate(tr.RefreshToken)
		}
	}
	return azcore.AccessToken{
		Token:     tr.AccessToken,
		ExpiresOn: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// fullTokenResponse is the token endpoint response for the delegated grants.
type fullTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func postTokenForm(ctx context.Context, client *http.Client, endpoint string, form url.Values) (*fullTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ctyperr.FromResponse(resp.StatusCode, body, "token")
	}

	var tr fullTokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	return &tr, nil
}
