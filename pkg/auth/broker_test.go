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
	"fmt"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/spectl/pkg/ctyperr"
)

type fakeCredential struct {
	calls int
	token azcore.AccessToken
	err   error
}

func (f *fakeCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.calls++
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return f.token, nil
}

func TestBrokerCachesPerKey(t *testing.T) {
	b := NewBroker()
	key := Key{Audience: AudienceGraph, TenantID: "t1", ClientID: "c1"}
	cred := &fakeCredential{token: azcore.AccessToken{Token: "tok", ExpiresOn: time.Now().Add(time.Hour)}}
	b.Register(key, cred, []string{GraphScope})

	for i := 0; i < 3; i++ {
		tok, err := b.Token(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, "tok", tok)
	}
	assert.Equal(t, 1, cred.calls, "cached session must be reused")
}

func TestBrokerRefreshesExpiredToken(t *testing.T) {
	b := NewBroker()
	key := Key{Audience: AudienceARM, TenantID: "t1", ClientID: "c1"}
	cred := &fakeCredential{token: azcore.AccessToken{Token: "tok", ExpiresOn: time.Now().Add(time.Minute)}}
	b.Register(key, cred, []string{ARMScope})

	_, err := b.Token(context.Background(), key)
	require.NoError(t, err)
	_, err = b.Token(context.Background(), key)
	require.NoError(t, err)

	// a token inside the refresh skew is re-acquired on every call
	assert.Equal(t, 2, cred.calls)
}

func TestBrokerInvalidate(t *testing.T) {
	b := NewBroker()
	key := Key{Audience: AudienceGraph, TenantID: "t1", ClientID: "c1"}
	cred := &fakeCredential{token: azcore.AccessToken{Token: "tok", ExpiresOn: time.Now().Add(time.Hour)}}
	b.Register(key, cred, []string{GraphScope})

	_, err := b.Token(context.Background(), key)
	require.NoError(t, err)
	b.Invalidate(key)
	_, err = b.Token(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, 2, cred.calls)
}

func TestBrokerUnknownSession(t *testing.T) {
	b := NewBroker()
	_, err := b.Token(context.Background(), Key{Audience: AudienceGraph, TenantID: "t1", ClientID: "c1"})
	require.Error(t, err)
	assert.True(t, ctyperr.Is(err, ctyperr.CodeAuthenticationFailed))
}

func TestBrokerDeregister(t *testing.T) {
	b := NewBroker()
	key := Key{Audience: AudienceGraph, TenantID: "t1", ClientID: "c1"}
	b.Register(key, &fakeCredential{token: azcore.AccessToken{Token: "tok", ExpiresOn: time.Now().Add(time.Hour)}}, []string{GraphScope})

	b.Deregister(key)
	_, err := b.Token(context.Background(), key)
	require.Error(t, err)
}

func TestBrokerCredentialFailureClassified(t *testing.T) {
	b := NewBroker()
	key := Key{Audience: AudienceGraph, TenantID: "t1", ClientID: "c1"}
	b.Register(key, &fakeCredential{err: fmt.Errorf("wire failure")}, []string{GraphScope})

	_, err := b.Token(context.Background(), key)
	require.Error(t, err)
	assert.True(t, ctyperr.Is(err, ctyperr.CodeAuthenticationFailed))
}

func TestTokenSource(t *testing.T) {
	b := NewBroker()
	key := Key{Audience: AudienceSPO, TenantID: "t1", ClientID: "c1"}
	b.Register(key, &fakeCredential{token: azcore.AccessToken{Token: "spo", ExpiresOn: time.Now().Add(time.Hour)}}, []string{SharePointScope("contoso")})

	src := b.TokenSource(key)
	tok, err := src(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "spo", tok)
}
