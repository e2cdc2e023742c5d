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

// Package common wires configuration, the local store, the session and the
// REST clients together for the command packages.
package common

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/microsoft/spectl/pkg/armbilling"
	"github.com/microsoft/spectl/pkg/auth"
	"github.com/microsoft/spectl/pkg/config"
	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/graph"
	"github.com/microsoft/spectl/pkg/keycred"
	"github.com/microsoft/spectl/pkg/registry"
	"github.com/microsoft/spectl/pkg/session"
	"github.com/microsoft/spectl/pkg/spadmin"
	"github.com/microsoft/spectl/pkg/store"
	"github.com/microsoft/spectl/pkg/workflow"
)

// Runtime is everything a command needs, built once per invocation.
type Runtime struct {
	Config  *config.Config
	Store   *store.Store
	Session *session.Session
	Stores  *workflow.Stores
}

// NewRuntime loads configuration, opens the local store and restores the
// persisted session.
func NewRuntime(ctx context.Context) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	sess, err := session.New(auth.NewBroker(), st, cfg.ClientID)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &Runtime{
		Config:  cfg,
		Store:   st,
		Session: sess,
		Stores:  workflow.NewStores(st),
	}, nil
}

// Close releases the store.
func (r *Runtime) Close() {
	_ = r.Store.Close()
}

// Account returns the signed-in account or AuthenticationFailed.
func (r *Runtime) Account() (*session.Account, error) {
	account := r.Session.Account()
	if account == nil {
		return nil, ctyperr.New(ctyperr.CodeAuthenticationFailed, "session", "not signed in; run 'spectl login' first")
	}
	return account, nil
}

// Directory builds the Graph v1.0 application service on the session's
// Graph token.
func (r *Runtime) Directory() *graph.AppService {
	client := graph.NewClient(graph.BaseURLV1, r.Session.TokenSource(auth.AudienceGraph), nil)
	return graph.NewAppService(client, r.Config.CredentialPropagationGrace)
}

// Registry builds the container type registry client on the Graph beta
// surface.
func (r *Runtime) Registry() *registry.Client {
	return registry.NewClient(graph.NewClient(graph.BaseURLBeta, r.Session.TokenSource(auth.AudienceGraph), nil))
}

// Containers builds the container client on the Graph beta surface. When a
// container type id is given and credential material for its owning app is
// on file, the client authenticates as that application; otherwise it falls
// back to the operator's delegated token.
func (r *Runtime) Containers(containerTypeID string) (*spadmin.Client, error) {
	token := r.Session.TokenSource(auth.AudienceGraph)
	if containerTypeID != "" {
		appToken, err := r.owningAppTokenSource(containerTypeID)
		if err != nil {
			return nil, err
		}
		if appToken != nil {
			token = appToken
		}
	}
	return spadmin.NewClient(graph.NewClient(graph.BaseURLBeta, token, nil)), nil
}

// owningAppTokenSource resolves the container type's owning application and
// builds an app-only token source from its stored credential. It returns
// nil when the type or its credential is not on file, leaving the caller on
// the delegated token.
func (r *Runtime) owningAppTokenSource(containerTypeID string) (graph.TokenSource, error) {
	account, err := r.Account()
	if err != nil {
		return nil, err
	}
	ct, err := r.Stores.ContainerTypes.Get(containerTypeID)
	if err != nil || ct == nil {
		return nil, err
	}
	stored, err := r.Stores.Credentials.Get(ct.OwningAppID)
	if err != nil || stored == nil {
		return nil, err
	}

	key := auth.Key{
		Audience: auth.AudienceGraph,
		TenantID: account.TenantID,
		ClientID: ct.OwningAppID,
	}
	if _, ok := r.Session.Broker().Credential(key); !ok {
		cred, err := r.appOnlyCredential(account.TenantID, ct.OwningAppID, stored)
		if err != nil {
			return nil, err
		}
		r.Session.Broker().Register(key, cred, []string{auth.GraphScope})
	}
	return graph.TokenSource(r.Session.Broker().TokenSource(key)), nil
}

// appOnlyCredential turns stored credential material into a token
// credential, preferring the certificate over the client secret. When the
// application record carries a thumbprint, the certificate must match it.
func (r *Runtime) appOnlyCredential(tenantID, clientID string, stored *workflow.Credential) (azcore.TokenCredential, error) {
	if stored.CertificatePEM != "" {
		material, err := keycred.Parse(stored.CertificatePEM, stored.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		app, err := r.Stores.Apps.Get(clientID)
		if err != nil {
			return nil, err
		}
		if app != nil && app.Thumbprint != "" {
			want, err := keycred.X5TFromHex(app.Thumbprint)
			if err != nil || want != material.X5T() {
				return nil, ctyperr.New(ctyperr.CodeAuthenticationFailed, "credential",
					"stored certificate does not match the thumbprint recorded for the application")
			}
		}
		return auth.NewCertificateCredential(tenantID, clientID, material,
			&auth.CertificateCredentialOptions{Authority: r.Config.Authority})
	}
	if stored.Secret != "" {
		return auth.NewSecretCredential(tenantID, clientID, stored.Secret)
	}
	return nil, ctyperr.New(ctyperr.CodeAuthenticationFailed, "credential",
		"no usable credential material stored for application %s", clientID)
}

// Billing builds the ARM provisioner for one subscription using the
// session's ARM credential.
func (r *Runtime) Billing(subscriptionID string) (*armbilling.Provisioner, error) {
	cred, err := r.Session.Credential(auth.AudienceARM)
	if err != nil {
		return nil, err
	}
	clients, err := armbilling.NewClientSetRetriever().Retrieve(subscriptionID, cred, nil)
	if err != nil {
		return nil, err
	}
	return armbilling.NewProvisioner(clients, r.Config.ProviderPollInterval, r.Config.ProviderPollTimeout), nil
}

// OpenBrowser launches the system browser at url.
func OpenBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
