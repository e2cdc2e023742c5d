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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the operator-tunable knobs of the CLI. Values come from the
// environment with the SPECTL prefix; anything unset falls back to the
// defaults below.
//
// The credential propagation grace is an observed eventual-consistency lag in
// the directory, not a documented SLA, which is why it is a tunable and not a
// constant.
type Config struct {
	// CredentialPropagationGrace is how long to wait after attaching a key
	// credential before requesting a client secret for the same app.
	CredentialPropagationGrace time.Duration `envconfig:"CREDENTIAL_PROPAGATION_GRACE" default:"20s"`

	// RegistrationPollInterval and RegistrationPollTimeout bound the wait
	// for a submitted container type registration to become visible.
	RegistrationPollInterval time.Duration `envconfig:"REGISTRATION_POLL_INTERVAL" default:"5s"`
	RegistrationPollTimeout  time.Duration `envconfig:"REGISTRATION_POLL_TIMEOUT" default:"60s"`

	// ProviderPollInterval and ProviderPollTimeout bound the wait for the
	// ARM resource provider registration to reach the Registered state.
	ProviderPollInterval time.Duration `envconfig:"PROVIDER_POLL_INTERVAL" default:"30s"`
	ProviderPollTimeout  time.Duration `envconfig:"PROVIDER_POLL_TIMEOUT" default:"5m"`

	// LoopbackPort is the fixed port of the local redirect listener used
	// by the interactive sign-in flow. It must match a redirect URI on the
	// client application.
	LoopbackPort int `envconfig:"LOOPBACK_PORT" default:"12119"`

	// StorePath is the SQLite file holding local state. Empty means
	// ~/.spectl/state.db.
	StorePath string `envconfig:"STORE_PATH"`

	// ClientID is the application this CLI signs in as. It defaults to
	// the Azure CLI public client, which every tenant trusts; tenants
	// that restrict first-party clients set their own app here.
	ClientID string `envconfig:"CLIENT_ID" default:"04b07795-8ddb-461a-bbee-02f9e1bf7b46"`

	// Authority overrides the login authority, for sovereign clouds and
	// tests. Empty means the public cloud authority.
	Authority string `envconfig:"AUTHORITY"`
}

// Load reads the configuration from the environment and resolves the store
// path.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("spectl", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	if cfg.StorePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory for store path: %w", err)
		}
		cfg.StorePath = filepath.Join(home, ".spectl", "state.db")
	}

	return &cfg, nil
}
