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

// Package workflow drives the multi-step container type operations: tenant
// registration of permission grants and paid container type creation with
// its billing provisioning. Each workflow is an explicit state machine so
// a failure names the step it died in.
package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/spectl/pkg/armbilling"
	"github.com/microsoft/spectl/pkg/graph"
	"github.com/microsoft/spectl/pkg/keycred"
	"github.com/microsoft/spectl/pkg/registry"
	"github.com/microsoft/spectl/pkg/store"
)

// ErrImportNotConfirmed is returned when a workflow would attach new
// credentials to an application this tool did not create and the operator
// has not confirmed the mutation.
var ErrImportNotConfirmed = errors.New("credential attach to an existing application was not confirmed")

// State of a workflow run.
type State string

const (
	StateNotStarted            State = "NotStarted"
	StateAppResolved           State = "AppResolved"
	StatePermissionsChosen     State = "PermissionsChosen"
	StateRegistrationLoaded    State = "RegistrationLoaded"
	StateRegistrationSubmitted State = "RegistrationSubmitted"
	StatePropagating           State = "Propagating"
	StateDone                  State = "Done"
	StateFailed                State = "Failed"
)

// Directory is the application surface the workflows need.
type Directory interface {
	GetByAppID(ctx context.Context, clientID string) (*graph.Application, error)
	Create(ctx context.Context, req graph.CreateRequest) (*graph.Application, error)
	EnsureCredentials(ctx context.Context, app *graph.Application, material *keycred.Material) (*graph.PasswordCredential, error)
}

var _ Directory = (*graph.AppService)(nil)

// Registry is the container type surface the workflows need.
type Registry interface {
	Create(ctx context.Context, ct *registry.ContainerType) (*registry.ContainerType, error)
	Delete(ctx context.Context, id string) error
	GetRegistration(ctx context.Context, containerTypeID, tenantID string) (*registry.Registration, error)
	SubmitRegistration(ctx context.Context, reg *registry.Registration) error
	GetGrant(ctx context.Context, containerTypeID, appID string) (*registry.ApplicationPermissions, error)
}

var _ Registry = (*registry.Client)(nil)

// Billing is the ARM surface the paid creation workflow needs.
type Billing interface {
	EnsureProviderRegistered(ctx context.Context, subscriptionID string) error
	CreateBillingAccount(ctx context.Context, req armbilling.BillingAccountRequest) error
}

var _ Billing = (*armbilling.Provisioner)(nil)

// Credential is the stored secret material of an application this tool
// created or imported. It lives in the secrets namespace, never on the
// Application record.
type Credential struct {
	CertificatePEM string `json:"certificatePem"`
	PrivateKeyPEM  string `json:"privateKeyPem"`
	Secret         string `json:"secret,omitempty"`
}

// Stores bundles the typed views of the local store the workflows read and
// write.
type Stores struct {
	Apps           *store.CRUD[graph.Application]
	ContainerTypes *store.CRUD[registry.ContainerType]
	Registrations  *store.CRUD[registry.Registration]
	Credentials    *store.CRUD[Credential]
}

// NewStores lays the workflow records out in the two store namespaces.
func NewStores(st *store.Store) *Stores {
	return &Stores{
		Apps:           store.NewCRUD[graph.Application](st, store.NamespaceGeneral, "app"),
		ContainerTypes: store.NewCRUD[registry.ContainerType](st, store.NamespaceGeneral, "containerType"),
		Registrations:  store.NewCRUD[registry.Registration](st, store.NamespaceGeneral, "registration"),
		Credentials:    store.NewCRUD[Credential](st, store.NamespaceSecrets, "app"),
	}
}

// certificateValidity is how long generated application certificates live.
const certificateValidity = 2 * 365 * 24 * time.Hour

type stepper struct {
	state State
}

func (s *stepper) transition(ctx context.Context, next State) {
	logr.FromContextOrDiscard(ctx).Info("workflow step", "from", string(s.state), "to", string(next))
	s.state = next
}

func (s *stepper) fail(ctx context.Context, err error) error {
	logr.FromContextOrDiscard(ctx).Info("workflow failed", "in", string(s.state), "reason", err.Error())
	s.state = StateFailed
	return err
}
