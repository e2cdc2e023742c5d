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

package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/graph"
	"github.com/microsoft/spectl/pkg/keycred"
	"github.com/microsoft/spectl/pkg/polling"
	"github.com/microsoft/spectl/pkg/registry"
)

// RegisterInput is everything a tenant registration run needs up front.
// Exactly one of AppID and NewAppName selects the consuming application:
// AppID resolves an existing one, NewAppName creates a fresh one.
type RegisterInput struct {
	ContainerTypeID string `validate:"required"`
	TenantID        string `validate:"required"`

	AppID      string
	NewAppName string

	Delegated []registry.Permission
	AppOnly   []registry.Permission

	// ConfirmCredentialAttach is consulted before new credentials are
	// attached to an application this tool has no local record of.
	// Mutating a foreign app is destructive and never happens silently.
	ConfirmCredentialAttach func(app *graph.Application) bool

	LoopbackPort int
}

// RegisterResult reports what a completed run did.
type RegisterResult struct {
	State        State
	App          *graph.Application
	Registration *registry.Registration
	Propagation  polling.Outcome
}

// RegisterWorkflow registers one application's permission grants on a
// container type in the signed-in tenant.
type RegisterWorkflow struct {
	dir    Directory
	reg    Registry
	stores *Stores

	pollInterval time.Duration
	pollTimeout  time.Duration
}

func NewRegisterWorkflow(dir Directory, reg Registry, stores *Stores, pollInterval, pollTimeout time.Duration) *RegisterWorkflow {
	return &RegisterWorkflow{
		dir:          dir,
		reg:          reg,
		stores:       stores,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

// Run walks the registration to Done. Validation happens before the first
// network call. A propagation timeout is a soft warning: the submission was
// already accepted, so the run still completes. App creation is a durable
// side effect and is never unwound by later failures; the app id is in the
// result even on error paths past AppResolved.
func (w *RegisterWorkflow) Run(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	logger := logr.FromContextOrDiscard(ctx)
	step := &stepper{state: StateNotStarted}
	result := &RegisterResult{}

	if err := w.validate(input); err != nil {
		return w.finish(result, step, step.fail(ctx, err))
	}

	app, err := w.resolveApp(ctx, input)
	if err != nil {
		return w.finish(result, step, step.fail(ctx, err))
	}
	result.App = app
	step.transition(ctx, StateAppResolved)

	// Permission sets were validated up front; the state still exists so
	// a later failure names the right step.
	step.transition(ctx, StatePermissionsChosen)

	reg, err := w.reg.GetRegistration(ctx, input.ContainerTypeID, input.TenantID)
	if err != nil {
		return w.finish(result, step, step.fail(ctx, err))
	}
	step.transition(ctx, StateRegistrationLoaded)

	reg.Upsert(registry.ApplicationPermissions{
		AppID:                app.ClientID,
		DelegatedPermissions: input.Delegated,
		AppOnlyPermissions:   input.AppOnly,
	})
	if err := w.reg.SubmitRegistration(ctx, reg); err != nil {
		return w.finish(result, step, step.fail(ctx, err))
	}
	result.Registration = reg
	step.transition(ctx, StateRegistrationSubmitted)

	step.transition(ctx, StatePropagating)
	outcome, err := polling.Until(ctx, w.pollInterval, w.pollTimeout, func(ctx context.Context) (bool, error) {
		grant, err := w.reg.GetGrant(ctx, input.ContainerTypeID, app.ClientID)
		if err != nil {
			return false, err
		}
		return grant != nil, nil
	})
	if err != nil {
		// Cancellation or a hard read failure. The submitted change is
		// already on the server and stays there.
		return w.finish(result, step, step.fail(ctx, err))
	}
	result.Propagation = outcome
	if outcome == polling.TimedOut {
		logger.Info("registration not yet visible, proceeding anyway",
			"containerType", input.ContainerTypeID, "appId", app.ClientID, "waited", w.pollTimeout.String())
	}

	if err := w.stores.Registrations.Put(reg.ID, reg); err != nil {
		return w.finish(result, step, step.fail(ctx, err))
	}
	step.transition(ctx, StateDone)
	return w.finish(result, step, nil)
}

func (w *RegisterWorkflow) finish(result *RegisterResult, step *stepper, err error) (*RegisterResult, error) {
	result.State = step.state
	return result, err
}

func (w *RegisterWorkflow) validate(input RegisterInput) error {
	if err := ctyperr.ValidateStruct(input.ContainerTypeID, &input); err != nil {
		return err
	}
	if (input.AppID == "") == (input.NewAppName == "") {
		return ctyperr.New(ctyperr.CodeValidationFailed, "app",
			"exactly one of an existing app id and a new app name is required")
	}
	if err := registry.ValidatePermissions("delegated", input.Delegated); err != nil {
		return err
	}
	return registry.ValidatePermissions("appOnly", input.AppOnly)
}

// resolveApp selects or creates the consuming application and makes sure it
// carries usable credentials.
func (w *RegisterWorkflow) resolveApp(ctx context.Context, input RegisterInput) (*graph.Application, error) {
	if input.AppID == "" {
		return ProvisionApp(ctx, w.dir, w.stores, input.NewAppName, input.LoopbackPort)
	}

	app, err := w.dir.GetByAppID(ctx, input.AppID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, ctyperr.New(ctyperr.CodeNotFound, input.AppID, "application does not exist in this tenant")
	}

	known, err := w.stores.Apps.Get(app.ClientID)
	if err != nil {
		return nil, err
	}
	if known != nil {
		// Created or previously imported by this tool; credentials are
		// already on file.
		return known, nil
	}

	if input.ConfirmCredentialAttach == nil || !input.ConfirmCredentialAttach(app) {
		return nil, fmt.Errorf("importing %s: %w", app.ClientID, ErrImportNotConfirmed)
	}
	if err := AttachCredentials(ctx, w.dir, w.stores, app); err != nil {
		return nil, err
	}
	return app, nil
}

// ProvisionApp creates an application with fresh credentials and records
// both locally. The app is a durable side effect: when credential attach
// fails the error names the orphaned app id so the operator can resume.
func ProvisionApp(ctx context.Context, dir Directory, stores *Stores, name string, loopbackPort int) (*graph.Application, error) {
	app, err := dir.Create(ctx, graph.CreateRequest{DisplayName: name, LoopbackPort: loopbackPort})
	if err != nil {
		return nil, err
	}
	if err := AttachCredentials(ctx, dir, stores, app); err != nil {
		return nil, fmt.Errorf("application %s was created but attaching credentials failed: %w", app.ClientID, err)
	}
	return app, nil
}

// AttachCredentials generates certificate material and a client secret for
// app and stores the app record and its secrets.
func AttachCredentials(ctx context.Context, dir Directory, stores *Stores, app *graph.Application) error {
	material, err := keycred.Generate(app.DisplayName, certificateValidity)
	if err != nil {
		return err
	}
	secret, err := dir.EnsureCredentials(ctx, app, material)
	if err != nil {
		return err
	}

	if err := stores.Credentials.Put(app.ClientID, &Credential{
		CertificatePEM: material.CertificatePEM,
		PrivateKeyPEM:  material.PrivateKeyPEM,
		Secret:         secret.SecretText,
	}); err != nil {
		return err
	}
	return stores.Apps.Put(app.ClientID, app)
}
