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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/spectl/pkg/armbilling"
	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/graph"
	"github.com/microsoft/spectl/pkg/keycred"
	"github.com/microsoft/spectl/pkg/polling"
	"github.com/microsoft/spectl/pkg/registry"
	"github.com/microsoft/spectl/pkg/store"
)

type fakeDirectory struct {
	apps        map[string]*graph.Application
	created     []string
	credsErr    error
	credsCalls  int
	createCalls int
}

func (f *fakeDirectory) GetByAppID(ctx context.Context, clientID string) (*graph.Application, error) {
	app, ok := f.apps[clientID]
	if !ok {
		return nil, nil
	}
	return app, nil
}

func (f *fakeDirectory) Create(ctx context.Context, req graph.CreateRequest) (*graph.Application, error) {
	f.createCalls++
	app := &graph.Application{
		ObjectID:    "obj-" + req.DisplayName,
		ClientID:    "app-" + req.DisplayName,
		DisplayName: req.DisplayName,
	}
	f.created = append(f.created, app.ClientID)
	return app, nil
}

func (f *fakeDirectory) EnsureCredentials(ctx context.Context, app *graph.Application, material *keycred.Material) (*graph.PasswordCredential, error) {
	f.credsCalls++
	if f.credsErr != nil {
		return nil, f.credsErr
	}
	app.Thumbprint = material.ThumbprintHex()
	app.HasSecret = true
	return &graph.PasswordCredential{SecretText: "s3cret"}, nil
}

type fakeRegistry struct {
	cts  map[string]*registry.ContainerType
	regs map[string]*registry.Registration

	createErr         error
	deleteErr         error
	deleted           []string
	submitCalls       int
	grantVisibleAfter int
	grantCalls        int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		cts:  map[string]*registry.ContainerType{},
		regs: map[string]*registry.Registration{},
	}
}

func (f *fakeRegistry) Create(ctx context.Context, ct *registry.ContainerType) (*registry.ContainerType, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	created := *ct
	created.ID = "ct-" + created.Name
	f.cts[created.ID] = &created
	return &created, nil
}

func (f *fakeRegistry) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	delete(f.cts, id)
	return nil
}

func (f *fakeRegistry) GetRegistration(ctx context.Context, containerTypeID, tenantID string) (*registry.Registration, error) {
	id := registry.RegistrationID(containerTypeID, tenantID)
	if reg, ok := f.regs[id]; ok {
		copied := *reg
		return &copied, nil
	}
	return &registry.Registration{ID: id, ContainerTypeID: containerTypeID, TenantID: tenantID}, nil
}

func (f *fakeRegistry) SubmitRegistration(ctx context.Context, reg *registry.Registration) error {
	f.submitCalls++
	copied := *reg
	f.regs[reg.ID] = &copied
	return nil
}

func (f *fakeRegistry) GetGrant(ctx context.Context, containerTypeID, appID string) (*registry.ApplicationPermissions, error) {
	f.grantCalls++
	if f.grantCalls <= f.grantVisibleAfter {
		return nil, nil
	}
	for _, reg := range f.regs {
		if reg.ContainerTypeID != containerTypeID {
			continue
		}
		if grant := reg.Grant(appID); grant != nil {
			return grant, nil
		}
	}
	return nil, nil
}

type fakeBilling struct {
	providerErr error
	accountErr  error
	requests    []armbilling.BillingAccountRequest
}

func (f *fakeBilling) EnsureProviderRegistered(ctx context.Context, subscriptionID string) error {
	return f.providerErr
}

func (f *fakeBilling) CreateBillingAccount(ctx context.Context, req armbilling.BillingAccountRequest) error {
	if f.accountErr != nil {
		return f.accountErr
	}
	f.requests = append(f.requests, req)
	return nil
}

func newTestStores(t *testing.T) *Stores {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewStores(st)
}

func newRegisterWorkflow(dir Directory, reg Registry, stores *Stores) *RegisterWorkflow {
	return NewRegisterWorkflow(dir, reg, stores, time.Millisecond, 20*time.Millisecond)
}

func confirm(*graph.Application) bool { return true }

func TestRegisterCreatesAppAndSubmits(t *testing.T) {
	dir := &fakeDirectory{apps: map[string]*graph.Application{}}
	reg := newFakeRegistry()
	stores := newTestStores(t)
	w := newRegisterWorkflow(dir, reg, stores)

	result, err := w.Run(context.Background(), RegisterInput{
		ContainerTypeID: "ct-1",
		TenantID:        "tenant-1",
		NewAppName:      "GuestApp",
		Delegated:       []registry.Permission{registry.PermissionRead},
		AppOnly:         []registry.Permission{registry.PermissionFull},
	})
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, polling.Satisfied, result.Propagation)
	require.NotNil(t, result.App)
	assert.True(t, result.App.HasSecret)

	grant := result.Registration.Grant(result.App.ClientID)
	require.NotNil(t, grant)
	assert.Equal(t, []registry.Permission{registry.PermissionRead}, grant.DelegatedPermissions)
	assert.Equal(t, []registry.Permission{registry.PermissionFull}, grant.AppOnlyPermissions)

	// the app record and its credentials landed in the store
	app, err := stores.Apps.Get(result.App.ClientID)
	require.NoError(t, err)
	require.NotNil(t, app)
	cred, err := stores.Credentials.Get(result.App.ClientID)
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "s3cret", cred.Secret)
	assert.NotEmpty(t, cred.PrivateKeyPEM)
}

func TestRegisterUpsertIsIdempotent(t *testing.T) {
	dir := &fakeDirectory{apps: map[string]*graph.Application{}}
	reg := newFakeRegistry()
	stores := newTestStores(t)
	w := newRegisterWorkflow(dir, reg, stores)

	input := RegisterInput{
		ContainerTypeID: "ct-1",
		TenantID:        "tenant-1",
		AppID:           "app-1",
		Delegated:       []registry.Permission{registry.PermissionRead},
		AppOnly:         []registry.Permission{registry.PermissionFull},
	}
	dir.apps["app-1"] = &graph.Application{ObjectID: "obj-1", ClientID: "app-1", DisplayName: "GuestApp"}
	input.ConfirmCredentialAttach = confirm

	for i := 0; i < 2; i++ {
		_, err := w.Run(context.Background(), input)
		require.NoError(t, err)
	}

	submitted := reg.regs[registry.RegistrationID("ct-1", "tenant-1")]
	require.NotNil(t, submitted)
	assert.Len(t, submitted.ApplicationPermissionGrants, 1, "re-registering the same app must replace, not append")
}

func TestRegisterRejectsEmptyPermissionsBeforeNetwork(t *testing.T) {
	dir := &fakeDirectory{apps: map[string]*graph.Application{}}
	reg := newFakeRegistry()
	w := newRegisterWorkflow(dir, reg, newTestStores(t))

	result, err := w.Run(context.Background(), RegisterInput{
		ContainerTypeID: "ct-1",
		TenantID:        "tenant-1",
		AppID:           "app-1",
		Delegated:       nil,
		AppOnly:         []registry.Permission{registry.PermissionFull},
	})
	require.Error(t, err)
	assert.True(t, ctyperr.Is(err, ctyperr.CodeValidationFailed))
	assert.Equal(t, StateFailed, result.State)
	assert.Zero(t, reg.submitCalls)
	assert.Zero(t, dir.createCalls)
}

func TestRegisterRequiresExactlyOneAppSelector(t *testing.T) {
	w := newRegisterWorkflow(&fakeDirectory{}, newFakeRegistry(), newTestStores(t))

	for _, input := range []RegisterInput{
		{ContainerTypeID: "ct-1", TenantID: "t-1", Delegated: []registry.Permission{registry.PermissionFull}, AppOnly: []registry.Permission{registry.PermissionFull}},
		{ContainerTypeID: "ct-1", TenantID: "t-1", AppID: "a", NewAppName: "b", Delegated: []registry.Permission{registry.PermissionFull}, AppOnly: []registry.Permission{registry.PermissionFull}},
	} {
		_, err := w.Run(context.Background(), input)
		require.Error(t, err)
		assert.True(t, ctyperr.Is(err, ctyperr.CodeValidationFailed))
	}
}

func TestRegisterForeignAppNeedsConfirmation(t *testing.T) {
	dir := &fakeDirectory{apps: map[string]*graph.Application{
		"app-1": {ObjectID: "obj-1", ClientID: "app-1", DisplayName: "ForeignApp"},
	}}
	reg := newFakeRegistry()
	w := newRegisterWorkflow(dir, reg, newTestStores(t))

	input := RegisterInput{
		ContainerTypeID: "ct-1",
		TenantID:        "tenant-1",
		AppID:           "app-1",
		Delegated:       []registry.Permission{registry.PermissionFull},
		AppOnly:         []registry.Permission{registry.PermissionFull},
	}

	// no callback at all
	result, err := w.Run(context.Background(), input)
	require.ErrorIs(t, err, ErrImportNotConfirmed)
	assert.Equal(t, StateFailed, result.State)

	// callback declines
	input.ConfirmCredentialAttach = func(*graph.Application) bool { return false }
	_, err = w.Run(context.Background(), input)
	require.ErrorIs(t, err, ErrImportNotConfirmed)
	assert.Zero(t, dir.credsCalls, "declined import must not touch the app")
}

func TestRegisterKnownAppSkipsConfirmation(t *testing.T) {
	dir := &fakeDirectory{apps: map[string]*graph.Application{
		"app-1": {ObjectID: "obj-1", ClientID: "app-1", DisplayName: "KnownApp"},
	}}
	reg := newFakeRegistry()
	stores := newTestStores(t)
	require.NoError(t, stores.Apps.Put("app-1", dir.apps["app-1"]))
	w := newRegisterWorkflow(dir, reg, stores)

	_, err := w.Run(context.Background(), RegisterInput{
		ContainerTypeID: "ct-1",
		TenantID:        "tenant-1",
		AppID:           "app-1",
		Delegated:       []registry.Permission{registry.PermissionFull},
		AppOnly:         []registry.Permission{registry.PermissionFull},
	})
	require.NoError(t, err)
	assert.Zero(t, dir.credsCalls, "a locally known app already has credentials on file")
}

func TestRegisterPropagationTimeoutIsSoft(t *testing.T) {
	dir := &fakeDirectory{apps: map[string]*graph.Application{}}
	reg := newFakeRegistry()
	reg.grantVisibleAfter = 1 << 30
	w := newRegisterWorkflow(dir, reg, newTestStores(t))

	result, err := w.Run(context.Background(), RegisterInput{
		ContainerTypeID: "ct-1",
		TenantID:        "tenant-1",
		NewAppName:      "GuestApp",
		Delegated:       []registry.Permission{registry.PermissionFull},
		AppOnly:         []registry.Permission{registry.PermissionFull},
	})
	require.NoError(t, err, "a propagation timeout is a warning, not a failure")
	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, polling.TimedOut, result.Propagation)
	assert.Equal(t, 1, reg.submitCalls)
}

func TestRegisterAppCreationIsNeverUnwound(t *testing.T) {
	dir := &fakeDirectory{apps: map[string]*graph.Application{}}
	dir.credsErr = ctyperr.New(ctyperr.CodeNetworkOrServerError, "addKey", "throttled")
	w := newRegisterWorkflow(dir, newFakeRegistry(), newTestStores(t))

	result, err := w.Run(context.Background(), RegisterInput{
		ContainerTypeID: "ct-1",
		TenantID:        "tenant-1",
		NewAppName:      "GuestApp",
		Delegated:       []registry.Permission{registry.PermissionFull},
		AppOnly:         []registry.Permission{registry.PermissionFull},
	})
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, err.Error(), "app-GuestApp", "the orphaned app id must be reported for manual resume")
	require.Len(t, dir.created, 1)
}

func TestCreatePaidCompensatesOnProvisioningTimeout(t *testing.T) {
	reg := newFakeRegistry()
	billing := &fakeBilling{
		providerErr: ctyperr.New(ctyperr.CodeProvisioningTimeout, "Microsoft.Syntex", "registration did not complete"),
	}
	w := NewCreateWorkflow(reg, billing, newTestStores(t))

	_, err := w.CreatePaid(context.Background(), CreatePaidInput{
		Name:           "PaidCT",
		OwningAppID:    "app-1",
		SubscriptionID: "sub-1",
		ResourceGroup:  "rg-1",
		Region:         "westeurope",
	})
	require.Error(t, err)
	assert.True(t, ctyperr.Is(err, ctyperr.CodeProvisioningTimeout), "the original billing failure stays the reported error")
	assert.Equal(t, []string{"ct-PaidCT"}, reg.deleted, "the container type must be compensated away")
	assert.Empty(t, reg.cts)
}

func TestCreatePaidCompensatesOnBillingAccountFailure(t *testing.T) {
	reg := newFakeRegistry()
	billing := &fakeBilling{
		accountErr: ctyperr.New(ctyperr.CodeNetworkOrServerError, "accounts", "502 from ARM"),
	}
	w := NewCreateWorkflow(reg, billing, newTestStores(t))

	_, err := w.CreatePaid(context.Background(), CreatePaidInput{
		Name:           "PaidCT",
		OwningAppID:    "app-1",
		SubscriptionID: "sub-1",
		ResourceGroup:  "rg-1",
		Region:         "westeurope",
	})
	require.Error(t, err)
	assert.Equal(t, []string{"ct-PaidCT"}, reg.deleted)
}

func TestCreatePaidSuccess(t *testing.T) {
	reg := newFakeRegistry()
	billing := &fakeBilling{}
	stores := newTestStores(t)
	w := NewCreateWorkflow(reg, billing, stores)

	ct, err := w.CreatePaid(context.Background(), CreatePaidInput{
		Name:           "PaidCT",
		OwningAppID:    "app-1",
		SubscriptionID: "sub-1",
		ResourceGroup:  "rg-1",
		Region:         "westeurope",
	})
	require.NoError(t, err)
	assert.Equal(t, registry.BillingStandard, ct.BillingClassification)

	require.Len(t, billing.requests, 1)
	assert.Equal(t, ct.ID, billing.requests[0].ContainerTypeID)

	stored, err := stores.ContainerTypes.Get(ct.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Empty(t, reg.deleted)
}

func TestCreateTrial(t *testing.T) {
	reg := newFakeRegistry()
	stores := newTestStores(t)
	w := NewCreateWorkflow(reg, &fakeBilling{}, stores)

	ct, err := w.CreateTrial(context.Background(), CreateTrialInput{Name: "TestCT", OwningAppID: "app-1"})
	require.NoError(t, err)
	assert.Equal(t, registry.BillingTrial, ct.BillingClassification)

	stored, err := stores.ContainerTypes.Get(ct.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestCreateTrialValidation(t *testing.T) {
	w := NewCreateWorkflow(newFakeRegistry(), &fakeBilling{}, newTestStores(t))
	_, err := w.CreateTrial(context.Background(), CreateTrialInput{OwningAppID: "app-1"})
	require.Error(t, err)
	assert.True(t, ctyperr.Is(err, ctyperr.CodeValidationFailed))
}
