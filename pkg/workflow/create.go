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

	"github.com/go-logr/logr"

	"github.com/microsoft/spectl/pkg/armbilling"
	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/registry"
)

// CreateWorkflow creates container types. The trial path is a single
// registry call; the paid path runs the ARM billing sequence and
// compensates by deleting the container type when billing fails after it
// was created. An orphaned paid container type with no billing account is
// an invalid state the operator cannot repair.
type CreateWorkflow struct {
	reg     Registry
	billing Billing
	stores  *Stores
}

func NewCreateWorkflow(reg Registry, billing Billing, stores *Stores) *CreateWorkflow {
	return &CreateWorkflow{reg: reg, billing: billing, stores: stores}
}

// CreateTrialInput names the trial container type and its owning app.
type CreateTrialInput struct {
	Name        string `validate:"required,min=1,max=120"`
	OwningAppID string `validate:"required"`
}

// CreateTrial creates a trial-tier container type. The service enforces at
// most one trial per tenant; the quota rejection surfaces as QuotaExceeded.
func (w *CreateWorkflow) CreateTrial(ctx context.Context, input CreateTrialInput) (*registry.ContainerType, error) {
	if err := ctyperr.ValidateStruct(input.Name, &input); err != nil {
		return nil, err
	}

	created, err := w.reg.Create(ctx, &registry.ContainerType{
		Name:                  input.Name,
		OwningAppID:           input.OwningAppID,
		BillingClassification: registry.BillingTrial,
	})
	if err != nil {
		return nil, err
	}
	if err := w.stores.ContainerTypes.Put(created.ID, created); err != nil {
		return nil, err
	}
	return created, nil
}

// CreatePaidInput names the standard-tier container type and the Azure
// billing coordinates it is charged against.
type CreatePaidInput struct {
	Name           string `validate:"required,min=1,max=120"`
	OwningAppID    string `validate:"required"`
	SubscriptionID string `validate:"required"`
	ResourceGroup  string `validate:"required"`
	Region         string `validate:"required"`
}

// CreatePaid creates a standard-tier container type and its billing
// account. When provider registration or billing account creation fails
// after the container type exists, the container type is deleted before the
// original failure is reported.
func (w *CreateWorkflow) CreatePaid(ctx context.Context, input CreatePaidInput) (*registry.ContainerType, error) {
	if err := ctyperr.ValidateStruct(input.Name, &input); err != nil {
		return nil, err
	}

	created, err := w.reg.Create(ctx, &registry.ContainerType{
		Name:                  input.Name,
		OwningAppID:           input.OwningAppID,
		BillingClassification: registry.BillingStandard,
		AzureSubscriptionID:   input.SubscriptionID,
		ResourceGroup:         input.ResourceGroup,
		Region:                input.Region,
	})
	if err != nil {
		return nil, err
	}

	if err := w.billing.EnsureProviderRegistered(ctx, input.SubscriptionID); err != nil {
		return nil, w.compensate(ctx, created, err)
	}
	if err := w.billing.CreateBillingAccount(ctx, armbilling.BillingAccountRequest{
		SubscriptionID:  input.SubscriptionID,
		ResourceGroup:   input.ResourceGroup,
		Region:          input.Region,
		ContainerTypeID: created.ID,
		Name:            input.Name,
	}); err != nil {
		return nil, w.compensate(ctx, created, err)
	}

	if err := w.stores.ContainerTypes.Put(created.ID, created); err != nil {
		return nil, err
	}
	return created, nil
}

// compensate deletes the freshly created container type and reports the
// billing failure that triggered it. A failed compensation is logged and
// appended; the billing failure stays the primary error.
func (w *CreateWorkflow) compensate(ctx context.Context, ct *registry.ContainerType, cause error) error {
	logger := logr.FromContextOrDiscard(ctx)
	logger.Info("billing provisioning failed, deleting container type", "containerType", ct.ID, "cause", cause.Error())

	if err := w.reg.Delete(ctx, ct.ID); err != nil {
		logger.Error(err, "compensating delete failed, container type is orphaned", "containerType", ct.ID)
		return fmt.Errorf("billing provisioning failed and container type %s could not be deleted (%v): %w", ct.ID, err, cause)
	}
	return fmt.Errorf("billing provisioning for container type %s failed (the container type was deleted): %w", ct.Name, cause)
}
