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

package armbilling

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/go-logr/logr"

	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/polling"
)

const (
	// syntexProviderNamespace is the resource provider that hosts
	// SharePoint Embedded billing accounts.
	syntexProviderNamespace = "Microsoft.Syntex"
	syntexAPIVersion        = "2023-01-25"

	registrationStateRegistered = "Registered"
)

// Subscription is one selectable Azure subscription.
type Subscription struct {
	ID          string
	DisplayName string
}

// ResourceGroup is one selectable resource group.
type ResourceGroup struct {
	Name     string
	Location string
}

// BillingAccountRequest carries the inputs for the ARM billing account of a
// standard-tier container type.
type BillingAccountRequest struct {
	SubscriptionID  string `validate:"required"`
	ResourceGroup   string `validate:"required"`
	Region          string `validate:"required"`
	ContainerTypeID string `validate:"required"`
	Name            string `validate:"required,min=1,max=64"`
}

// Provisioner drives provider registration and billing account creation in
// one subscription.
type Provisioner struct {
	clients      *ClientSet
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewProvisioner wraps a ClientSet. Poll cadence comes from configuration;
// provider registration is a slow control-plane operation.
func NewProvisioner(clients *ClientSet, pollInterval, pollTimeout time.Duration) *Provisioner {
	return &Provisioner{
		clients:      clients,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

// EnsureProviderRegistered registers the Microsoft.Syntex provider in the
// subscription and waits until the registration lands. Calling it on an
// already registered subscription is a no-op. A registration that does not
// complete within the poll timeout is fatal ProvisioningTimeout; billing
// account creation would fail anyway.
func (p *Provisioner) EnsureProviderRegistered(ctx context.Context, subscriptionID string) error {
	logger := logr.FromContextOrDiscard(ctx)

	resp, err := p.clients.Providers.Get(ctx, syntexProviderNamespace, nil)
	if err != nil {
		return fmt.Errorf("failed to read provider %s: %w", syntexProviderNamespace, err)
	}
	if registrationState(resp.Provider) == registrationStateRegistered {
		return nil
	}

	logger.Info("registering resource provider",
		"namespace", syntexProviderNamespace, "subscription", subscriptionID)
	if _, err := p.clients.Providers.Register(ctx, syntexProviderNamespace, nil); err != nil {
		return fmt.Errorf("failed to register provider %s: %w", syntexProviderNamespace, err)
	}

	outcome, err := polling.Until(ctx, p.pollInterval, p.pollTimeout, func(ctx context.Context) (bool, error) {
		resp, err := p.clients.Providers.Get(ctx, syntexProviderNamespace, nil)
		if err != nil {
			return false, err
		}
		return registrationState(resp.Provider) == registrationStateRegistered, nil
	})
	if err != nil {
		return fmt.Errorf("failed while waiting for provider registration: %w", err)
	}
	if outcome == polling.TimedOut {
		return ctyperr.New(ctyperr.CodeProvisioningTimeout, syntexProviderNamespace,
			"provider registration did not complete within %s in subscription %s", p.pollTimeout, subscriptionID)
	}
	return nil
}

func registrationState(provider armresources.Provider) string {
	if provider.RegistrationState == nil {
		return ""
	}
	return *provider.RegistrationState
}

// CreateBillingAccount PUTs the Microsoft.Syntex billing account that binds
// a container type to an Azure subscription.
func (p *Provisioner) CreateBillingAccount(ctx context.Context, req BillingAccountRequest) error {
	if err := ctyperr.ValidateStruct(req.Name, &req); err != nil {
		return err
	}

	resourceID := fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/%s/accounts/%s",
		req.SubscriptionID, req.ResourceGroup, syntexProviderNamespace, req.Name)
	resource := armresources.GenericResource{
		Location: &req.Region,
		Properties: map[string]any{
			"containerTypeId": req.ContainerTypeID,
		},
	}

	logr.FromContextOrDiscard(ctx).Info("creating billing account",
		"resourceId", resourceID, "containerType", req.ContainerTypeID)
	if _, err := p.clients.Resources.CreateOrUpdateByID(ctx, resourceID, syntexAPIVersion, resource); err != nil {
		return fmt.Errorf("failed to create billing account %s: %w", req.Name, err)
	}
	return nil
}

// ListSubscriptions returns the subscriptions visible to the signed-in
// account, for the CLI picker.
func (p *Provisioner) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	pager := p.clients.Subscriptions.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for _, s := range page.Value {
			if s == nil || s.SubscriptionID == nil {
				continue
			}
			sub := Subscription{ID: *s.SubscriptionID}
			if s.DisplayName != nil {
				sub.DisplayName = *s.DisplayName
			}
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// ListResourceGroups returns the resource groups of the subscription, for
// the CLI picker.
func (p *Provisioner) ListResourceGroups(ctx context.Context) ([]ResourceGroup, error) {
	var groups []ResourceGroup
	pager := p.clients.ResourceGroups.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list resource groups: %w", err)
		}
		for _, g := range page.Value {
			if g == nil || g.Name == nil {
				continue
			}
			group := ResourceGroup{Name: *g.Name}
			if g.Location != nil {
				group.Location = *g.Location
			}
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// EnsureResourceGroup creates the resource group when it does not exist
// yet. CreateOrUpdate is idempotent for an unchanged location.
func (p *Provisioner) EnsureResourceGroup(ctx context.Context, name, location string) error {
	_, err := p.clients.ResourceGroups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: &location,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to ensure resource group %s: %w", name, err)
	}
	return nil
}
