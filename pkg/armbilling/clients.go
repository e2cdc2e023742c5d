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

// Package armbilling provisions the Azure-side billing resources behind a
// standard-tier container type: the Microsoft.Syntex resource provider
// registration and the per-type billing account.
package armbilling

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armsubscriptions"
)

// ProvidersClient is the subset of the Azure Go SDK ProvidersClient used
// here. Only methods defined on the SDK client belong in this interface;
// logic combining provider calls lives on the Provisioner.
type ProvidersClient interface {
	Get(ctx context.Context, resourceProviderNamespace string,
		options *armresources.ProvidersClientGetOptions) (armresources.ProvidersClientGetResponse, error)
	Register(ctx context.Context, resourceProviderNamespace string,
		options *armresources.ProvidersClientRegisterOptions) (armresources.ProvidersClientRegisterResponse, error)
}

// interface guard against the real SDK client
var _ ProvidersClient = (*armresources.ProvidersClient)(nil)

// ResourceGroupsClient is the subset of the SDK ResourceGroupsClient used
// here.
type ResourceGroupsClient interface {
	NewListPager(options *armresources.ResourceGroupsClientListOptions) *runtime.Pager[armresources.ResourceGroupsClientListResponse]
	CreateOrUpdate(ctx context.Context, resourceGroupName string, parameters armresources.ResourceGroup,
		options *armresources.ResourceGroupsClientCreateOrUpdateOptions) (armresources.ResourceGroupsClientCreateOrUpdateResponse, error)
}

var _ ResourceGroupsClient = (*armresources.ResourceGroupsClient)(nil)

// SubscriptionsClient is the subset of the SDK subscriptions client used
// here.
type SubscriptionsClient interface {
	NewListPager(options *armsubscriptions.ClientListOptions) *runtime.Pager[armsubscriptions.ClientListResponse]
}

var _ SubscriptionsClient = (*armsubscriptions.Client)(nil)

// ResourcesClient writes arbitrary ARM resources by id. Unlike the
// interfaces above it hides the SDK poller, so fakes return the final
// resource directly.
type ResourcesClient interface {
	CreateOrUpdateByID(ctx context.Context, resourceID, apiVersion string,
		resource armresources.GenericResource) (armresources.GenericResource, error)
}

type genericResourcesAdapter struct {
	inner *armresources.Client
}

var _ ResourcesClient = (*genericResourcesAdapter)(nil)

func (a *genericResourcesAdapter) CreateOrUpdateByID(ctx context.Context, resourceID, apiVersion string,
	resource armresources.GenericResource) (armresources.GenericResource, error) {

	poller, err := a.inner.BeginCreateOrUpdateByID(ctx, resourceID, apiVersion, resource, nil)
	if err != nil {
		return armresources.GenericResource{}, err
	}
	resp, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return armresources.GenericResource{}, err
	}
	return resp.GenericResource, nil
}

// ClientSet bundles the ARM clients for one subscription.
type ClientSet struct {
	Providers      ProvidersClient
	ResourceGroups ResourceGroupsClient
	Subscriptions  SubscriptionsClient
	Resources      ResourcesClient
}

// ClientSetRetriever allows you to retrieve a ClientSet for a subscription.
type ClientSetRetriever interface {
	Retrieve(subscriptionID string, credential azcore.TokenCredential, options *arm.ClientOptions) (*ClientSet, error)
}

type clientSetRetriever struct{}

var _ ClientSetRetriever = (*clientSetRetriever)(nil)

// NewClientSetRetriever instantiates a ClientSetRetriever that builds the
// real Azure Go SDK clients.
func NewClientSetRetriever() ClientSetRetriever {
	return &clientSetRetriever{}
}

func (r *clientSetRetriever) Retrieve(subscriptionID string, credential azcore.TokenCredential,
	options *arm.ClientOptions) (*ClientSet, error) {

	providers, err := armresources.NewProvidersClient(subscriptionID, credential, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create providers client: %w", err)
	}
	groups, err := armresources.NewResourceGroupsClient(subscriptionID, credential, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource groups client: %w", err)
	}
	subs, err := armsubscriptions.NewClient(credential, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptions client: %w", err)
	}
	resources, err := armresources.NewClient(subscriptionID, credential, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create resources client: %w", err)
	}

	return &ClientSet{
		Providers:      providers,
		ResourceGroups: groups,
		Subscriptions:  subs,
		Resources:      &genericResourcesAdapter{inner: resources},
	}, nil
}
