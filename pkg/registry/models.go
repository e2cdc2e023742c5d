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

package registry

import (
	"fmt"
	"time"

	"github.com/microsoft/spectl/pkg/ctyperr"
)

// BillingClassification of a container type.
type BillingClassification string

const (
	BillingTrial            BillingClassification = "trial"
	BillingStandard         BillingClassification = "standard"
	BillingDirectToCustomer BillingClassification = "directToCustomer"
)

// BillingStatus of a container type.
type BillingStatus string

const (
	BillingValid   BillingStatus = "valid"
	BillingInvalid BillingStatus = "invalid"
)

// Settings of a container type.
type Settings struct {
	URLTemplate               string `json:"urlTemplate,omitempty"`
	IsDiscoverabilityDisabled bool   `json:"isDiscoverabilityDisabled,omitempty"`
}

// ContainerType is a tenant-scoped billable resource owned by one
// application. The id is server-assigned and globally unique; at most one
// trial container type may exist per tenant, which the service enforces.
type ContainerType struct {
	ID                    string                `json:"id,omitempty"`
	Name                  string                `json:"name"`
	OwningAppID           string                `json:"owningAppId"`
	BillingClassification BillingClassification `json:"billingClassification"`
	BillingStatus         BillingStatus         `json:"billingStatus,omitempty"`
	CreatedDateTime       *time.Time            `json:"createdDateTime,omitempty"`
	ExpirationDateTime    *time.Time            `json:"expirationDateTime,omitempty"`
	ETag                  string                `json:"etag,omitempty"`
	Settings              *Settings             `json:"settings,omitempty"`

	// Paid tiers only.
	AzureSubscriptionID string `json:"azureSubscriptionId,omitempty"`
	ResourceGroup       string `json:"resourceGroup,omitempty"`
	Region              string `json:"region,omitempty"`
}

// Permission tokens grantable to an application on a container type.
type Permission string

const (
	PermissionNone                 Permission = "none"
	PermissionReadContent          Permission = "readContent"
	PermissionWriteContent         Permission = "writeContent"
	PermissionCreate               Permission = "create"
	PermissionDelete               Permission = "delete"
	PermissionRead                 Permission = "read"
	PermissionWrite                Permission = "write"
	PermissionEnumeratePermissions Permission = "enumeratePermissions"
	PermissionAddPermissions       Permission = "addPermissions"
	PermissionUpdatePermissions    Permission = "updatePermissions"
	PermissionDeletePermissions    Permission = "deletePermissions"
	PermissionDeleteOwnPermission  Permission = "deleteOwnPermission"
	PermissionManagePermissions    Permission = "managePermissions"

	// PermissionFull is the sentinel meaning every permission above;
	// mutually exclusive with an explicit list.
	PermissionFull Permission = "full"
)

var knownPermissions = map[Permission]bool{
	PermissionNone: true, PermissionReadContent: true, PermissionWriteContent: true,
	PermissionCreate: true, PermissionDelete: true, PermissionRead: true,
	PermissionWrite: true, PermissionEnumeratePermissions: true,
	PermissionAddPermissions: true, PermissionUpdatePermissions: true,
	PermissionDeletePermissions: true, PermissionDeleteOwnPermission: true,
	PermissionManagePermissions: true, PermissionFull: true,
}

// ValidatePermissions rejects empty selections, unknown tokens, and full
// mixed with an explicit list. An empty selection must fail before any
// network submission.
func ValidatePermissions(target string, perms []Permission) error {
	if len(perms) == 0 {
		return ctyperr.New(ctyperr.CodeValidationFailed, target, "at least one permission must be selected")
	}
	hasFull := false
	for _, p := range perms {
		if !knownPermissions[p] {
			return ctyperr.New(ctyperr.CodeValidationFailed, target, "unknown permission %q", p)
		}
		if p == PermissionFull {
			hasFull = true
		}
	}
	if hasFull && len(perms) > 1 {
		return ctyperr.New(ctyperr.CodeValidationFailed, target, "'full' cannot be combined with an explicit permission list")
	}
	return nil
}

// ApplicationPermissions is one application's grant within a registration.
type ApplicationPermissions struct {
	AppID                string       `json:"appId"`
	DelegatedPermissions []Permission `json:"delegatedPermissions"`
	AppOnlyPermissions   []Permission `json:"appOnlyPermissions"`
}

// Registration binds a container type to the applications allowed to
// operate on it within one tenant. The id is the composite
// {containerTypeId}_{tenantId}.
type Registration struct {
	ID                          string                   `json:"id,omitempty"`
	ContainerTypeID             string                   `json:"containerTypeId"`
	TenantID                    string                   `json:"tenantId,omitempty"`
	ApplicationPermissionGrants []ApplicationPermissions `json:"applicationPermissionGrants"`
}

// RegistrationID builds the composite registration id.
func RegistrationID(containerTypeID, tenantID string) string {
	return fmt.Sprintf("%s_%s", containerTypeID, tenantID)
}

// Upsert replaces the grant for the entry's app id, or appends it when the
// app has no grant yet. Each app id appears at most once.
func (r *Registration) Upsert(grant ApplicationPermissions) {
	for i := range r.ApplicationPermissionGrants {
		if r.ApplicationPermissionGrants[i].AppID == grant.AppID {
			r.ApplicationPermissionGrants[i] = grant
			return
		}
	}
	r.ApplicationPermissionGrants = append(r.ApplicationPermissionGrants, grant)
}

// Grant returns the entry for appID, or nil.
func (r *Registration) Grant(appID string) *ApplicationPermissions {
	for i := range r.ApplicationPermissionGrants {
		if r.ApplicationPermissionGrants[i].AppID == appID {
			return &r.ApplicationPermissionGrants[i]
		}
	}
	return nil
}
