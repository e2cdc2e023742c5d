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

package graph

import "time"

// Role distinguishes how an application relates to a container type. It is
// local bookkeeping, not a directory attribute.
type Role string

const (
	RoleOwning Role = "owning"
	RoleGuest  Role = "guest"
)

// Application is a Microsoft Entra application registration. ClientID
// (appId) is globally unique and is the join key referenced by container
// types and permission grants.
type Application struct {
	ObjectID    string `json:"id"`
	ClientID    string `json:"appId"`
	DisplayName string `json:"displayName"`
	TenantID    string `json:"tenantId,omitempty"`

	// Role and Thumbprint are local state persisted alongside the
	// directory attributes; the private key and client secret live in the
	// secret store keyed by ClientID, never on this struct.
	Role       Role   `json:"role,omitempty"`
	Thumbprint string `json:"thumbprint,omitempty"`
	HasSecret  bool   `json:"hasSecret,omitempty"`
}

// KeyCredential mirrors the Graph keyCredential resource.
type KeyCredential struct {
	Type                string `json:"type"`
	Usage               string `json:"usage"`
	Key                 string `json:"key"`
	DisplayName         string `json:"displayName,omitempty"`
	CustomKeyIdentifier string `json:"customKeyIdentifier,omitempty"`
}

// PasswordCredential mirrors the Graph passwordCredential resource.
type PasswordCredential struct {
	KeyID         string     `json:"keyId,omitempty"`
	DisplayName   string     `json:"displayName,omitempty"`
	SecretText    string     `json:"secretText,omitempty"`
	StartDateTime *time.Time `json:"startDateTime,omitempty"`
	EndDateTime   *time.Time `json:"endDateTime,omitempty"`
}

// resourceAccess and requiredResourceAccess mirror the Graph application
// permission preset structures.
type resourceAccess struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type requiredResourceAccess struct {
	ResourceAppID  string           `json:"resourceAppId"`
	ResourceAccess []resourceAccess `json:"resourceAccess"`
}

// First-party resource app ids and the SharePoint Embedded permission ids
// preset onto every app this tool creates.
const (
	graphResourceAppID      = "00000003-0000-0000-c000-000000000000"
	sharePointResourceAppID = "00000003-0000-0ff1-ce00-000000000000"

	fileStorageContainerSelectedScopeID = "085ca537-6565-41c2-aca7-db852babc212"
	fileStorageContainerSelectedRoleID  = "40dc41bc-0f7e-42ff-89bd-d9516947e474"
	containerSelectedScopeID            = "4d114b1a-3649-4764-9dfb-be1e236ff371"
	containerSelectedRoleID             = "19766c1b-905b-43af-8756-06526ab42875"
)

func defaultResourceAccess() []requiredResourceAccess {
	return []requiredResourceAccess{
		{
			ResourceAppID: graphResourceAppID,
			ResourceAccess: []resourceAccess{
				{ID: fileStorageContainerSelectedScopeID, Type: "Scope"},
				{ID: fileStorageContainerSelectedRoleID, Type: "Role"},
			},
		},
		{
			ResourceAppID: sharePointResourceAppID,
			ResourceAccess: []resourceAccess{
				{ID: containerSelectedScopeID, Type: "Scope"},
				{ID: containerSelectedRoleID, Type: "Role"},
			},
		},
	}
}
