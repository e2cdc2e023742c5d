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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/spectl/pkg/ctyperr"
)

func TestValidatePermissions(t *testing.T) {
	tests := []struct {
		name        string
		perms       []Permission
		expectError bool
	}{
		{
			name:        "empty selection",
			perms:       nil,
			expectError: true,
		},
		{
			name:        "unknown token",
			perms:       []Permission{"readAll"},
			expectError: true,
		},
		{
			name:        "full mixed with others",
			perms:       []Permission{PermissionFull, PermissionRead},
			expectError: true,
		},
		{
			name:  "full alone",
			perms: []Permission{PermissionFull},
		},
		{
			name:  "explicit set",
			perms: []Permission{PermissionRead, PermissionWrite, PermissionCreate},
		},
		{
			name:  "none alone",
			perms: []Permission{PermissionNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePermissions("delegated", tt.perms)
			if tt.expectError {
				require.Error(t, err)
				assert.True(t, ctyperr.Is(err, ctyperr.CodeValidationFailed))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistrationUpsert(t *testing.T) {
	reg := &Registration{ID: RegistrationID("ct-1", "tenant-1"), ContainerTypeID: "ct-1", TenantID: "tenant-1"}

	reg.Upsert(ApplicationPermissions{AppID: "app-1", DelegatedPermissions: []Permission{PermissionRead}})
	reg.Upsert(ApplicationPermissions{AppID: "app-2", DelegatedPermissions: []Permission{PermissionFull}})
	require.Len(t, reg.ApplicationPermissionGrants, 2)

	// Re-granting an app replaces its entry in place, it never duplicates.
	reg.Upsert(ApplicationPermissions{AppID: "app-1", DelegatedPermissions: []Permission{PermissionFull}})
	require.Len(t, reg.ApplicationPermissionGrants, 2)
	assert.Equal(t, []Permission{PermissionFull}, reg.Grant("app-1").DelegatedPermissions)
	assert.Equal(t, "app-1", reg.ApplicationPermissionGrants[0].AppID, "replacement keeps position")
}

func TestRegistrationID(t *testing.T) {
	assert.Equal(t, "ct-1_tenant-1", RegistrationID("ct-1", "tenant-1"))
}
