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

package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Directory role template ids that mark the signed-in user as an
// administrator of this tool's scope.
const (
	globalAdminRoleID     = "62e90394-69f5-4237-9190-012177145e10"
	sharePointAdminRoleID = "f28a1f50-f6e7-4571-818b-6a12f2af6b6c"
)

// Claims is the subset of ID token claims this tool reads. The token arrives
// over the same channel as the authorization code exchange, so the payload is
// decoded without signature verification.
type Claims struct {
	TenantID          string   `json:"tid"`
	ObjectID          string   `json:"oid"`
	Name              string   `json:"name"`
	PreferredUsername string   `json:"preferred_username"`
	Roles             []string `json:"wids"`
}

// IsAdmin reports whether the token carries a directory role claim that
// grants SharePoint Embedded administration.
func (c *Claims) IsAdmin() bool {
	for _, role := range c.Roles {
		if role == globalAdminRoleID || role == sharePointAdminRoleID {
			return true
		}
	}
	return false
}

// ParseIDTokenClaims decodes the payload segment of a compact JWT.
func ParseIDTokenClaims(idToken string) (*Claims, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("ID token is not a compact JWT (%d segments)", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode ID token payload: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ID token claims: %w", err)
	}
	return &claims, nil
}
