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

package keycred

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	m, err := Generate("spectl test app", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "spectl test app", m.Certificate.Subject.CommonName)
	assert.True(t, m.Certificate.NotAfter.After(m.Certificate.NotBefore))
	assert.Contains(t, m.CertificatePEM, "BEGIN CERTIFICATE")
	assert.Contains(t, m.PrivateKeyPEM, "BEGIN RSA PRIVATE KEY")
}

// The x5t header must round-trip back to the locally computed SHA-1
// thumbprint: decode base64url, compare hex.
func TestX5TRoundTrip(t *testing.T) {
	m, err := Generate("spectl test app", time.Hour)
	require.NoError(t, err)

	x5t := m.X5T()
	assert.NotContains(t, x5t, "=", "x5t must not be padded")
	assert.NotContains(t, x5t, "+")
	assert.NotContains(t, x5t, "/")

	decoded, err := base64.RawURLEncoding.DecodeString(x5t)
	require.NoError(t, err)

	expected := sha1.Sum(m.Certificate.Raw)
	assert.Equal(t, hex.EncodeToString(expected[:]), hex.EncodeToString(decoded))
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(expected[:])), m.ThumbprintHex())
}

func TestParseRoundTrip(t *testing.T) {
	m, err := Generate("spectl test app", time.Hour)
	require.NoError(t, err)

	parsed, err := Parse(m.CertificatePEM, m.PrivateKeyPEM)
	require.NoError(t, err)
	assert.Equal(t, m.Thumbprint(), parsed.Thumbprint())
	assert.True(t, m.PrivateKey.Equal(parsed.PrivateKey))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not pem", "also not pem")
	require.Error(t, err)
}

func TestX5TFromHex(t *testing.T) {
	t.Run("sha1 thumbprint", func(t *testing.T) {
		raw := make([]byte, sha1.Size)
		for i := range raw {
			raw[i] = byte(i)
		}
		got, err := X5TFromHex(hex.EncodeToString(raw))
		require.NoError(t, err)
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(raw), got)
	})

	t.Run("md5 length accepted", func(t *testing.T) {
		raw := make([]byte, 16)
		_, err := X5TFromHex(hex.EncodeToString(raw))
		require.NoError(t, err)
	})

	t.Run("wrong length rejected", func(t *testing.T) {
		_, err := X5TFromHex(hex.EncodeToString(make([]byte, 12)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "20 or 16 bytes")
	})

	t.Run("non-hex rejected", func(t *testing.T) {
		_, err := X5TFromHex("zz")
		require.Error(t, err)
	})
}

func TestNewSecret(t *testing.T) {
	a, err := NewSecret(40)
	require.NoError(t, err)
	b, err := NewSecret(40)
	require.NoError(t, err)

	assert.Len(t, a, 40)
	assert.NotEqual(t, a, b)
}
