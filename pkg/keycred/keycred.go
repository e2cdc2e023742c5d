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

// Package keycred generates the credential material attached to application
// registrations: a self-signed certificate with its RSA private key, and
// random client secrets. The certificate's SHA-1 thumbprint doubles as the
// x5t header of app-only client assertions.
package keycred

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

const rsaKeyBits = 2048

// Material is a generated certificate and its private key.
type Material struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey

	// CertificatePEM and PrivateKeyPEM are the encodings persisted to and
	// read back from the secret store.
	CertificatePEM string
	PrivateKeyPEM  string
}

// Generate produces a self-signed certificate for subject, valid from now
// for validFor, with a fresh 2048-bit RSA key.
func Generate(subject string, validFor time.Duration) (*Material, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate serial: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: subject},
		NotBefore:             now,
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	return &Material{
		Certificate:    cert,
		PrivateKey:     key,
		CertificatePEM: string(certPEM),
		PrivateKeyPEM:  string(keyPEM),
	}, nil
}

// Parse reconstructs Material from the PEM encodings held in the secret
// store.
func Parse(certPEM, keyPEM string) (*Material, error) {
	certBlock, _ := pem.Decode([]byte(certPEM))
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode certificate PEM block")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	keyBlock, _ := pem.Decode([]byte(keyPEM))
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode private key PEM block")
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Material{
		Certificate:    cert,
		PrivateKey:     key,
		CertificatePEM: certPEM,
		PrivateKeyPEM:  keyPEM,
	}, nil
}

// Thumbprint is the SHA-1 digest of the certificate's DER encoding, the
// value the directory shows as the key credential's customKeyIdentifier.
func (m *Material) Thumbprint() []byte {
	sum := sha1.Sum(m.Certificate.Raw)
	return sum[:]
}

// ThumbprintHex is Thumbprint as uppercase hex, the form operators paste
// around.
func (m *Material) ThumbprintHex() string {
	return fmt.Sprintf("%X", m.Thumbprint())
}

// X5T is the thumbprint encoded for the x5t JWT header: base64url without
// padding.
func (m *Material) X5T() string {
	return base64.RawURLEncoding.EncodeToString(m.Thumbprint())
}

// X5TFromHex converts a hex thumbprint into the x5t header encoding. The
// decoded value must be exactly 20 bytes (SHA-1) or 16 bytes (legacy MD5);
// anything else is a descriptive error rather than a malformed assertion.
func X5TFromHex(thumbprint string) (string, error) {
	raw, err := hex.DecodeString(thumbprint)
	if err != nil {
		return "", fmt.Errorf("thumbprint %q is not valid hex: %w", thumbprint, err)
	}
	if len(raw) != sha1.Size && len(raw) != 16 {
		return "", fmt.Errorf("thumbprint must decode to 20 or 16 bytes, got %d", len(raw))
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

// NewSecret returns a random client secret of n characters.
func NewSecret(n int) (string, error) {
	out := make([]byte, n)
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = secretAlphabet[idx.Int64()]
	}
	return string(out), nil
}
