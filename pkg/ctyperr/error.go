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

package ctyperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error codes. Codes are invariant and are intended to be consumed
// programmatically; the CLI prints them verbatim on failure.
const (
	CodeAuthenticationFailed = "AuthenticationFailed"
	CodeNotFound             = "NotFound"
	CodeConflict             = "Conflict"
	CodeQuotaExceeded        = "QuotaExceeded"
	CodeTermsNotAccepted     = "TermsNotAccepted"
	CodeHasActiveResources   = "HasActiveResources"
	CodeProvisioningTimeout  = "ProvisioningTimeout"
	CodeValidationFailed     = "ValidationFailed"
	CodeNetworkOrServerError = "NetworkOrServerError"
)

// Error is the single error type crossing component boundaries. Each client
// classifies its own known server failures into one of the invariant codes at
// the boundary; anything unrecognized passes through as NetworkOrServerError
// with the upstream status code and message retained.
type Error struct {
	// Code is one of the Code* constants above.
	Code string

	// StatusCode is the HTTP status of the upstream response, when there
	// was one.
	StatusCode int

	// Message is the human-readable description, suitable for display.
	Message string

	// Target names the entity the error applies to, e.g. a container type
	// id or the property that failed validation.
	Target string

	// RemediationURL points the operator at the action that unblocks the
	// failure. Only set for TermsNotAccepted.
	RemediationURL string
}

func (e *Error) Error() string {
	out := e.Code
	if e.Target != "" {
		out += ": " + e.Target
	}
	out += ": " + e.Message
	if e.RemediationURL != "" {
		out += " (see " + e.RemediationURL + ")"
	}
	return out
}

// New returns an Error with the given code, target and formatted message.
func New(code, target, format string, a ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, a...),
		Target:  target,
	}
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var typed *Error
	return errors.As(err, &typed) && typed.Code == code
}

// CodeOf returns the code of err, or NetworkOrServerError when err is not a
// classified Error. A nil err returns the empty string.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return CodeNetworkOrServerError
}

// odataError is the JSON error envelope returned by Microsoft Graph and the
// SharePoint admin endpoints.
type odataError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FromResponse classifies an unsuccessful HTTP response into an Error. The
// body, when parseable as an OData error envelope, supplies the upstream code
// and message; otherwise the raw body is carried as the message. Status 401
// and 403 classify as AuthenticationFailed, 404 as NotFound, 409 and 412 as
// Conflict, everything else as NetworkOrServerError.
func FromResponse(statusCode int, body []byte, target string) *Error {
	message := string(body)
	var envelope odataError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		if envelope.Error.Code != "" {
			message = envelope.Error.Code + ": " + message
		}
	}

	code := CodeNetworkOrServerError
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		code = CodeAuthenticationFailed
	case http.StatusNotFound:
		code = CodeNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		code = CodeConflict
	}

	return &Error{
		Code:       code,
		StatusCode: statusCode,
		Message:    message,
		Target:     target,
	}
}
