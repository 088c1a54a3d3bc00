// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company
// SPDX-License-Identifier: Apache-2.0

package packgate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// RegistryV2ErrorCode is the closed set of error codes that can appear in type
// RegistryV2Error.
type RegistryV2ErrorCode string

// Possible values for RegistryV2ErrorCode.
const (
	ErrBlobUnknown         RegistryV2ErrorCode = "BLOB_UNKNOWN"
	ErrBlobUploadInvalid   RegistryV2ErrorCode = "BLOB_UPLOAD_INVALID"
	ErrBlobUploadUnknown   RegistryV2ErrorCode = "BLOB_UPLOAD_UNKNOWN"
	ErrDigestInvalid       RegistryV2ErrorCode = "DIGEST_INVALID"
	ErrManifestBlobUnknown RegistryV2ErrorCode = "MANIFEST_BLOB_UNKNOWN"
	ErrManifestInvalid     RegistryV2ErrorCode = "MANIFEST_INVALID"
	ErrManifestUnknown     RegistryV2ErrorCode = "MANIFEST_UNKNOWN"
	ErrNameInvalid         RegistryV2ErrorCode = "NAME_INVALID"
	ErrNameUnknown         RegistryV2ErrorCode = "NAME_UNKNOWN"
	ErrRangeInvalid        RegistryV2ErrorCode = "RANGE_INVALID"
	ErrSizeInvalid         RegistryV2ErrorCode = "SIZE_INVALID"
	ErrTagInvalid          RegistryV2ErrorCode = "TAG_INVALID"
	ErrUnauthorized        RegistryV2ErrorCode = "UNAUTHORIZED"
	ErrDenied              RegistryV2ErrorCode = "DENIED"
	ErrUnsupported         RegistryV2ErrorCode = "UNSUPPORTED"
	ErrUnknown             RegistryV2ErrorCode = "UNKNOWN"
)

// With is a convenience function for constructing type RegistryV2Error.
func (c RegistryV2ErrorCode) With(msg string, args ...any) *RegistryV2Error {
	var err error
	if msg != "" {
		if len(args) > 0 {
			err = fmt.Errorf(msg, args...)
		} else {
			err = errors.New(msg)
		}
	}
	return &RegistryV2Error{Code: c, Inner: err}
}

var apiErrorMessages = map[RegistryV2ErrorCode]string{
	ErrBlobUnknown:         "blob unknown to registry",
	ErrBlobUploadInvalid:   "blob upload invalid",
	ErrBlobUploadUnknown:   "blob upload unknown to registry",
	ErrDigestInvalid:       "provided digest did not match uploaded content",
	ErrManifestBlobUnknown: "manifest references a blob unknown to registry",
	ErrManifestInvalid:     "manifest invalid",
	ErrManifestUnknown:     "manifest unknown",
	ErrNameInvalid:         "invalid repository name",
	ErrNameUnknown:         "repository name not known to registry",
	ErrRangeInvalid:        "provided range did not match the current upload offset",
	ErrSizeInvalid:         "provided length did not match content length",
	ErrTagInvalid:          "manifest tag did not match URI",
	ErrUnauthorized:        "authentication required",
	ErrDenied:              "requested access to the resource is denied",
	ErrUnsupported:         "operation is unsupported",
	ErrUnknown:             "unknown error",
}

var apiErrorStatusCodes = map[RegistryV2ErrorCode]int{
	ErrBlobUnknown:         http.StatusNotFound,
	ErrBlobUploadInvalid:   http.StatusBadRequest,
	ErrBlobUploadUnknown:   http.StatusNotFound,
	ErrDigestInvalid:       http.StatusBadRequest,
	ErrManifestBlobUnknown: http.StatusNotFound,
	ErrManifestInvalid:     http.StatusBadRequest,
	ErrManifestUnknown:     http.StatusNotFound,
	ErrNameInvalid:         http.StatusBadRequest,
	ErrNameUnknown:         http.StatusNotFound,
	ErrRangeInvalid:        http.StatusRequestedRangeNotSatisfiable,
	ErrSizeInvalid:         http.StatusBadRequest,
	ErrTagInvalid:          http.StatusBadRequest,
	ErrUnauthorized:        http.StatusUnauthorized,
	ErrDenied:              http.StatusForbidden,
	ErrUnsupported:         http.StatusMethodNotAllowed,
	ErrUnknown:             http.StatusInternalServerError,
}

// RegistryV2Error is the error type expected by clients of the docker-registry
// v2 API.
type RegistryV2Error struct {
	Code   RegistryV2ErrorCode
	Inner  error  // optional
	Detail string // optional
	Status int    // optional, overrides the default status for Code when nonzero
	// optional, these headers are set on the error response
	Headers http.Header
}

// WithDetail adds detail information to this error.
func (e *RegistryV2Error) WithDetail(detail string) *RegistryV2Error {
	e.Detail = detail
	return e
}

// WithStatus overrides the HTTP status code for this error.
func (e *RegistryV2Error) WithStatus(status int) *RegistryV2Error {
	e.Status = status
	return e
}

// WithHeader adds a header to the eventual error response.
func (e *RegistryV2Error) WithHeader(key string, values ...string) *RegistryV2Error {
	if e.Headers == nil {
		e.Headers = make(http.Header)
	}
	e.Headers[http.CanonicalHeaderKey(key)] = values
	return e
}

// MarshalJSON implements the json.Marshaler interface.
func (e *RegistryV2Error) MarshalJSON() ([]byte, error) {
	data := struct {
		Code    string  `json:"code"`
		Message string  `json:"message"`
		Detail  *string `json:"detail,omitempty"`
	}{
		Code:    string(e.Code),
		Message: e.Error(),
	}
	if e.Detail != "" {
		data.Detail = &e.Detail
	}
	return json.Marshal(data)
}

// WriteAsRegistryV2ResponseTo reports this error in the format used by the
// Registry V2 API.
func (e *RegistryV2Error) WriteAsRegistryV2ResponseTo(w http.ResponseWriter) {
	for key, values := range e.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	buf, _ := json.Marshal(struct {
		Errors []*RegistryV2Error `json:"errors"`
	}{
		Errors: []*RegistryV2Error{e},
	})
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(buf)+1))
	w.WriteHeader(e.HTTPStatus())
	w.Write(append(buf, '\n'))
}

// WriteAsTextTo reports this error in a plain text format.
func (e *RegistryV2Error) WriteAsTextTo(w http.ResponseWriter) {
	w.WriteHeader(e.HTTPStatus())
	w.Write(append([]byte(e.Error()), '\n'))
}

// HTTPStatus returns the HTTP status code for this error.
func (e *RegistryV2Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return apiErrorStatusCodes[e.Code]
}

// Error implements the builtin/error interface.
func (e *RegistryV2Error) Error() string {
	text := apiErrorMessages[e.Code]
	if e.Inner != nil {
		text += ": " + e.Inner.Error()
	}
	return text
}

// AsRegistryV2Error converts an arbitrary error into a RegistryV2Error,
// preserving it when it already is one.
func AsRegistryV2Error(err error) *RegistryV2Error {
	var rerr *RegistryV2Error
	if errors.As(err, &rerr) {
		return rerr
	}
	return ErrUnknown.With(err.Error())
}
