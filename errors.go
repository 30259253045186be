// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/featurebasedb/gateway/errors"
)

const (
	ErrMissingProperty    errors.Code = "MissingProperty"
	ErrInvalidValue       errors.Code = "InvalidValue"
	ErrAPIVersionMismatch errors.Code = "APIVersionMismatch"

	ErrConfiguration  errors.Code = "Configuration"
	ErrParameterRange errors.Code = "ParameterRange"

	ErrConnector   errors.Code = "Connector"
	ErrAuthExpired errors.Code = "AuthExpired"

	ErrCodec           errors.Code = "Codec"
	ErrUnsupportedType errors.Code = "UnsupportedType"
)

// UpgradeHint is returned to clients which do not send a protocol version.
const UpgradeHint = "upgrade the gateway extension (run 'gateway register' and then 'ALTER EXTENSION gateway UPDATE')"

// The following are helper functions for constructing coded errors containing
// relevant information about the specific error.

func NewErrMissingProperty(name string) error {
	return errors.New(
		ErrMissingProperty,
		fmt.Sprintf("Property %s has no value in the current request", name),
	)
}

// NewErrMissingAPIVersion is the missing-property error for the protocol
// version header; it carries an upgrade hint.
func NewErrMissingAPIVersion(name string) error {
	return errors.NewWithHint(
		ErrMissingProperty,
		fmt.Sprintf("Property %s has no value in the current request", name),
		UpgradeHint,
	)
}

func NewErrInvalidValue(name, value, expected string) error {
	return errors.New(
		ErrInvalidValue,
		fmt.Sprintf("%s must be %s, got '%s'", name, expected, value),
	)
}

func NewErrAPIVersionMismatch(server, client string) error {
	return errors.NewWithHint(
		ErrAPIVersionMismatch,
		fmt.Sprintf("API version mismatch; server implements v%s and client implements v%s", server, client),
		UpgradeHint,
	)
}

func NewErrConfiguration(format string, args ...interface{}) error {
	return errors.New(ErrConfiguration, fmt.Sprintf(format, args...))
}

// NewErrProfileConflict reports every key that both the profile and the
// request options define. Keys are listed in case-insensitive order.
func NewErrProfileConflict(profile string, keys []string) error {
	sorted := append([]string(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i]) < strings.ToLower(sorted[j])
	})
	return errors.New(
		ErrConfiguration,
		fmt.Sprintf("Profile '%s' already defines: [%s]", profile, strings.Join(sorted, ", ")),
	)
}

func NewErrHandler(handler string, cause error) error {
	return errors.New(
		ErrConfiguration,
		fmt.Sprintf("Error when invoking handlerClass '%s' : %v", handler, cause),
	)
}

func NewErrParameterRange(name string, value, lower, upper int) error {
	return errors.New(
		ErrParameterRange,
		fmt.Sprintf("The parameter %s has the value %d. The value must be in the range [%d, %d]", name, value, lower, upper),
	)
}

// NewErrConnector wraps a failure raised by a fragmenter, accessor or
// resolver as an I/O failure.
func NewErrConnector(description string, cause error) error {
	return errors.Wrap(
		errors.New(ErrConnector, fmt.Sprintf("%s: %v", description, cause)),
		"I/O failure",
	)
}

// NewErrAuthExpired marks cause as recoverable by renewing credentials.
func NewErrAuthExpired(cause error) error {
	return errors.New(ErrAuthExpired, fmt.Sprintf("authentication expired: %v", cause))
}

func NewErrCodec(format string, args ...interface{}) error {
	return errors.New(ErrCodec, fmt.Sprintf(format, args...))
}

func NewErrUnsupportedType(what, name string) error {
	return errors.New(
		ErrUnsupportedType,
		fmt.Sprintf("unsupported %s '%s'", what, name),
	)
}

// IsCoded reports whether err carries one of the gateway's error codes.
func IsCoded(err error) bool {
	return errors.CodeOf(err) != ""
}
