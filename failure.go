// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
)

// FailureHandler runs a connector operation on behalf of a request.
type FailureHandler interface {
	Execute(rc *RequestContext, description string, op func() error) error
}

// RetryingFailureHandler retries an operation once when it fails because
// the connector's credentials expired. Other failures are returned as they
// are.
type RetryingFailureHandler struct {
	Logger logger.Logger

	// Renew is called before the retry. It may be nil.
	Renew func(rc *RequestContext) error
}

func (h *RetryingFailureHandler) Execute(rc *RequestContext, description string, op func() error) error {
	err := op()
	if err == nil || !errors.Is(err, ErrAuthExpired) {
		return err
	}
	h.logger().Warnf("%s failed for user %s, retrying with renewed credentials: %v", description, rc.User, err)
	if h.Renew != nil {
		if rerr := h.Renew(rc); rerr != nil {
			return errors.Wrapf(rerr, "renewing credentials for %s", description)
		}
	}
	return op()
}

func (h *RetryingFailureHandler) logger() logger.Logger {
	if h.Logger == nil {
		return logger.NopLogger
	}
	return h.Logger
}
