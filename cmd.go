// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package gateway

import (
	"io"

	"github.com/featurebasedb/gateway/logger"
)

// CmdIO holds the standard streams of a CLI command and the logger built on
// its stderr.
type CmdIO struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	logger logger.Logger
}

// NewCmdIO returns a CmdIO which logs info messages and above to stderr.
func NewCmdIO(stdin io.Reader, stdout, stderr io.Writer) *CmdIO {
	return &CmdIO{
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		logger: logger.NewStandardLogger(stderr),
	}
}

// SetVerbose switches the logger to include debug messages.
func (c *CmdIO) SetVerbose(verbose bool) {
	c.logger = logger.NewLogger(c.Stderr, verbose)
}

func (c *CmdIO) Logger() logger.Logger {
	return c.logger
}
