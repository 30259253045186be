// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"fmt"
	"net"
	"strings"
	"time"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/fragmenter"
	"github.com/featurebasedb/gateway/plugins/jdbc"
	"github.com/featurebasedb/gateway/plugins/kafka"
	"github.com/featurebasedb/gateway/plugins/s3"
	"github.com/featurebasedb/gateway/toml"
	jaeger "github.com/uber/jaeger-client-go"
)

const (
	defaultBindPort = "5888"

	// SamplerTypeOff disables tracing.
	SamplerTypeOff = "off"
)

// TLSConfig contains TLS configuration
type TLSConfig struct {
	// CertificatePath contains the path to the certificate (.crt or .pem file)
	CertificatePath string `toml:"certificate"`
	// CertificateKeyPath contains the path to the certificate key (.key file)
	CertificateKeyPath string `toml:"key"`
	// CACertPath is the path to a CA certificate (.crt or .pem file)
	CACertPath string `toml:"ca-certificate"`
	// EnableClientVerification requires segments to present a certificate
	// signed by the CA.
	EnableClientVerification bool `toml:"enable-client-verification"`
}

// Config represents the configuration for the command.
type Config struct {
	// Bind is the host:port on which the gateway will listen.
	Bind string `toml:"bind"`

	// LogPath configures where the gateway will write logs.
	LogPath string `toml:"log-path"`

	// Verbose toggles verbose logging which can be useful for debugging.
	Verbose bool `toml:"verbose"`

	// AccessLog writes a line per HTTP request to the log output.
	AccessLog bool `toml:"access-log"`

	// ProfilesFile adds profiles to the built-in ones.
	ProfilesFile string `toml:"profiles-file"`

	// APIVersion is the protocol version announced to segments.
	APIVersion string `toml:"api-version"`

	// BaseDir is the directory file profiles resolve paths against.
	BaseDir string `toml:"base-dir"`

	TLS TLSConfig `toml:"tls"`

	FragmenterCache struct {
		// Expiration is how long an unused fragment list stays cached.
		Expiration      toml.Duration `toml:"expiration"`
		CleanupInterval toml.Duration `toml:"cleanup-interval"`
	} `toml:"fragmenter-cache"`

	Metric struct {
		// Service can be prometheus or none.
		Service string `toml:"service"`
	} `toml:"metric"`

	Tracing struct {
		// AgentHostPort is the host:port of the local Jaeger agent.
		AgentHostPort string `toml:"agent-host-port"`
		// SamplerType is off or one of the Jaeger sampler types.
		SamplerType  string  `toml:"sampler-type"`
		SamplerParam float64 `toml:"sampler-param"`
	} `toml:"tracing"`

	S3    s3.Config    `toml:"s3"`
	Kafka kafka.Config `toml:"kafka"`

	// JDBC maps server names to database connections.
	JDBC map[string]jdbc.ServerConfig `toml:"jdbc"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	c := &Config{
		Bind:       ":" + defaultBindPort,
		APIVersion: gateway.APIVersion,
		BaseDir:    "/",
		JDBC:       map[string]jdbc.ServerConfig{},
	}

	c.FragmenterCache.Expiration = toml.Duration(fragmenter.DefaultExpiration)
	c.FragmenterCache.CleanupInterval = toml.Duration(time.Minute)

	c.Metric.Service = "prometheus"

	c.Tracing.AgentHostPort = fmt.Sprintf("%s:%d", jaeger.DefaultUDPSpanServerHost, jaeger.DefaultUDPSpanServerPort)
	c.Tracing.SamplerType = SamplerTypeOff
	c.Tracing.SamplerParam = 0.001

	c.Kafka.DialTimeout = toml.Duration(10 * time.Second)
	return c
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return gateway.NewErrConfiguration("bind address is empty")
	}
	if _, _, err := net.SplitHostPort(normalizeBind(c.Bind)); err != nil {
		return gateway.NewErrInvalidValue("bind", c.Bind, "a host:port address")
	}
	if c.APIVersion == "" {
		return gateway.NewErrConfiguration("api-version is empty")
	}
	if c.FragmenterCache.Expiration < 0 {
		return gateway.NewErrInvalidValue("fragmenter-cache.expiration", c.FragmenterCache.Expiration.String(), "a non-negative duration")
	}
	if c.FragmenterCache.CleanupInterval <= 0 {
		return gateway.NewErrInvalidValue("fragmenter-cache.cleanup-interval", c.FragmenterCache.CleanupInterval.String(), "a positive duration")
	}
	switch strings.ToLower(c.Metric.Service) {
	case "prometheus", "none", "":
	default:
		return gateway.NewErrInvalidValue("metric.service", c.Metric.Service, "prometheus or none")
	}
	switch c.Tracing.SamplerType {
	case SamplerTypeOff, "", jaeger.SamplerTypeConst, jaeger.SamplerTypeProbabilistic,
		jaeger.SamplerTypeRateLimiting, jaeger.SamplerTypeRemote:
	default:
		return gateway.NewErrInvalidValue("tracing.sampler-type", c.Tracing.SamplerType,
			fmt.Sprintf("one of %s, %s, %s, %s or %s", SamplerTypeOff, jaeger.SamplerTypeConst,
				jaeger.SamplerTypeProbabilistic, jaeger.SamplerTypeRateLimiting, jaeger.SamplerTypeRemote))
	}
	if (c.TLS.CertificatePath == "") != (c.TLS.CertificateKeyPath == "") {
		return gateway.NewErrConfiguration("tls certificate and key must be set together")
	}
	return nil
}

// MetricsEnabled reports whether /metrics is served.
func (c *Config) MetricsEnabled() bool {
	return strings.EqualFold(c.Metric.Service, "prometheus")
}

// normalizeBind adds the default port to a bind address without one.
func normalizeBind(bind string) string {
	bind = strings.TrimPrefix(bind, "http://")
	bind = strings.TrimPrefix(bind, "https://")
	if _, _, err := net.SplitHostPort(bind); err != nil {
		return net.JoinHostPort(strings.Trim(bind, "[]"), defaultBindPort)
	}
	return bind
}
