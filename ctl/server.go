// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"time"

	"github.com/featurebasedb/gateway/server"
	"github.com/spf13/cobra"
)

// BuildServerFlags attaches a set of flags to the command for a server instance.
func BuildServerFlags(cmd *cobra.Command, srv *server.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&srv.Config.Bind, "bind", "b", srv.Config.Bind, "host:port on which the gateway should listen.")
	flags.StringVar(&srv.Config.LogPath, "log-path", srv.Config.LogPath, "Log path")
	flags.BoolVar(&srv.Config.Verbose, "verbose", srv.Config.Verbose, "Enable verbose logging")
	flags.BoolVar(&srv.Config.AccessLog, "access-log", srv.Config.AccessLog, "Log every HTTP request in Common Log Format.")
	flags.StringVar(&srv.Config.ProfilesFile, "profiles-file", srv.Config.ProfilesFile, "TOML file of profiles which add to or replace the built-in profiles.")
	flags.StringVar(&srv.Config.APIVersion, "api-version", srv.Config.APIVersion, "Protocol version announced to segments.")
	flags.StringVar(&srv.Config.BaseDir, "base-dir", srv.Config.BaseDir, "Directory the paths of file profiles are resolved against.")

	// TLS
	flags.StringVar(&srv.Config.TLS.CertificatePath, "tls.certificate", srv.Config.TLS.CertificatePath, "TLS certificate path (usually has the .crt or .pem extension)")
	flags.StringVar(&srv.Config.TLS.CertificateKeyPath, "tls.key", srv.Config.TLS.CertificateKeyPath, "TLS certificate key path (usually has the .key extension)")
	flags.StringVar(&srv.Config.TLS.CACertPath, "tls.ca-certificate", srv.Config.TLS.CACertPath, "TLS CA certificate path (usually has the .crt or .pem extension)")
	flags.BoolVar(&srv.Config.TLS.EnableClientVerification, "tls.enable-client-verification", srv.Config.TLS.EnableClientVerification, "Require segments to present a certificate signed by the CA.")

	// Fragmenter cache
	flags.DurationVar((*time.Duration)(&srv.Config.FragmenterCache.Expiration), "fragmenter-cache.expiration", time.Duration(srv.Config.FragmenterCache.Expiration), "How long an unused fragment list stays cached. Zero disables caching between requests.")
	flags.DurationVar((*time.Duration)(&srv.Config.FragmenterCache.CleanupInterval), "fragmenter-cache.cleanup-interval", time.Duration(srv.Config.FragmenterCache.CleanupInterval), "Interval at which expired fragment lists are removed.")

	// Metric
	flags.StringVar(&srv.Config.Metric.Service, "metric.service", srv.Config.Metric.Service, "Where to expose stats: can be prometheus (served at /metrics) or none.")

	// Tracing
	flags.StringVar(&srv.Config.Tracing.AgentHostPort, "tracing.agent-host-port", srv.Config.Tracing.AgentHostPort, "Jaeger agent host:port.")
	flags.StringVar(&srv.Config.Tracing.SamplerType, "tracing.sampler-type", srv.Config.Tracing.SamplerType, "Jaeger sampler type (remote, const, probabilistic, ratelimiting) or 'off' to disable tracing.")
	flags.Float64Var(&srv.Config.Tracing.SamplerParam, "tracing.sampler-param", srv.Config.Tracing.SamplerParam, "Jaeger sampler parameter.")

	// S3
	flags.StringVar(&srv.Config.S3.Region, "s3.region", srv.Config.S3.Region, "S3 region.")
	flags.StringVar(&srv.Config.S3.Endpoint, "s3.endpoint", srv.Config.S3.Endpoint, "S3 endpoint of an S3 compatible object store.")
	flags.BoolVar(&srv.Config.S3.ForcePathStyle, "s3.force-path-style", srv.Config.S3.ForcePathStyle, "Address buckets by path instead of by host name.")
	flags.StringVar(&srv.Config.S3.AccessKey, "s3.access-key", srv.Config.S3.AccessKey, "S3 access key. The default credential chain is used if empty.")
	flags.StringVar(&srv.Config.S3.SecretKey, "s3.secret-key", srv.Config.S3.SecretKey, "S3 secret key.")

	// Kafka
	flags.StringSliceVar(&srv.Config.Kafka.Brokers, "kafka.brokers", srv.Config.Kafka.Brokers, "Comma separated list of Kafka brokers.")
	flags.DurationVar((*time.Duration)(&srv.Config.Kafka.DialTimeout), "kafka.dial-timeout", time.Duration(srv.Config.Kafka.DialTimeout), "Timeout for connecting to a Kafka broker.")
}
