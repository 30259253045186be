// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"os/signal"
	"sync"
	"syscall"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
)

// keypairReloader serves the current certificate and reloads it from disk
// on SIGHUP, so certificates can be rotated without a restart.
type keypairReloader struct {
	certMu   sync.RWMutex
	cert     *tls.Certificate
	certPath string
	keyPath  string
}

func newKeypairReloader(certPath, keyPath string, log logger.Logger) (*keypairReloader, error) {
	kpr := &keypairReloader{
		certPath: certPath,
		keyPath:  keyPath,
	}
	if err := kpr.reload(); err != nil {
		return nil, err
	}
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGHUP)
		for range c {
			log.Infof("received SIGHUP, reloading TLS certificate and key from %q and %q", certPath, keyPath)
			if err := kpr.reload(); err != nil {
				log.Errorf("keeping old TLS certificate because the new one could not be loaded: %v", err)
			}
		}
	}()
	return kpr, nil
}

func (kpr *keypairReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(kpr.certPath, kpr.keyPath)
	if err != nil {
		return err
	}
	kpr.certMu.Lock()
	defer kpr.certMu.Unlock()
	kpr.cert = &cert
	return nil
}

func (kpr *keypairReloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	kpr.certMu.RLock()
	defer kpr.certMu.RUnlock()
	return kpr.cert, nil
}

// GetTLSConfig returns the server TLS configuration, or nil if no
// certificate is configured.
func GetTLSConfig(c TLSConfig, log logger.Logger) (*tls.Config, error) {
	if c.CertificatePath == "" || c.CertificateKeyPath == "" {
		if c.EnableClientVerification {
			return nil, gateway.NewErrConfiguration("client verification requires a TLS certificate")
		}
		return nil, nil
	}

	kpr, err := newKeypairReloader(c.CertificatePath, c.CertificateKeyPath, log)
	if err != nil {
		return nil, errors.Wrap(err, "loading keypair")
	}
	conf := &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: kpr.getCertificate,
	}

	if c.CACertPath != "" {
		b, err := os.ReadFile(c.CACertPath)
		if err != nil {
			return nil, errors.Wrap(err, "loading tls ca certificate")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(b) {
			return nil, gateway.NewErrConfiguration("no certificates found in %s", c.CACertPath)
		}
		conf.ClientCAs = pool
	}
	if c.EnableClientVerification {
		if conf.ClientCAs == nil {
			return nil, gateway.NewErrConfiguration("client verification requires a CA certificate")
		}
		conf.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return conf, nil
}
