package tlsconfig_test

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nixpig/subprocd/certs"
	"github.com/nixpig/subprocd/internal/tlsconfig"
)

func writeCerts(t *testing.T) string {
	t.Helper()

	certDir := t.TempDir()

	for _, filename := range []string{
		"ca.crt",
		"server.crt",
		"server.key",
		"client-operator.crt",
		"client-operator.key",
	} {
		data, err := certs.FS.ReadFile(filename)
		if err != nil {
			t.Fatalf("read cert %s: %v", filename, err)
		}

		path := filepath.Join(certDir, filename)
		if err := os.WriteFile(path, data, 0600); err != nil {
			t.Fatalf("save cert %s: %v", filename, err)
		}
	}

	return certDir
}

func TestSetupTLS(t *testing.T) {
	t.Parallel()

	certDir := writeCerts(t)

	caCertPath := filepath.Join(certDir, "ca.crt")
	serverCertPath := filepath.Join(certDir, "server.crt")
	serverKeyPath := filepath.Join(certDir, "server.key")
	operatorCertPath := filepath.Join(certDir, "client-operator.crt")
	operatorKeyPath := filepath.Join(certDir, "client-operator.key")

	t.Run("Test server TLS config", func(t *testing.T) {
		t.Parallel()

		tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
			CertPath:   serverCertPath,
			KeyPath:    serverKeyPath,
			CACertPath: caCertPath,
			Server:     true,
		})
		if err != nil {
			t.Fatalf("expected TLS setup not to return error: got '%v'", err)
		}

		if tlsConfig.MinVersion != tls.VersionTLS13 {
			t.Errorf(
				"expected min TLS version: got '%v', want '%v'",
				tlsConfig.MinVersion,
				tls.VersionTLS13,
			)
		}

		if tlsConfig.ClientAuth != tls.RequireAndVerifyClientCert {
			t.Errorf(
				"expected client auth: got '%v', want '%v'",
				tlsConfig.ClientAuth,
				tls.RequireAndVerifyClientCert,
			)
		}

		if tlsConfig.ClientCAs == nil {
			t.Errorf("expected client CAs to be set")
		}

		if tlsConfig.InsecureSkipVerify {
			t.Errorf("expected insecure skip verify to be disabled")
		}
	})

	t.Run("Test client TLS config", func(t *testing.T) {
		t.Parallel()

		tlsConfig, err := tlsconfig.SetupTLS(&tlsconfig.Config{
			CertPath:   operatorCertPath,
			KeyPath:    operatorKeyPath,
			CACertPath: caCertPath,
			ServerName: "localhost",
		})
		if err != nil {
			t.Fatalf("expected TLS setup not to return error: got '%v'", err)
		}

		if tlsConfig.ServerName != "localhost" {
			t.Errorf(
				"expected server name: got '%s', want 'localhost'",
				tlsConfig.ServerName,
			)
		}

		if tlsConfig.RootCAs == nil {
			t.Errorf("expected root CAs to be set")
		}

		if tlsConfig.ClientAuth != tls.NoClientCert {
			t.Errorf("expected client config not to request client certs")
		}
	})

	t.Run("Test missing key pair", func(t *testing.T) {
		t.Parallel()

		if _, err := tlsconfig.SetupTLS(&tlsconfig.Config{
			CertPath:   filepath.Join(certDir, "missing.crt"),
			KeyPath:    serverKeyPath,
			CACertPath: caCertPath,
		}); err == nil {
			t.Errorf("expected TLS setup to return error")
		}
	})

	t.Run("Test mismatched key pair", func(t *testing.T) {
		t.Parallel()

		if _, err := tlsconfig.SetupTLS(&tlsconfig.Config{
			CertPath:   serverCertPath,
			KeyPath:    operatorKeyPath,
			CACertPath: caCertPath,
		}); err == nil {
			t.Errorf("expected TLS setup to return error")
		}
	})

	t.Run("Test missing CA certificate", func(t *testing.T) {
		t.Parallel()

		if _, err := tlsconfig.SetupTLS(&tlsconfig.Config{
			CertPath:   serverCertPath,
			KeyPath:    serverKeyPath,
			CACertPath: filepath.Join(certDir, "missing.crt"),
		}); err == nil {
			t.Errorf("expected TLS setup to return error")
		}
	})

	t.Run("Test CA certificate not PEM", func(t *testing.T) {
		t.Parallel()

		badCA := filepath.Join(t.TempDir(), "ca.crt")
		if err := os.WriteFile(badCA, []byte("not a certificate"), 0600); err != nil {
			t.Fatalf("save bad CA: %v", err)
		}

		_, err := tlsconfig.SetupTLS(&tlsconfig.Config{
			CertPath:   serverCertPath,
			KeyPath:    serverKeyPath,
			CACertPath: badCA,
		})
		if !errors.Is(err, tlsconfig.ErrInvalidCACert) {
			t.Errorf("expected ErrInvalidCACert: got '%v'", err)
		}
	})
}
