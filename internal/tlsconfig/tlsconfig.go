// Package tlsconfig loads and validates the TLS listener configuration.
//
// The certificate and key are loaded once at startup and shared read-only
// by every connection; a missing, unparsable or expired pair is a startup
// failure rather than a runtime one.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"
)

// cipherSuites is the TLS 1.2 cipher list offered to clients, in server
// preference order. TLS 1.3 suites are fixed by crypto/tls and not
// configurable. The server's ordering wins during negotiation; client
// preference is ignored.
var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// expiryWarningWindow is how close to NotAfter a certificate may be
// before load logs a renewal warning.
const expiryWarningWindow = 30 * 24 * time.Hour

// Load reads the certificate/key pair and returns a server tls.Config
// accepting only TLS 1.2 and 1.3. minVersion is "1.2" (default) or "1.3".
func Load(certFile, keyFile, minVersion string, logger *slog.Logger) (*tls.Config, error) {
	if certFile == "" {
		return nil, fmt.Errorf("tls: cert_file is required")
	}
	if keyFile == "" {
		return nil, fmt.Errorf("tls: key_file is required")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: load key pair: %w", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("tls: parse certificate: %w", err)
	}
	if err := validateLeaf(leaf); err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}

	if until := time.Until(leaf.NotAfter); until < expiryWarningWindow {
		logger.Warn("certificate expires soon",
			"not_after", leaf.NotAfter.Format(time.RFC3339),
			"days_left", int(until.Hours()/24),
		)
	}

	min, err := parseMinVersion(minVersion)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   min,
		MaxVersion:   tls.VersionTLS13,
		CipherSuites: cipherSuites,
	}, nil
}

// validateLeaf rejects certificates outside their validity window.
func validateLeaf(cert *x509.Certificate) error {
	now := time.Now()
	if now.Before(cert.NotBefore) {
		return fmt.Errorf("certificate not valid until %s", cert.NotBefore.Format(time.RFC3339))
	}
	if now.After(cert.NotAfter) {
		return fmt.Errorf("certificate expired on %s", cert.NotAfter.Format(time.RFC3339))
	}
	return nil
}

// parseMinVersion maps the config string to a tls version constant.
// TLS 1.0 and 1.1 are not offered at all.
func parseMinVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("tls: min_version must be 1.2 or 1.3; got %q", v)
	}
}
