// Package tls builds the API server's TLS configuration, generating a
// self-signed certificate when none is provided.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	caCertName = "tls_ca.crt"
	certName   = "tls.crt"
	keyName    = "tls.key"
)

// Config describes where the server certificate comes from. CertFile
// and KeyFile win over Dir; with Dir and AutoGenerate set, a missing
// certificate is generated self-signed.
type Config struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	MaxVersion   string   `toml:"max_version" mapstructure:"max_version"`
	AutoGen      *AutoGen `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGen tunes self-signed certificate generation.
type AutoGen struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

func parseVersion(v string) (uint16, bool) {
	switch strings.ToLower(v) {
	case "", "default":
		return tls.VersionTLS13, false
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	default:
		return 0, false
	}
}

// Setup returns the tls.Config for c, or nil when TLS is disabled.
func Setup(c *Config) (*tls.Config, error) {
	if c == nil || !c.Enabled {
		return nil, nil
	}

	minVer := uint16(tls.VersionTLS13)
	maxVer := uint16(tls.VersionTLS13)
	if v, ok := parseVersion(c.MinVersion); ok {
		minVer = v
	}
	if v, ok := parseVersion(c.MaxVersion); ok {
		maxVer = v
	}

	certPath, keyPath := c.CertFile, c.KeyFile
	switch {
	case certPath != "" && keyPath != "":
	case c.Dir != "":
		certPath = filepath.Join(c.Dir, certName)
		keyPath = filepath.Join(c.Dir, keyName)
		if c.AutoGenerate && !certFilesExist(certPath, keyPath) {
			if err := generate(c, c.Dir); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("tls enabled but no certificate configured")
	}

	return &tls.Config{
		GetCertificate: certLoader(certPath, keyPath),
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

// certLoader reloads the key pair on every handshake so rotated
// certificates are picked up without a restart.
func certLoader(certPath, keyPath string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certPath)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		certPEM, err := readWithin(baseDir, certPath)
		if err != nil {
			return nil, err
		}
		keyPEM, err := readWithin(baseDir, keyPath)
		if err != nil {
			return nil, err
		}
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// readWithin reads p only when it lives under baseDir.
func readWithin(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if absFile != absBase && !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) {
			return nil, errors.New("certificate path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

func certFilesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

func generate(c *Config, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	ag := c.AutoGen
	if ag == nil {
		ag = &AutoGen{}
	}
	commonName := ag.CommonName
	if commonName == "" {
		commonName = "localhost"
	}
	org := ag.Organization
	if org == "" {
		org = "buildgate"
	}
	dnsNames := ag.DNSNames
	if len(dnsNames) == 0 {
		dnsNames = []string{"localhost"}
	}
	ips := ag.IPAddresses
	if len(ips) == 0 {
		ips = []string{"127.0.0.1"}
	}
	validDays := ag.ValidDays
	if validDays <= 0 {
		validDays = 365
	}

	return GenerateSelfSignedCert(CertConfig{
		CommonName:   commonName,
		Organization: org,
		DNSNames:     dnsNames,
		IPAddresses:  ips,
		NotAfter:     time.Now().AddDate(0, 0, validDays),
		CertPath:     filepath.Join(dir, certName),
		KeyPath:      filepath.Join(dir, keyName),
		CACertPath:   filepath.Join(dir, caCertName),
	})
}
