package mitm

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// CACertFile is the CA certificate filename inside the data directory.
	// The auxiliary web server serves this file for client installation.
	CACertFile = "login-proxy-ca.crt"
	caKeyFile  = "login-proxy-ca.key"

	caValidityYears  = 10
	hostValidityDays = 365
)

// CertAuthority holds the proxy's root CA and mints per-host leaf
// certificates on demand. Leafs are cached because RSA key generation is
// expensive and clients reconnect to the same hosts repeatedly.
type CertAuthority struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
	dir  string
	log  zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*tls.Certificate
}

// LoadOrCreateCA loads the CA material from dir, generating and persisting
// a new self-signed root if none exists yet.
func LoadOrCreateCA(dir string, logger zerolog.Logger) (*CertAuthority, error) {
	ca := &CertAuthority{
		dir:   dir,
		log:   logger,
		cache: make(map[string]*tls.Certificate),
	}

	certPath := filepath.Join(dir, CACertFile)
	keyPath := filepath.Join(dir, caKeyFile)

	if fileExists(certPath) && fileExists(keyPath) {
		if err := ca.load(certPath, keyPath); err != nil {
			return nil, fmt.Errorf("[LoadOrCreateCA] failed to load CA: %w", err)
		}
		logger.Debug().Str("cert", certPath).Msg("Loaded existing CA certificate")
		return ca, nil
	}

	if err := ca.generate(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("[LoadOrCreateCA] failed to generate CA: %w", err)
	}
	logger.Info().Str("cert", certPath).Msg("Generated new CA certificate")
	return ca, nil
}

// CertPath returns the path of the CA certificate file.
func (ca *CertAuthority) CertPath() string {
	return filepath.Join(ca.dir, CACertFile)
}

func (ca *CertAuthority) generate(certPath, keyPath string) error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Login Proxy CA"},
			CommonName:   "Login Proxy Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(caValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return err
	}

	return ca.load(certPath, keyPath)
}

func (ca *CertAuthority) load(certPath, keyPath string) error {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return err
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("failed to decode certificate PEM %q", certPath)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return err
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return err
	}
	block, _ = pem.Decode(keyPEM)
	if block == nil {
		return fmt.Errorf("failed to decode key PEM %q", keyPath)
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return err
	}

	ca.cert = cert
	ca.key = key
	return nil
}

// HostCertificate returns a leaf certificate for host (host may carry a
// port), minting and caching it on first use.
func (ca *CertAuthority) HostCertificate(host string) (*tls.Certificate, error) {
	hostname := strings.Split(host, ":")[0]

	ca.mu.RLock()
	cert, exists := ca.cache[hostname]
	ca.mu.RUnlock()
	if exists {
		return cert, nil
	}

	ca.mu.Lock()
	defer ca.mu.Unlock()
	if cert, exists := ca.cache[hostname]; exists {
		return cert, nil
	}

	cert, err := ca.mintHostCertificate(hostname)
	if err != nil {
		return nil, fmt.Errorf("[CertAuthority HostCertificate] failed to mint certificate for %q: %w", hostname, err)
	}
	ca.cache[hostname] = cert
	ca.log.Debug().Str("host", hostname).Msg("Minted host certificate")
	return cert, nil
}

func (ca *CertAuthority) mintHostCertificate(hostname string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Login Proxy CA"},
			CommonName:   hostname,
		},
		NotBefore:   time.Now().Add(-1 * time.Hour),
		NotAfter:    time.Now().AddDate(0, 0, hostValidityDays),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{hostname}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, err
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER, ca.cert.Raw},
		PrivateKey:  key,
	}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
