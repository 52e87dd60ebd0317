// Package tlstest issues throwaway ECDSA certificates for wss:// tests.
// Ground stations get loopback server certificates, vehicles get client
// certificates for mutual TLS; both chain to one per-test authority.
package tlstest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const validity = 24 * time.Hour

// KeyPair names the PEM files written for one leaf certificate.
type KeyPair struct {
	CertFile string
	KeyFile  string
}

type Authority struct {
	dir    string
	cert   *x509.Certificate
	key    *ecdsa.PrivateKey
	caFile string
	serial atomic.Int64
}

// New creates an authority whose files live in a test temp dir.
func New(t testing.TB, name string) *Authority {
	t.Helper()
	a := &Authority{dir: t.TempDir()}
	a.serial.Store(1)

	key := newKey(t)
	template := a.template(name)
	template.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	template.BasicConstraintsValid = true
	template.IsCA = true
	template.MaxPathLen = 1

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("tlstest: create authority %s: %v", name, err)
	}
	if a.cert, err = x509.ParseCertificate(der); err != nil {
		t.Fatalf("tlstest: parse authority %s: %v", name, err)
	}
	a.key = key
	a.caFile = a.write(t, "ca.crt", "CERTIFICATE", der, 0o644)
	return a
}

func (a *Authority) CAFile() string {
	return a.caFile
}

// Ground issues a server certificate valid for localhost, 127.0.0.1 and ::1.
func (a *Authority) Ground(t testing.TB) KeyPair {
	t.Helper()
	template := a.template("ground")
	template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	template.DNSNames = []string{"localhost"}
	template.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	return a.issue(t, "ground", template)
}

// Vehicle issues a client certificate for mutual TLS.
func (a *Authority) Vehicle(t testing.TB, id string) KeyPair {
	t.Helper()
	template := a.template(id)
	template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	return a.issue(t, "vehicle-"+fileBase(id), template)
}

func (a *Authority) issue(t testing.TB, base string, template *x509.Certificate) KeyPair {
	t.Helper()
	key := newKey(t)
	template.KeyUsage = x509.KeyUsageDigitalSignature
	der, err := x509.CreateCertificate(rand.Reader, template, a.cert, &key.PublicKey, a.key)
	if err != nil {
		t.Fatalf("tlstest: sign %s: %v", base, err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("tlstest: marshal %s key: %v", base, err)
	}
	return KeyPair{
		CertFile: a.write(t, base+".crt", "CERTIFICATE", der, 0o644),
		KeyFile:  a.write(t, base+".key", "PRIVATE KEY", keyDER, 0o600),
	}
}

func (a *Authority) template(commonName string) *x509.Certificate {
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: big.NewInt(a.serial.Add(1)),
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"spacecoffee"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(validity),
	}
}

func (a *Authority) write(t testing.TB, name, blockType string, der []byte, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(a.dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der}), perm); err != nil {
		t.Fatalf("tlstest: write %s: %v", name, err)
	}
	return path
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("tlstest: generate key: %v", err)
	}
	return key
}

func fileBase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "anon"
	}
	return strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(s)
}
