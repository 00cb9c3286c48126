package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gii/errors"
	"github.com/c360/gii/pkg/security"
)

type pki struct {
	dir    string
	ca     *x509.Certificate
	caKey  *ecdsa.PrivateKey
	caFile string
	serial int64
}

func newPKI(t *testing.T) *pki {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "gii test ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	p := &pki{dir: t.TempDir(), ca: ca, caKey: key, serial: 1}
	p.caFile = filepath.Join(p.dir, "ca.pem")
	require.NoError(t, os.WriteFile(p.caFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	return p
}

// issue writes a leaf certificate signed by the CA and returns its file names
func (p *pki) issue(t *testing.T, cn string, usage x509.ExtKeyUsage) (certFile, keyFile string) {
	t.Helper()
	p.serial++
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(p.serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, p.ca, &key.PublicKey, p.caKey)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(p.dir, cn+".pem")
	keyFile = filepath.Join(p.dir, cn+"-key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

// handshake runs one TLS handshake over loopback and returns the server side result
func handshake(t *testing.T, srvCfg, cliCfg *tls.Config) error {
	t.Helper()
	ln, err := tls.Listen("tcp", "127.0.0.1:0", srvCfg)
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer c.Close()
		_ = c.SetDeadline(time.Now().Add(5 * time.Second))
		serverDone <- c.(*tls.Conn).Handshake()
	}()

	// the client may finish before the server rejects its certificate
	if c, err := tls.Dial("tcp", ln.Addr().String(), cliCfg); err == nil {
		_ = c.Close()
	}
	return <-serverDone
}

func TestServerConfig(t *testing.T) {
	p := newPKI(t)
	certFile, keyFile := p.issue(t, "server", x509.ExtKeyUsageServerAuth)

	t.Run("disabled", func(t *testing.T) {
		cfg, err := ServerConfig(security.ServerTLSConfig{})
		assert.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("manual", func(t *testing.T) {
		cfg, err := ServerConfig(security.ServerTLSConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile, MinVersion: "1.3",
		})
		require.NoError(t, err)
		assert.Len(t, cfg.Certificates, 1)
		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
		assert.Equal(t, tls.NoClientCert, cfg.ClientAuth)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := ServerConfig(security.ServerTLSConfig{
			Enabled: true, CertFile: certFile, KeyFile: filepath.Join(p.dir, "nope.pem"),
		})
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("mtls modes", func(t *testing.T) {
		base := security.ServerTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile}

		base.MTLS = security.ServerMTLSConfig{Enabled: true, ClientCAFiles: []string{p.caFile}, RequireClientCert: true}
		cfg, err := ServerConfig(base)
		require.NoError(t, err)
		assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
		assert.NotNil(t, cfg.ClientCAs)
		assert.Nil(t, cfg.VerifyPeerCertificate)

		base.MTLS.RequireClientCert = false
		base.MTLS.AllowedClientCNs = []string{"giictl"}
		cfg, err = ServerConfig(base)
		require.NoError(t, err)
		assert.Equal(t, tls.VerifyClientCertIfGiven, cfg.ClientAuth)
		assert.NotNil(t, cfg.VerifyPeerCertificate)
	})

	t.Run("bad client ca", func(t *testing.T) {
		garbage := filepath.Join(p.dir, "garbage.pem")
		require.NoError(t, os.WriteFile(garbage, []byte("not pem"), 0o644))
		_, err := ServerConfig(security.ServerTLSConfig{
			Enabled: true, CertFile: certFile, KeyFile: keyFile,
			MTLS: security.ServerMTLSConfig{Enabled: true, ClientCAFiles: []string{garbage}},
		})
		assert.Error(t, err)
	})
}

func TestClientConfig(t *testing.T) {
	p := newPKI(t)
	certFile, keyFile := p.issue(t, "giictl", x509.ExtKeyUsageClientAuth)

	cfg, err := ClientConfig(security.ClientTLSConfig{})
	assert.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = ClientConfig(security.ClientTLSConfig{
		Enabled: true, ServerName: "localhost", CAFiles: []string{p.caFile},
		MTLS: security.ClientMTLSConfig{Enabled: true, CertFile: certFile, KeyFile: keyFile},
	})
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.ServerName)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	_, err = ClientConfig(security.ClientTLSConfig{Enabled: true, CAFiles: []string{filepath.Join(p.dir, "missing.pem")}})
	assert.Error(t, err)

	_, err = ClientConfig(security.ClientTLSConfig{
		Enabled: true,
		MTLS:    security.ClientMTLSConfig{Enabled: true, CertFile: certFile},
	})
	assert.Error(t, err)
}

func TestHandshake(t *testing.T) {
	p := newPKI(t)
	srvCert, srvKey := p.issue(t, "server", x509.ExtKeyUsageServerAuth)
	allowedCert, allowedKey := p.issue(t, "giictl", x509.ExtKeyUsageClientAuth)
	otherCert, otherKey := p.issue(t, "intruder", x509.ExtKeyUsageClientAuth)

	server := func(mtls security.ServerMTLSConfig) *tls.Config {
		cfg, err := ServerConfig(security.ServerTLSConfig{Enabled: true, CertFile: srvCert, KeyFile: srvKey, MTLS: mtls})
		require.NoError(t, err)
		return cfg
	}
	client := func(cert, key string) *tls.Config {
		cfg, err := ClientConfig(security.ClientTLSConfig{
			Enabled: true, ServerName: "localhost", CAFiles: []string{p.caFile},
			MTLS: security.ClientMTLSConfig{Enabled: cert != "", CertFile: cert, KeyFile: key},
		})
		require.NoError(t, err)
		return cfg
	}
	required := security.ServerMTLSConfig{Enabled: true, ClientCAFiles: []string{p.caFile}, RequireClientCert: true}
	whitelist := required
	whitelist.AllowedClientCNs = []string{"giictl"}
	optional := security.ServerMTLSConfig{Enabled: true, ClientCAFiles: []string{p.caFile}}

	tests := []struct {
		name    string
		server  *tls.Config
		client  *tls.Config
		wantErr bool
	}{
		{"plain tls", server(security.ServerMTLSConfig{}), client("", ""), false},
		{"client cert required and given", server(required), client(allowedCert, allowedKey), false},
		{"client cert required but missing", server(required), client("", ""), true},
		{"cn allowed", server(whitelist), client(allowedCert, allowedKey), false},
		{"cn rejected", server(whitelist), client(otherCert, otherKey), true},
		{"optional without cert", server(optional), client("", ""), false},
		{"optional with cert", server(optional), client(allowedCert, allowedKey), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serverErr := handshake(t, tt.server, tt.client)
			if tt.wantErr {
				assert.Error(t, serverErr)
			} else {
				assert.NoError(t, serverErr)
			}
		})
	}
}

func TestVerifyAllowedClientCN(t *testing.T) {
	cert := &x509.Certificate{Subject: pkix.Name{CommonName: "giictl"}}
	assert.NoError(t, verifyAllowedClientCN([][]*x509.Certificate{{cert}}, []string{"other", "giictl"}))
	assert.Error(t, verifyAllowedClientCN([][]*x509.Certificate{{cert}}, []string{"other"}))
	assert.Error(t, verifyAllowedClientCN(nil, []string{"giictl"}))
}

func TestParseTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS13), parseTLSVersion("1.3"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion("1.2"))
	assert.Equal(t, uint16(tls.VersionTLS12), parseTLSVersion(""))
}
