package certstore_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/planetsite/httplisten/certstore"
)

func writeSelfSignedCert(t *testing.T, dir string, port int) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyBytes, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	base := strconv.Itoa(port)
	require.NoError(t, os.WriteFile(filepath.Join(dir, base+".cer"), certPEM, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, base+".key"), keyPEM, 0600))
}

func TestResolve_DiscoversCertFromDir(t *testing.T) {
	dir := t.TempDir()
	writeSelfSignedCert(t, dir, 8443)

	cert, err := certstore.Resolve(dir, 8443, nil)
	require.NoError(t, err)
	require.NotNil(t, cert)
	require.NotEmpty(t, cert.Certificate)
}

func TestResolve_FallsBackWhenNotDiscovered(t *testing.T) {
	dir := t.TempDir()
	fallback := &tls.Certificate{Certificate: [][]byte{{0x01}}}

	cert, err := certstore.Resolve(dir, 9999, fallback)
	require.NoError(t, err)
	require.Same(t, fallback, cert)
}

func TestResolve_ErrorsWhenNothingAvailable(t *testing.T) {
	dir := t.TempDir()

	_, err := certstore.Resolve(dir, 9999, nil)
	require.ErrorIs(t, err, certstore.ErrNoCertificate)
}
