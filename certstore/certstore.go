// Package certstore implements the certificate discovery rule of spec
// §6/§4.10: when no certificate is supplied for a secure endpoint, look
// for "<port>.cer"/"<port>.key" in a configured directory before falling
// back to a caller-supplied default.
//
// This is a deliberate reduction of the teacher's full ACME-automation
// CertificateManager (renewal monitor, account keys, Let's-Encrypt
// client) down to the lookup-and-load half of it — certificate
// acquisition and renewal are out of scope for the connection/dispatch
// core.
package certstore

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// ErrNoCertificate is returned when neither a discovered nor a fallback
// certificate is available.
var ErrNoCertificate = errors.New("certstore: no certificate available for port")

// Resolve implements the discovery rule: look for
// "<certDir>/<port>.cer" and "<certDir>/<port>.key"; if both exist,
// load and return them; otherwise return fallback if non-nil; otherwise
// fail.
func Resolve(certDir string, port int, fallback *tls.Certificate) (*tls.Certificate, error) {
	certPath := filepath.Join(certDir, strconv.Itoa(port)+".cer")
	keyPath := filepath.Join(certDir, strconv.Itoa(port)+".key")

	if fileExists(certPath) && fileExists(keyPath) {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, errors.Wrapf(err, "certstore: loading cert/key for port %d", port)
		}
		return &cert, nil
	}

	if fallback != nil {
		return fallback, nil
	}

	return nil, errors.Wrapf(ErrNoCertificate, "port %d, dir %q", port, certDir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
