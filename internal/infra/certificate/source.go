package certificate

import (
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

var (
	// ErrWrongPassword means the container exists but the password did not open it.
	ErrWrongPassword = errors.New("certificate: incorrect password")
	// ErrNotPresent means the source holds no usable certificate.
	ErrNotPresent = errors.New("certificate: not present")
)

// Source is one place a client certificate may live.
type Source interface {
	Name() string
	Load(password string) (*tls.Certificate, error)
}

// ============================================================
// File source (PKCS#12 or PEM)
// ============================================================

// FileSource loads a single .p12/.pfx container or a PEM bundle holding
// both the certificate and its private key.
type FileSource struct {
	Path string
}

func (f FileSource) Name() string { return "file:" + f.Path }

func (f FileSource) Load(password string) (*tls.Certificate, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotPresent
		}
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return decode(f.Path, data, password)
}

func decode(path string, data []byte, password string) (*tls.Certificate, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return decodePKCS12(data, password)
	default:
		cert, err := tls.X509KeyPair(data, data)
		if err != nil {
			return nil, fmt.Errorf("parse pem %s: %w", path, err)
		}
		return &cert, nil
	}
}

func decodePKCS12(data []byte, password string) (*tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, ErrWrongPassword
		}
		return nil, fmt.Errorf("decode pkcs12: %w", err)
	}

	var bundle []byte
	for _, b := range blocks {
		bundle = append(bundle, pem.EncodeToMemory(b)...)
	}
	cert, err := tls.X509KeyPair(bundle, bundle)
	if err != nil {
		return nil, fmt.Errorf("pkcs12 key pair: %w", err)
	}
	return &cert, nil
}

// ============================================================
// Store source (directory indexed by SHA-1 thumbprint)
// ============================================================

// StoreSource searches a certificate store directory for the entry whose
// SHA-1 thumbprint matches.
type StoreSource struct {
	Scope      string // user or machine
	Dir        string
	Thumbprint string
}

func (s StoreSource) Name() string { return s.Scope + "-store:" + s.Dir }

func (s StoreSource) Load(password string) (*tls.Certificate, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotPresent
		}
		return nil, fmt.Errorf("read store %s: %w", s.Dir, err)
	}

	lockedOut := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".p12", ".pfx", ".pem":
		default:
			continue
		}
		path := filepath.Join(s.Dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		cert, err := decode(path, data, password)
		if errors.Is(err, ErrWrongPassword) {
			lockedOut = true
			continue
		}
		if err != nil {
			continue
		}
		if strings.EqualFold(Thumbprint(cert), s.Thumbprint) {
			return cert, nil
		}
	}
	if lockedOut {
		return nil, ErrWrongPassword
	}
	return nil, ErrNotPresent
}

// Thumbprint is the uppercase hex SHA-1 of the leaf certificate.
func Thumbprint(cert *tls.Certificate) string {
	if cert == nil || len(cert.Certificate) == 0 {
		return ""
	}
	sum := sha1.Sum(cert.Certificate[0])
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func leaf(cert *tls.Certificate) *x509.Certificate {
	if cert.Leaf != nil {
		return cert.Leaf
	}
	if len(cert.Certificate) == 0 {
		return nil
	}
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil
	}
	return parsed
}
