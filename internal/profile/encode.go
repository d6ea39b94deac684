package profile

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.mozilla.org/pkcs7"
	"howett.net/plist"
)

// Encode serialises the document as an XML property list.
func Encode(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, errors.New("profile: document is nil")
	}

	var buf bytes.Buffer
	enc := plist.NewEncoderForFormat(&buf, plist.XMLFormat)
	enc.Indent("\t")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("profile: encode plist: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an unsigned property list back into a generic map.
func Decode(data []byte) (map[string]any, error) {
	var out map[string]any
	if _, err := plist.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("profile: decode plist: %w", err)
	}
	return out, nil
}

// Signer wraps an encoded profile in a signature envelope.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	Signed() bool
}

// NopSigner returns the payload untouched; the client OS shows the profile as unsigned.
type NopSigner struct{}

func (NopSigner) Sign(payload []byte) ([]byte, error) { return payload, nil }
func (NopSigner) Signed() bool                        { return false }

// CMSSigner produces a CMS SignedData envelope with the payload attached.
type CMSSigner struct {
	cert  *x509.Certificate
	key   crypto.PrivateKey
	chain []*x509.Certificate
}

// NewCMSSigner builds a signer from an already parsed certificate and key.
func NewCMSSigner(cert *x509.Certificate, key crypto.PrivateKey, chain ...*x509.Certificate) (*CMSSigner, error) {
	if cert == nil || key == nil {
		return nil, errors.New("profile: signing certificate and key are required")
	}
	return &CMSSigner{cert: cert, key: key, chain: chain}, nil
}

// LoadCMSSigner reads PEM encoded certificate(s) and a private key from disk. The first
// certificate is the signer; the rest are attached as intermediates.
func LoadCMSSigner(certPath, keyPath string) (*CMSSigner, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("profile: read signing certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("profile: read signing key: %w", err)
	}

	var certs []*x509.Certificate
	for rest := certPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("profile: parse signing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("profile: no certificate found in " + certPath)
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return NewCMSSigner(certs[0], key, certs[1:]...)
}

func parsePrivateKey(data []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("profile: signing key is not PEM encoded")
	}
	switch strings.ToUpper(block.Type) {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("profile: parse signing key: %w", err)
		}
		return key, nil
	}
}

func (s *CMSSigner) Sign(payload []byte) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(payload)
	if err != nil {
		return nil, fmt.Errorf("profile: init signed data: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSignerChain(s.cert, s.key, s.chain, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("profile: add signer: %w", err)
	}
	signed, err := sd.Finish()
	if err != nil {
		return nil, fmt.Errorf("profile: finish signature: %w", err)
	}
	return signed, nil
}

func (s *CMSSigner) Signed() bool { return true }
