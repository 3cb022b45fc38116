// Package auth builds WebSocket handshake headers, either a bearer token or
// an RSA-PSS signature over the request line.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rickgao/streamlink/internal/config"
)

// Signed handshake header names.
const (
	HeaderAccessKey       = "X-Access-Key"
	HeaderAccessTimestamp = "X-Access-Timestamp"
	HeaderAccessSignature = "X-Access-Signature"
)

// Provider returns the headers to attach to a handshake for target.
type Provider interface {
	HandshakeHeader(target *url.URL) (http.Header, error)
}

// FromConfig picks a provider from config. It returns nil when no
// credentials are configured.
func FromConfig(cfg config.AuthConfig) (Provider, error) {
	switch {
	case cfg.Token != "":
		return Token(cfg.Token), nil
	case cfg.KeyID != "":
		return LoadCredentials(cfg.KeyID, cfg.PrivateKeyPath)
	default:
		return nil, nil
	}
}

// Token sends a static bearer token.
type Token string

// HandshakeHeader implements Provider.
func (t Token) HandshakeHeader(*url.URL) (http.Header, error) {
	if t == "" {
		return nil, errors.New("empty bearer token")
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+string(t))
	return h, nil
}

// Credentials holds the key ID and private key for signed handshakes.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey

	now func() time.Time
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, errors.New("key ID is required")
	}
	if privateKeyPath == "" {
		return nil, errors.New("private key path is required")
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}

	return &Credentials{
		KeyID:      keyID,
		PrivateKey: privateKey,
	}, nil
}

// LoadPrivateKey loads an RSA private key from a PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	// PKCS#8 first, then PKCS#1
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("key is not an RSA private key")
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// HandshakeHeader signs a GET of target's path. A fresh timestamp is used
// on every call so reconnect attempts carry new signatures.
func (c *Credentials) HandshakeHeader(target *url.URL) (http.Header, error) {
	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}

	ts := c.clock().UnixMilli()
	signature, err := c.Sign(ts, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderAccessKey, c.KeyID)
	h.Set(HeaderAccessTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderAccessSignature, signature)
	return h, nil
}

// Sign returns the base64 RSA-PSS signature of timestamp + method + path.
func (c *Credentials) Sign(timestampMs int64, method, path string) (string, error) {
	if c.PrivateKey == nil {
		return "", errors.New("no private key")
	}

	hashed := sha256.Sum256([]byte(SigningMessage(timestampMs, method, path)))
	signature, err := rsa.SignPSS(
		rand.Reader,
		c.PrivateKey,
		crypto.SHA256,
		hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash},
	)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// SigningMessage is the string covered by the signature.
func SigningMessage(timestampMs int64, method, path string) string {
	return strconv.FormatInt(timestampMs, 10) + method + path
}

func (c *Credentials) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}
