package bitget

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"
)

// Signer produces Bitget V2 API auth headers. Keys live as []byte so they
// can be wiped from memory on shutdown.
type Signer struct {
	accessKey  []byte
	secretKey  []byte
	passphrase []byte
}

// NewSigner creates a signer from the configured credentials.
func NewSigner(accessKey, secretKey, passphrase string) *Signer {
	return &Signer{
		accessKey:  []byte(accessKey),
		secretKey:  []byte(secretKey),
		passphrase: []byte(passphrase),
	}
}

// Wipe clears the keys from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	wipe(s.accessKey)
	wipe(s.secretKey)
	wipe(s.passphrase)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Headers builds the signed header set for one request. The signature
// payload is timestamp + method + path (with query) + body.
func (s *Signer) Headers(method, pathWithQuery, body string) map[string]string {
	timestamp := fmt.Sprintf("%d", time.Now().UnixMilli())

	payload := timestamp + method + pathWithQuery + body
	signature := s.sign(payload)

	return map[string]string{
		"ACCESS-KEY":        string(s.accessKey),
		"ACCESS-SIGN":       signature,
		"ACCESS-TIMESTAMP":  timestamp,
		"ACCESS-PASSPHRASE": string(s.passphrase),
		"Content-Type":      "application/json",
		"locale":            "en-US",
	}
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
