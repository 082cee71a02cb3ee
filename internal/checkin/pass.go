package checkin

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidPass = errors.New("invalid check-in pass")

// Claims is what a scanned pass proves.
type Claims struct {
	RegistrationID string    `json:"registration_id"`
	IssuedAt       time.Time `json:"issued_at"`
}

// PassGenerator issues QR check-in passes holding an AES-GCM sealed token,
// so door staff can verify a pass offline with the shared secret.
type PassGenerator struct {
	aead cipher.AEAD
	now  func() time.Time
}

func NewPassGenerator(secret string) (*PassGenerator, error) {
	if secret == "" {
		return nil, errors.New("check-in secret is empty")
	}
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	block, err := aes.NewCipher(hashed[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &PassGenerator{aead: aead, now: time.Now}, nil
}

// Token seals the claims for registrationID.
func (g *PassGenerator) Token(registrationID string) (string, error) {
	data, err := json.Marshal(Claims{RegistrationID: registrationID, IssuedAt: g.now().UTC()})
	if err != nil {
		return "", err
	}

	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := g.aead.Seal(nonce, nonce, data, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// PNG renders the token for registrationID as a QR code.
func (g *PassGenerator) PNG(registrationID string) ([]byte, error) {
	token, err := g.Token(registrationID)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(token, qrcode.Medium, 256)
}

// Verify opens a scanned token.
func (g *PassGenerator) Verify(token string) (*Claims, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}
	n := g.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("%w: too short", ErrInvalidPass)
	}
	data, err := g.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}
	var claims Claims
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPass, err)
	}
	return &claims, nil
}
