// Package webpush implements the server side of the Web Push protocol:
// VAPID authorization tokens (RFC 8292) and aes128gcm message encryption
// (RFC 8291 / RFC 8188), plus an HTTP client that delivers one message.
//
// The crypto functions keep no state between calls and are safe for
// concurrent use.
package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/pkordes/stopalert/internal/domain"
)

const (
	// TokenLifetime is added to the signing time to produce the exp claim.
	TokenLifetime = 12 * time.Hour

	// RecordSize is the rs value written into the aes128gcm header. Push
	// messages always fit in a single record.
	RecordSize = 4096

	saltSize     = 16
	authSize     = 16
	cekSize      = 16
	nonceSize    = 12
	scalarSize   = 32
	gcmTagSize   = 16
	paddingDelim = 0x02
)

// pkcs8P256Prefix is the DER encoding of a PKCS#8 PrivateKeyInfo for an
// id-ecPublicKey/prime256v1 key, up to (not including) the 32-byte scalar.
var pkcs8P256Prefix = mustDecodeHex("308141020100301306072a8648ce3d020106082a8648ce3d030107042730250201010420")

var (
	infoPrefix = []byte("WebPush: info\x00")
	cekInfo    = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo  = []byte("Content-Encoding: nonce\x00")
)

// SignAuthorizationToken returns a compact ES256 JWT with claims
// {aud: audience, sub: subject, exp: now+TokenLifetime}.
//
// signingKey is either a raw 32-byte P-256 scalar or a DER container
// (PKCS#8 or SEC1). Any other input fails with domain.ErrKeySpec.
func SignAuthorizationToken(audience, subject string, signingKey []byte, now time.Time) (string, error) {
	key, err := parseSigningKey(signingKey)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"aud": audience,
		"sub": subject,
		"exp": now.Add(TokenLifetime).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("webpush.SignAuthorizationToken: %w", err)
	}
	return token, nil
}

// PublicKey returns the uncompressed P-256 public key (65 bytes) matching
// signingKey. It is the value advertised to browsers as applicationServerKey
// and sent in the k= parameter of the Authorization header.
func PublicKey(signingKey []byte) ([]byte, error) {
	key, err := parseSigningKey(signingKey)
	if err != nil {
		return nil, err
	}
	pub, err := key.PublicKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeySpec, err)
	}
	return pub.Bytes(), nil
}

// LoadSigningKey decodes a base64 key as printed by VAPID key generators.
// URL-safe and standard alphabets are accepted, padded or not.
func LoadSigningKey(text string) ([]byte, error) {
	b, err := decodeBase64(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeySpec, err)
	}
	if _, err := parseSigningKey(b); err != nil {
		return nil, err
	}
	return b, nil
}

func parseSigningKey(b []byte) (*ecdsa.PrivateKey, error) {
	if len(b) == scalarSize {
		der := make([]byte, 0, len(pkcs8P256Prefix)+scalarSize)
		der = append(der, pkcs8P256Prefix...)
		der = append(der, b...)
		b = der
	}

	if k, err := x509.ParsePKCS8PrivateKey(b); err == nil {
		ec, ok := k.(*ecdsa.PrivateKey)
		if !ok || ec.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: not a P-256 key", domain.ErrKeySpec)
		}
		return ec, nil
	}
	if ec, err := x509.ParseECPrivateKey(b); err == nil {
		if ec.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: not a P-256 key", domain.ErrKeySpec)
		}
		return ec, nil
	}
	return nil, fmt.Errorf("%w: expected 32-byte scalar or DER key, got %d bytes", domain.ErrKeySpec, len(b))
}

// EncryptedMessage is the output of EncryptMessage.
type EncryptedMessage struct {
	Salt            []byte
	SenderPublicKey []byte // ephemeral, uncompressed P-256
	Ciphertext      []byte
}

// Body assembles the aes128gcm payload:
// salt(16) | rs(4, big endian) | idlen(1) | keyid(65) | ciphertext.
func (m EncryptedMessage) Body() []byte {
	out := make([]byte, 0, saltSize+4+1+len(m.SenderPublicKey)+len(m.Ciphertext))
	out = append(out, m.Salt...)
	out = binary.BigEndian.AppendUint32(out, RecordSize)
	out = append(out, byte(len(m.SenderPublicKey)))
	out = append(out, m.SenderPublicKey...)
	out = append(out, m.Ciphertext...)
	return out
}

// EncryptMessage encrypts plaintext for the subscriber identified by its
// p256dh public key and auth secret.
func EncryptMessage(plaintext, subscriberPublicKey, authSecret []byte) (EncryptedMessage, error) {
	curve := ecdh.P256()
	uaPublic, err := curve.NewPublicKey(subscriberPublicKey)
	if err != nil {
		return EncryptedMessage{}, fmt.Errorf("%w: %v", domain.ErrSubscriberKey, err)
	}
	if len(authSecret) != authSize {
		return EncryptedMessage{}, fmt.Errorf("%w: auth secret is %d bytes, want %d",
			domain.ErrSubscriberKey, len(authSecret), authSize)
	}
	if len(plaintext)+1+gcmTagSize > RecordSize {
		return EncryptedMessage{}, fmt.Errorf("webpush.EncryptMessage: payload of %d bytes does not fit one record", len(plaintext))
	}

	ephemeral, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return EncryptedMessage{}, fmt.Errorf("webpush.EncryptMessage: generate key: %w", err)
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return EncryptedMessage{}, fmt.Errorf("webpush.EncryptMessage: salt: %w", err)
	}

	shared, err := ephemeral.ECDH(uaPublic)
	if err != nil {
		return EncryptedMessage{}, fmt.Errorf("%w: %v", domain.ErrSubscriberKey, err)
	}

	asPublic := ephemeral.PublicKey().Bytes()
	cek, nonce, err := deriveContentKeys(shared, authSecret, salt, uaPublic.Bytes(), asPublic)
	if err != nil {
		return EncryptedMessage{}, fmt.Errorf("webpush.EncryptMessage: %w", err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return EncryptedMessage{}, fmt.Errorf("webpush.EncryptMessage: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedMessage{}, fmt.Errorf("webpush.EncryptMessage: %w", err)
	}

	padded := make([]byte, len(plaintext)+1)
	copy(padded, plaintext)
	padded[len(plaintext)] = paddingDelim

	return EncryptedMessage{
		Salt:            salt,
		SenderPublicKey: asPublic,
		Ciphertext:      gcm.Seal(nil, nonce, padded, nil),
	}, nil
}

// deriveContentKeys runs the two HKDF stages of RFC 8291 section 3.4 and
// RFC 8188 section 2.2.
func deriveContentKeys(shared, authSecret, salt, uaPublic, asPublic []byte) (cek, nonce []byte, err error) {
	info := make([]byte, 0, len(infoPrefix)+len(uaPublic)+len(asPublic))
	info = append(info, infoPrefix...)
	info = append(info, uaPublic...)
	info = append(info, asPublic...)

	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, authSecret, info), ikm); err != nil {
		return nil, nil, fmt.Errorf("derive ikm: %w", err)
	}

	cek = make([]byte, cekSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, cekInfo), cek); err != nil {
		return nil, nil, fmt.Errorf("derive cek: %w", err)
	}
	nonce = make([]byte, nonceSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, nonceInfo), nonce); err != nil {
		return nil, nil, fmt.Errorf("derive nonce: %w", err)
	}
	return cek, nonce, nil
}

// VAPIDKeys is a freshly generated application server key pair, encoded
// base64url without padding.
type VAPIDKeys struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
}

// GenerateVAPIDKeys creates a new P-256 key pair for VAPID. The private key
// is the raw 32-byte scalar.
func GenerateVAPIDKeys() (VAPIDKeys, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return VAPIDKeys{}, fmt.Errorf("webpush.GenerateVAPIDKeys: %w", err)
	}
	return VAPIDKeys{
		PublicKey:  base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
		PrivateKey: base64.RawURLEncoding.EncodeToString(priv.Bytes()),
	}, nil
}

// DecodeKey decodes base64 subscriber key material (p256dh, auth) in either
// alphabet, padded or not.
func DecodeKey(s string) ([]byte, error) {
	b, err := decodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSubscriberKey, err)
	}
	return b, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if strings.ContainsAny(s, "+/") {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
