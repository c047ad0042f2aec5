package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
)

// maxLayers bounds how many encryption layers Normalize will peel.
const maxLayers = 4

// FieldCipher encrypts individual PII-bearing columns.
//
// Ciphertext is base64(nonce || AES-256-GCM sealed box). Values that fail to
// decode or authenticate are treated as legacy plaintext, so DecryptSafe is
// idempotent on anything that is not our ciphertext.
type FieldCipher struct {
	enc     Encryptor
	hashKey []byte
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewFieldCipher builds a cipher from the master key. A nil key produces a
// cipher whose reads degrade to raw values and whose writes fail.
func NewFieldCipher(masterKey []byte) (*FieldCipher, error) {
	if len(masterKey) == 0 {
		return &FieldCipher{}, nil
	}

	enc, err := NewAESEncryptor(masterKey)
	if err != nil {
		return nil, err
	}

	hashKey := make([]byte, KeySize)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte("opd-name-hash"))
	if _, err := io.ReadFull(kdf, hashKey); err != nil {
		return nil, fmt.Errorf("derive name hash key: %w", err)
	}

	return &FieldCipher{enc: enc, hashKey: hashKey}, nil
}

// Instrument reports read fallbacks to m and logs them at debug level.
func (c *FieldCipher) Instrument(m *metrics.Metrics, log *logger.Logger) *FieldCipher {
	c.metrics = m
	c.logger = log
	return c
}

// Available reports whether writes can be encrypted.
func (c *FieldCipher) Available() bool {
	return c != nil && c.enc != nil
}

// Encrypt seals plaintext. Empty input stays empty.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if !c.Available() {
		return "", apperrors.Cipher(ErrKeyUnavailable)
	}

	sealed, err := c.enc.Encrypt([]byte(plaintext))
	if err != nil {
		return "", apperrors.Cipher(err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// EncryptAll encrypts each pointed-to string in place, stopping at the first failure.
func (c *FieldCipher) EncryptAll(fields ...*string) error {
	for _, f := range fields {
		if f == nil {
			continue
		}
		enc, err := c.Encrypt(*f)
		if err != nil {
			return err
		}
		*f = enc
	}
	return nil
}

// DecryptSafe never fails: anything it cannot open is returned unchanged.
func (c *FieldCipher) DecryptSafe(value string) string {
	out, _ := c.open(value)
	return out
}

// Reveal is the read path for sensitive columns. Historical rows were
// sometimes encrypted twice, so two passes are applied.
func (c *FieldCipher) Reveal(value string) string {
	once, ok := c.open(value)
	if !ok {
		if value != "" && c.Available() {
			c.observe("plaintext")
		}
		return value
	}
	twice, ok := c.open(once)
	if ok {
		c.observe("double_encrypted")
	}
	return twice
}

func (c *FieldCipher) observe(fallback string) {
	if c.metrics != nil {
		switch fallback {
		case "plaintext":
			c.metrics.CipherPlaintextReads.Inc()
		default:
			c.metrics.CipherDoubleEncryptedReads.Inc()
		}
	}
	if c.logger != nil {
		c.logger.Debug("field cipher read fallback", "fallback", fallback)
	}
}

// RevealPtr is Reveal for nullable columns.
func (c *FieldCipher) RevealPtr(value *string) *string {
	if value == nil {
		return nil
	}
	out := c.Reveal(*value)
	return &out
}

// Normalize peels every encryption layer and re-encrypts exactly once.
// changed is false when value already is single-pass ciphertext or empty.
// Values nested deeper than maxLayers are rejected and left as they are.
func (c *FieldCipher) Normalize(value string) (string, bool, error) {
	if value == "" {
		return value, false, nil
	}
	if !c.Available() {
		return value, false, apperrors.Cipher(ErrKeyUnavailable)
	}

	current, layers := value, 0
	for layers < maxLayers {
		next, ok := c.open(current)
		if !ok {
			break
		}
		current = next
		layers++
	}
	if layers == maxLayers {
		if _, ok := c.open(current); ok {
			return value, false, apperrors.Cipher(ErrTooManyLayers)
		}
	}
	if layers == 1 {
		return value, false, nil
	}

	out, err := c.Encrypt(current)
	if err != nil {
		return value, false, err
	}
	return out, true, nil
}

// HashName returns the duplicate-detection hash of a patient name. Case and
// surrounding/inner whitespace runs are normalized before hashing.
func (c *FieldCipher) HashName(name string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(name), " "))
	if normalized == "" {
		return ""
	}
	mac := hmac.New(sha256.New, c.hashKey)
	mac.Write([]byte(normalized))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *FieldCipher) open(value string) (string, bool) {
	if value == "" || !c.Available() {
		return value, false
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return value, false
	}
	plain, err := c.enc.Decrypt(raw)
	if err != nil {
		return value, false
	}
	return string(plain), true
}
