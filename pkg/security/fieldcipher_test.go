package security

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
)

func newTestCipher(t *testing.T) *FieldCipher {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	raw, err := ParseKey(key)
	require.NoError(t, err)
	c, err := NewFieldCipher(raw)
	require.NoError(t, err)
	return c
}

func TestDoubleDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, x := range []string{"Juan Dela Cruz", "0917-555-0101", "Hypertension, stage 1", "ñ 漢字 ✓", "a"} {
		enc, err := c.Encrypt(x)
		require.NoError(t, err)
		assert.NotEqual(t, x, enc)
		assert.Equal(t, x, c.DecryptSafe(c.DecryptSafe(enc)))
		assert.Equal(t, x, c.Reveal(enc))
	}
}

func TestDecryptSafeIsIdentityOnPlaintext(t *testing.T) {
	c := newTestCipher(t)

	// "abcd" is valid base64 but not our ciphertext.
	for _, x := range []string{"", "abcd", "Maria Santos", "not==base64!!", "QUJDREVGR0hJSktMTU5PUFFSU1RVVldYWVo="} {
		assert.Equal(t, x, c.DecryptSafe(x))
		assert.Equal(t, x, c.Reveal(x))
	}
}

func TestRevealRecoversLegacyDoubleEncryption(t *testing.T) {
	c := newTestCipher(t)

	once, err := c.Encrypt("Chest pain")
	require.NoError(t, err)
	twice, err := c.Encrypt(once)
	require.NoError(t, err)

	assert.Equal(t, once, c.DecryptSafe(twice))
	assert.Equal(t, "Chest pain", c.Reveal(twice))
}

func TestRevealCountsFallbacks(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newTestCipher(t).Instrument(metrics.NewMetrics(reg, "opd"), logger.Nop())

	once, err := c.Encrypt("Otitis media")
	require.NoError(t, err)
	twice, err := c.Encrypt(once)
	require.NoError(t, err)

	assert.Equal(t, "Otitis media", c.Reveal(once))
	assert.Equal(t, "Otitis media", c.Reveal(twice))
	assert.Equal(t, "walk-in name", c.Reveal("walk-in name"))
	assert.Equal(t, "", c.Reveal(""))

	assert.Equal(t, float64(1), counterValue(t, reg, "opd_field_cipher_plaintext_reads_total"))
	assert.Equal(t, float64(1), counterValue(t, reg, "opd_field_cipher_double_encrypted_reads_total"))
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestNormalize(t *testing.T) {
	c := newTestCipher(t)

	once, err := c.Encrypt("Asthma")
	require.NoError(t, err)
	twice, err := c.Encrypt(once)
	require.NoError(t, err)

	out, changed, err := c.Normalize(once)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, once, out)

	out, changed, err = c.Normalize(twice)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Asthma", c.DecryptSafe(out))

	out, changed, err = c.Normalize("legacy plaintext")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "legacy plaintext", c.DecryptSafe(out))
}

func TestNormalizeRejectsValuesBeyondLayerLimit(t *testing.T) {
	c := newTestCipher(t)

	value := "Appendicitis"
	for i := 0; i < maxLayers; i++ {
		var err error
		value, err = c.Encrypt(value)
		require.NoError(t, err)
	}
	out, changed, err := c.Normalize(value)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Appendicitis", c.DecryptSafe(out))

	deeper, err := c.Encrypt(value)
	require.NoError(t, err)
	out, changed, err = c.Normalize(deeper)
	require.Error(t, err)
	assert.True(t, apperrors.IsCipher(err))
	assert.ErrorIs(t, err, ErrTooManyLayers)
	assert.False(t, changed)
	assert.Equal(t, deeper, out)
}

func TestMissingKeyFailsWritesButNotReads(t *testing.T) {
	c, err := NewFieldCipher(nil)
	require.NoError(t, err)

	_, err = c.Encrypt("anything")
	assert.True(t, apperrors.IsCipher(err))

	assert.Equal(t, "raw-value", c.Reveal("raw-value"))

	empty, err := c.Encrypt("")
	assert.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHashNameNormalizes(t *testing.T) {
	c := newTestCipher(t)

	assert.Equal(t, c.HashName("Juan  Dela Cruz"), c.HashName(" juan dela cruz "))
	assert.NotEqual(t, c.HashName("Juan Dela Cruz"), c.HashName("Juan Cruz"))
	assert.Empty(t, c.HashName("   "))
	assert.Len(t, c.HashName("x"), 64)
}

func TestParseKey(t *testing.T) {
	_, err := ParseKey("short")
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	key, err := ParseKey("")
	assert.NoError(t, err)
	assert.Nil(t, key)

	raw, err := ParseKey("0123456789abcdef0123456789abcdef")
	assert.NoError(t, err)
	assert.Len(t, raw, KeySize)
}
