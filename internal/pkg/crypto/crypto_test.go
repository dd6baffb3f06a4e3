package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reflex-engine/internal/pkg/config"
	pkgErrors "reflex-engine/pkg/errors"
)

func testKeyring(t *testing.T) *Keyring {
	key, err := GenerateKey()
	require.NoError(t, err)
	kr, err := NewKeyring(map[string]config.CryptoKey{
		"k01": {Key: key, Default: true},
	})
	require.NoError(t, err)
	return kr
}

func TestCipherRoundtrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	sealed, err := c.Encrypt(`{"password":"hunter2"}`)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"password":"hunter2"}`, plain)

	// each encryption uses a fresh nonce
	again, err := c.Encrypt(`{"password":"hunter2"}`)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)
}

func TestCipherRejectsGarbage(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)

	_, err = c.Decrypt("not base64!!!")
	assert.Error(t, err)

	_, err = c.Decrypt("c2hvcnQ=")
	assert.Error(t, err)
}

func TestNewKeyringValidation(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	_, err = NewKeyring(map[string]config.CryptoKey{
		"toolong": {Key: key, Default: true},
	})
	assert.Error(t, err)

	_, err = NewKeyring(map[string]config.CryptoKey{
		"k01": {Key: key},
	})
	assert.ErrorContains(t, err, "no default")

	_, err = NewKeyring(map[string]config.CryptoKey{
		"k01": {Key: key, Default: true},
		"k02": {Key: key, Default: true},
	})
	assert.ErrorContains(t, err, "only one default")

	_, err = NewKeyring(map[string]config.CryptoKey{
		"k01": {Key: "%%%", Default: true},
	})
	assert.Error(t, err)
}

func TestKeyringFieldRoundtrip(t *testing.T) {
	kr := testKeyring(t)
	assert.Equal(t, "k01", kr.DefaultKey())

	framed, err := kr.EncryptField(`"secret-value"`)
	require.NoError(t, err)
	assert.True(t, IsFramed(framed))
	assert.True(t, strings.HasPrefix(framed, FramePrefix+"k01"))
	assert.NotContains(t, framed, "secret-value")

	plain, err := kr.DecryptField(framed)
	require.NoError(t, err)
	assert.Equal(t, `"secret-value"`, plain)
}

func TestKeyringPassthrough(t *testing.T) {
	kr, err := NewKeyring(nil)
	require.NoError(t, err)
	assert.Equal(t, "", kr.DefaultKey())

	framed, err := kr.EncryptField("visible")
	require.NoError(t, err)
	assert.Equal(t, FramePrefix+PlainKeyID+"visible", framed)

	plain, err := kr.DecryptField(framed)
	require.NoError(t, err)
	assert.Equal(t, "visible", plain)
}

func TestDecryptFieldErrors(t *testing.T) {
	kr := testKeyring(t)

	_, err := kr.DecryptField("no frame here")
	assert.True(t, pkgErrors.IsKind(err, pkgErrors.KindCipher))

	_, err = kr.DecryptField(FramePrefix + "zzz" + "body")
	assert.True(t, pkgErrors.IsKind(err, pkgErrors.KindCipher))

	_, err = kr.DecryptField(FramePrefix + "k01" + "corrupt")
	assert.True(t, pkgErrors.IsKind(err, pkgErrors.KindCipher))
}

func TestIsFramed(t *testing.T) {
	assert.True(t, IsFramed("__$k01body"))
	assert.True(t, IsFramed("__$___plain"))
	assert.False(t, IsFramed("__$"))
	assert.False(t, IsFramed("plaintext"))
	assert.False(t, IsFramed(""))
}

func TestRandomSecretLength(t *testing.T) {
	secret, err := RandomSecret(66)
	require.NoError(t, err)
	assert.Greater(t, len(secret), 66)

	buf, err := RandomBytes(64)
	require.NoError(t, err)
	assert.Len(t, buf, 64)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("letmein")
	require.NoError(t, err)
	assert.True(t, IsHashedPassword(hash))
	assert.True(t, CheckPassword("letmein", hash))
	assert.False(t, CheckPassword("wrong", hash))
	assert.False(t, IsHashedPassword("letmein"))
}
