package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyWrapRoundTrip(t *testing.T) {
	kek := make([]byte, 16)
	for i := range kek {
		kek[i] = byte(i)
	}
	plaintext := make([]byte, 16)
	for i := range plaintext {
		plaintext[i] = byte(100 + i)
	}
	wrapped, err := KeyWrap(kek, plaintext)
	require.NoError(t, err)
	got, err := KeyUnwrap(kek, wrapped)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestKeyUnwrapWrongKEKFails(t *testing.T) {
	kek := make([]byte, 16)
	other := make([]byte, 16)
	other[0] = 0xFF
	plaintext := make([]byte, 16)
	wrapped, err := KeyWrap(kek, plaintext)
	require.NoError(t, err)
	_, err = KeyUnwrap(other, wrapped)
	assert.ErrorIs(t, err, ErrKeyWrapIntegrity)
}

func TestControlGenerateSEKAndCryptRoundTripCTR(t *testing.T) {
	c, err := NewControl([]byte("a-long-enough-passphrase"), 16, CipherAESCTR)
	require.NoError(t, err)
	require.NoError(t, c.GenerateSEK(KeyEven))

	plaintext := []byte("hello secure reliable transport")
	ct, err := c.Encrypt(42, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ct)

	pt, err := c.Decrypt(KeyEven, 42, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestControlCryptRoundTripGCM(t *testing.T) {
	c, err := NewControl([]byte("another-long-passphrase-here"), 16, CipherAESGCM)
	require.NoError(t, err)
	require.NoError(t, c.GenerateSEK(KeyEven))

	plaintext := []byte("gcm payload")
	ct, err := c.Encrypt(7, plaintext)
	require.NoError(t, err)

	pt, err := c.Decrypt(KeyEven, 7, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestGCMTamperDetected(t *testing.T) {
	c, err := NewControl([]byte("another-long-passphrase-here"), 16, CipherAESGCM)
	require.NoError(t, err)
	require.NoError(t, c.GenerateSEK(KeyEven))

	ct, err := c.Encrypt(7, []byte("payload"))
	require.NoError(t, err)
	ct[0] ^= 0xFF

	_, err = c.Decrypt(KeyEven, 7, ct)
	assert.Error(t, err)
}

func TestKMReqRoundTrip(t *testing.T) {
	sender, err := NewControl([]byte("shared-passphrase-1234567890"), 16, CipherAESCTR)
	require.NoError(t, err)
	require.NoError(t, sender.GenerateSEK(KeyEven))

	body, err := sender.BuildKMReq()
	require.NoError(t, err)

	msg, err := ParseKMReq(body)
	require.NoError(t, err)
	require.Len(t, msg.Wrapped, 1)

	receiver, err := NewControl([]byte("shared-passphrase-1234567890"), 16, CipherAESCTR)
	require.NoError(t, err)
	require.NoError(t, receiver.InstallFromKMReq(msg))
	assert.Equal(t, KMSecured, receiver.State())

	pt, err := receiver.Decrypt(KeyEven, 1, mustEncrypt(t, sender, 1, []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), pt)
}

func TestNoPassphraseIsNoSecret(t *testing.T) {
	c, err := NewControl(nil, 16, CipherAESCTR)
	require.NoError(t, err)
	assert.Equal(t, KMNoSecret, c.State())
}

func mustEncrypt(t *testing.T, c *Control, seqNo uint32, pt []byte) []byte {
	t.Helper()
	ct, err := c.Encrypt(seqNo, pt)
	require.NoError(t, err)
	return ct
}
