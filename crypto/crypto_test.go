// crypto_test.go - tests for Sphinx crypto primitives
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestX25519RoundTrip(t *testing.T) {
	aSk, aPk, err := GenerateX25519Keypair(rand.Reader)
	require.NoError(t, err)
	bSk, bPk, err := GenerateX25519Keypair(rand.Reader)
	require.NoError(t, err)

	sharedA, err := X25519(aSk[:], bPk[:])
	require.NoError(t, err)
	sharedB, err := X25519(bSk[:], aPk[:])
	require.NoError(t, err)
	require.Equal(t, sharedA, sharedB)
}

func TestX25519RejectsIdentityPoint(t *testing.T) {
	var sk [32]byte
	sk[0] = 1
	var identity [32]byte // the all-zero point is a low-order point
	_, err := X25519(sk[:], identity[:])
	require.Error(t, err)
}

func TestX25519InvalidLength(t *testing.T) {
	_, err := X25519([]byte{1, 2, 3}, make([]byte, 32))
	require.Equal(t, ErrInvalidLength, err)
}

func TestHKDFDomainSeparation(t *testing.T) {
	ikm := make([]byte, 32)
	rand.Read(ikm)

	headerKey, err := HKDF(ikm, []byte("mixnode-header-key"), 32)
	require.NoError(t, err)
	payloadKey, err := HKDF(ikm, []byte("mixnode-payload-key"), 32)
	require.NoError(t, err)
	require.NotEqual(t, headerKey, payloadKey)

	// Deterministic in (ikm, info).
	again, err := HKDF(ikm, []byte("mixnode-header-key"), 32)
	require.NoError(t, err)
	require.Equal(t, headerKey, again)
}

func TestChaCha20ApplyIsInvolution(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, NonceSize)
	rand.Read(key)
	rand.Read(nonce)

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	buf := append([]byte(nil), plaintext...)

	require.NoError(t, ChaCha20Apply(key, nonce, buf))
	require.NotEqual(t, plaintext, buf)

	require.NoError(t, ChaCha20Apply(key, nonce, buf))
	require.Equal(t, plaintext, buf)
}

func TestMACVerify(t *testing.T) {
	key := make([]byte, 32)
	nonce := make([]byte, 12)
	rand.Read(key)
	rand.Read(nonce)

	msg := []byte("routing info ring")
	tag, err := Poly1305MAC(key, nonce, msg)
	require.NoError(t, err)
	require.Len(t, tag, MACSize)

	require.NoError(t, VerifyMAC(key, nonce, msg, tag))

	tampered := append([]byte(nil), msg...)
	tampered[0] ^= 0xff
	require.Equal(t, ErrMacMismatch, VerifyMAC(key, nonce, tampered, tag))
}

func TestEd25519SignVerify(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	msg := []byte("relay descriptor fields")
	sig := Ed25519Sign(sk, msg)
	require.True(t, Ed25519Verify(pk, msg, sig))
	require.False(t, Ed25519Verify(pk, []byte("tampered"), sig))
}

func TestCTEqual(t *testing.T) {
	require.True(t, CTEqual([]byte("abc"), []byte("abc")))
	require.False(t, CTEqual([]byte("abc"), []byte("abd")))
}
