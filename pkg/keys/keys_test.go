package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 8032 test vector 1 (empty message).
const (
	rfc8032Seed = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"
	rfc8032Pub  = "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"
	rfc8032Sig  = "e5564300c360ac729086e2cc806e828a84877f1eb8e5d974d873e06522490155" +
		"5fb8821590a33bacc61e39701cf9b46bd25bf5f0595bbe24655141438e7a100b"
)

func TestRFC8032Vector(t *testing.T) {
	seed, err := hex.DecodeString(rfc8032Seed)
	require.NoError(t, err)

	priv, err := PrivateFromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, rfc8032Pub, hex.EncodeToString(priv.Public().(ed25519.PublicKey)))

	sig := Sign(priv, nil)
	assert.Equal(t, rfc8032Sig, hex.EncodeToString(sig))
	assert.True(t, Verify(priv.Public().(ed25519.PublicKey), sig, nil))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := Generate()
	require.NoError(t, err)

	msg := []byte("attestation payload")
	sig := Sign(priv, msg)
	require.Len(t, sig, ed25519.SignatureSize)

	assert.True(t, Verify(pub, sig, msg))
	assert.False(t, Verify(pub, sig, []byte("tampered payload")))

	sig[0] ^= 0xff
	assert.False(t, Verify(pub, sig, msg))
}

func TestVerifyNeverPanics(t *testing.T) {
	_, pub, err := Generate()
	require.NoError(t, err)

	assert.False(t, Verify(nil, make([]byte, 64), []byte("m")))
	assert.False(t, Verify(pub, nil, []byte("m")))
	assert.False(t, Verify(pub[:16], make([]byte, 64), []byte("m")))
	assert.False(t, Verify(pub, make([]byte, 12), []byte("m")))
}

func TestDIDKeyRoundTrip(t *testing.T) {
	_, pub, err := Generate()
	require.NoError(t, err)

	did := PubToDIDKey(pub)
	assert.Regexp(t, `^did:key:z[1-9A-HJ-NP-Za-km-z]+$`, did)

	got, err := DIDKeyToPub(did)
	require.NoError(t, err)
	assert.Equal(t, pub, got)
}

func TestDIDKeyRejections(t *testing.T) {
	for _, bad := range []string{
		"",
		"did:key:",
		"did:key:Qmfoo",           // missing multibase z
		"did:key:z0OIl",           // invalid base58 alphabet
		"did:key:z6",              // too short
		"did:web:example.com",     // wrong method
		"z6MkhaXgBZDvotDkL5257f",  // bare multibase
	} {
		_, err := DIDKeyToPub(bad)
		assert.ErrorIs(t, err, ErrInvalidDIDKey, bad)
	}

	// Valid base58 but wrong multicodec (secp256k1 prefix 0xe7 0x01).
	_, pub, err := Generate()
	require.NoError(t, err)
	payload := append([]byte{0xe7, 0x01}, pub...)
	_, err = DIDKeyToPub("did:key:z" + base58.Encode(payload))
	assert.ErrorIs(t, err, ErrInvalidDIDKey)
}

func TestServerKeyPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".signing_key.json")

	k1, err := LoadOrCreateServerKey(path)
	require.NoError(t, err)
	assert.Regexp(t, `^did:key:z`, k1.DID)

	// Same path yields the same instance.
	k2, err := LoadOrCreateServerKey(path)
	require.NoError(t, err)
	assert.Same(t, k1, k2)

	// The on-disk shape holds the seed, never the expanded private key.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var kf struct {
		DIDKey        string `json:"did_key"`
		PrivateKeyB64 string `json:"private_key_b64"`
		Algorithm     string `json:"algorithm"`
	}
	require.NoError(t, json.Unmarshal(data, &kf))
	assert.Equal(t, k1.DID, kf.DIDKey)
	assert.Equal(t, "Ed25519", kf.Algorithm)
	seed, err := base64.StdEncoding.DecodeString(kf.PrivateKeyB64)
	require.NoError(t, err)
	assert.Len(t, seed, ed25519.SeedSize)
	assert.Equal(t, Seed(k1.Private), seed)
}

func TestCorruptedServerKeyRegenerated(t *testing.T) {
	dir := t.TempDir()

	corrupt := filepath.Join(dir, "truncated.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(`{"did_key": "did:key:z6Mk`), 0o600))
	k, err := LoadOrCreateServerKey(corrupt)
	require.NoError(t, err)
	assert.NotEmpty(t, k.DID)

	// DID not matching the key material is discarded wholesale.
	mismatch := filepath.Join(dir, "mismatch.json")
	seed, _ := hex.DecodeString(rfc8032Seed)
	raw, _ := json.Marshal(map[string]string{
		"did_key":         "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK",
		"private_key_b64": base64.StdEncoding.EncodeToString(seed),
		"algorithm":       "Ed25519",
	})
	require.NoError(t, os.WriteFile(mismatch, raw, 0o600))
	k2, err := LoadOrCreateServerKey(mismatch)
	require.NoError(t, err)
	assert.NotEqual(t, "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK", k2.DID)
}
