package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeKeypair(t *testing.T, dir string) (string, ed25519.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	prefix := filepath.Join(dir, "engine")
	require.NoError(t, os.WriteFile(prefix+".priv", []byte(hex.EncodeToString(priv.Seed())), 0600))
	require.NoError(t, os.WriteFile(prefix+".pub", []byte(hex.EncodeToString(pub)+"\n"), 0600))

	return prefix, pub
}

func TestLoad(t *testing.T) {
	prefix, pub := writeKeypair(t, t.TempDir())

	kp, err := Load(prefix)
	require.NoError(t, err)
	assert.Equal(t, pub, kp.Public)

	// The loaded private key must produce verifiable signatures.
	msg := []byte("payload")
	sig := ed25519.Sign(kp.Private, msg)
	assert.True(t, ed25519.Verify(kp.Public, msg, sig))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadInvalidHex(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "engine")
	require.NoError(t, os.WriteFile(prefix+".priv", []byte("not-hex"), 0600))
	require.NoError(t, os.WriteFile(prefix+".pub", []byte("also-not-hex"), 0600))

	_, err := Load(prefix)
	assert.Error(t, err)
}

func TestLoadMismatchedKeys(t *testing.T) {
	dir := t.TempDir()
	prefix, _ := writeKeypair(t, dir)

	// Overwrite the public key with one from a different pair.
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(prefix+".pub", []byte(hex.EncodeToString(otherPub)), 0600))

	_, err = Load(prefix)
	assert.Error(t, err)
}
