// Package keys loads the engine's Iroha account keypair from hex-encoded
// files, following the <prefix>.priv / <prefix>.pub layout.
package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Keypair holds the engine's ed25519 account keys.
type Keypair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// Load reads <prefix>.priv and <prefix>.pub, both hex-encoded, and returns
// the assembled keypair. The private key file holds the 32-byte seed.
func Load(prefix string) (*Keypair, error) {
	priv, err := readHexFile(prefix + ".priv")
	if err != nil {
		return nil, fmt.Errorf("could not read private key: %w", err)
	}
	pub, err := readHexFile(prefix + ".pub")
	if err != nil {
		return nil, fmt.Errorf("could not read public key: %w", err)
	}

	if len(priv) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid private key length: %d", len(priv))
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key length: %d", len(pub))
	}

	privateKey := ed25519.NewKeyFromSeed(priv)
	derived := privateKey.Public().(ed25519.PublicKey)
	if !bytes.Equal(derived, pub) {
		return nil, fmt.Errorf("public key does not match private key")
	}

	return &Keypair{
		Private: privateKey,
		Public:  ed25519.PublicKey(pub),
	}, nil
}

func readHexFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decoded, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid hex in %s: %w", path, err)
	}
	return decoded, nil
}
