package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// keyFile is the persisted shape of the server signing key.
type keyFile struct {
	DIDKey        string `json:"did_key"`
	PrivateKeyB64 string `json:"private_key_b64"`
	Algorithm     string `json:"algorithm"`
	Note          string `json:"note,omitempty"`
}

// ServerKey is the process-wide root of trust. Read-only after load.
type ServerKey struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
	DID     string
}

var (
	serverMu   sync.Mutex
	serverKeys = map[string]*ServerKey{}
)

// LoadOrCreateServerKey loads the signing key from path, creating and
// persisting a fresh keypair if the file is missing. A corrupted file is
// never partially reused: a warning is logged and a new key generated.
// Repeated calls with the same path return the same instance.
func LoadOrCreateServerKey(path string) (*ServerKey, error) {
	serverMu.Lock()
	defer serverMu.Unlock()

	if k, ok := serverKeys[path]; ok {
		return k, nil
	}

	if k := loadServerKey(path); k != nil {
		serverKeys[path] = k
		return k, nil
	}

	priv, pub, err := Generate()
	if err != nil {
		return nil, err
	}
	k := &ServerKey{Private: priv, Public: pub, DID: PubToDIDKey(pub)}

	data, err := json.MarshalIndent(keyFile{
		DIDKey:        k.DID,
		PrivateKeyB64: base64.StdEncoding.EncodeToString(Seed(priv)),
		Algorithm:     "Ed25519",
		Note:          "Attestix server signing key. Do NOT share.",
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("keys: marshal signing key: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return nil, fmt.Errorf("keys: write signing key: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("keys: persist signing key: %w", err)
	}

	serverKeys[path] = k
	return k, nil
}

func loadServerKey(path string) *ServerKey {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("signing key unreadable, generating new key", "path", filepath.Base(path), "error", err)
		}
		return nil
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		slog.Warn("corrupted signing key file, generating new key", "path", filepath.Base(path), "error", err)
		return nil
	}
	seed, err := base64.StdEncoding.DecodeString(kf.PrivateKeyB64)
	if err != nil {
		slog.Warn("corrupted signing key material, generating new key", "path", filepath.Base(path), "error", err)
		return nil
	}
	priv, err := PrivateFromSeed(seed)
	if err != nil {
		slog.Warn("corrupted signing key seed, generating new key", "path", filepath.Base(path), "error", err)
		return nil
	}
	pub := priv.Public().(ed25519.PublicKey)

	// The stored DID must match the key material; a mismatch means a
	// partially overwritten file and the whole record is discarded.
	if kf.DIDKey != PubToDIDKey(pub) {
		slog.Warn("signing key DID mismatch, generating new key", "path", filepath.Base(path))
		return nil
	}
	return &ServerKey{Private: priv, Public: pub, DID: kf.DIDKey}
}
