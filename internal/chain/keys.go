package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// LoadPrivateKey accepts either a base58 secret key or a path to a
// solana-keygen JSON file. A leading ~ expands to the home directory.
func LoadPrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty private key")
	}

	if path, ok := keyFilePath(s); ok {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("read keypair file %s: %w", path, err)
		}
		return key, nil
	}

	key, err := solana.PrivateKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("decode base58 private key: %w", err)
	}
	return key, nil
}

func keyFilePath(s string) (string, bool) {
	if strings.HasPrefix(s, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		s = filepath.Join(home, s[2:])
	}
	// base58 never contains a separator or a dot.
	if strings.HasSuffix(s, ".json") || strings.ContainsRune(s, os.PathSeparator) {
		return s, true
	}
	return "", false
}
