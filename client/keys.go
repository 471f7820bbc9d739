package client

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const identityKeyFile = "identity.key"

// loadOrCreateIdentityKey reads the long-lived identity key from datadir,
// generating and persisting one on first run.
func loadOrCreateIdentityKey(datadir string) (*secp256k1.PrivateKey, error) {
	path := filepath.Join(datadir, identityKeyFile)
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		b, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(b) != 32 {
			return nil, fmt.Errorf("corrupt identity key at %s", path)
		}
		return secp256k1.PrivKeyFromBytes(b), nil
	case os.IsNotExist(err):
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate identity key: %w", err)
		}
		enc := hex.EncodeToString(priv.Serialize())
		if err := os.WriteFile(path, []byte(enc+"\n"), 0600); err != nil {
			return nil, fmt.Errorf("write identity key: %w", err)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("read identity key: %w", err)
	}
}

// requireSessionKey returns the durable session key, generating and storing
// one if the store has none. With a nil store the key is ephemeral per run.
func requireSessionKey(ctx context.Context, store *Store) (*secp256k1.PrivateKey, error) {
	if store != nil {
		raw, err := store.FetchSessionKey(ctx)
		switch {
		case err == nil:
			if len(raw) != 32 {
				return nil, fmt.Errorf("corrupt stored session key")
			}
			return secp256k1.PrivKeyFromBytes(raw), nil
		case errors.Is(err, ErrSessionKeyNotFound):
			// fall through and generate
		default:
			return nil, err
		}
	}
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	if store != nil {
		if err := store.SaveSessionKey(ctx, priv.Serialize()); err != nil {
			return nil, err
		}
	}
	return priv, nil
}
