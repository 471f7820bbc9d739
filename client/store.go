package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

var (
	ErrProofBucketNotFound = errors.New("proof bucket not found")
	ErrKeyBucketNotFound   = errors.New("key bucket not found")
	ErrSessionKeyNotFound  = errors.New("session key not stored")
)

var (
	proofBucket = []byte("proof_chains")
	keyBucket   = []byte("keys")

	sessionKeyKey = []byte("session_key")
)

// Store persists proof chains and the session key across restarts.
type Store struct {
	db *bbolt.DB
}

// NewStore opens (creating if needed) the bolt database at path.
func NewStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(proofBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(keyBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init store buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveProofChain overwrites the stored chain for channelID.
func (s *Store) SaveProofChain(ctx context.Context, channelID string, chain []relay.State) error {
	raw, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("marshal proof chain: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(proofBucket)
		if b == nil {
			return ErrProofBucketNotFound
		}
		return b.Put([]byte(channelID), raw)
	})
}

// FetchProofChain returns the stored chain for channelID; a channel that was
// never recorded yields an empty chain, not an error.
func (s *Store) FetchProofChain(ctx context.Context, channelID string) ([]relay.State, error) {
	var chain []relay.State
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(proofBucket)
		if b == nil {
			return ErrProofBucketNotFound
		}
		raw := b.Get([]byte(channelID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &chain)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch proof chain %s: %w", channelID, err)
	}
	return chain, nil
}

// SaveSessionKey stores the 32-byte session private key.
func (s *Store) SaveSessionKey(ctx context.Context, priv []byte) error {
	if len(priv) != 32 {
		return fmt.Errorf("session key must be 32 bytes, got %d", len(priv))
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(keyBucket)
		if b == nil {
			return ErrKeyBucketNotFound
		}
		return b.Put(sessionKeyKey, []byte(hex.EncodeToString(priv)))
	})
}

// FetchSessionKey returns the stored session private key bytes, or
// ErrSessionKeyNotFound if no key has been persisted yet.
func (s *Store) FetchSessionKey(ctx context.Context) ([]byte, error) {
	var priv []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(keyBucket)
		if b == nil {
			return ErrKeyBucketNotFound
		}
		raw := b.Get(sessionKeyKey)
		if raw == nil {
			return ErrSessionKeyNotFound
		}
		dec, err := hex.DecodeString(string(raw))
		if err != nil {
			return fmt.Errorf("corrupt session key: %w", err)
		}
		priv = dec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return priv, nil
}
