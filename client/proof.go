package client

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/decred/slog"

	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

// ProofTracker keeps the append-only per-channel log of previously validated
// cosigned states. The chain is the dispute evidence submitted alongside every
// resize; losing it would leave the party unable to resize or contest a close,
// so each append is mirrored to the store before it is visible.
type ProofTracker struct {
	mu     sync.RWMutex
	chains map[string][]relay.State

	store *Store // optional; nil keeps chains in memory only
	log   slog.Logger
}

func NewProofTracker(store *Store, log slog.Logger) *ProofTracker {
	return &ProofTracker{
		chains: make(map[string][]relay.State),
		store:  store,
		log:    log,
	}
}

// Load restores the chain for channelID from the store into memory. Called
// once per channel on startup.
func (pt *ProofTracker) Load(ctx context.Context, channelID string) error {
	if pt.store == nil {
		return nil
	}
	chain, err := pt.store.FetchProofChain(ctx, channelID)
	if err != nil {
		return err
	}
	pt.mu.Lock()
	pt.chains[channelID] = chain
	pt.mu.Unlock()
	return nil
}

// Append records a cosigned state. Appending a version already present in the
// chain is a no-op: the relay may re-deliver the same cosigned state across
// retries. States lacking either signature are rejected; a self-signed-only
// state must never become dispute evidence.
func (pt *ProofTracker) Append(ctx context.Context, channelID string, state *relay.State) error {
	if state == nil {
		return fmt.Errorf("nil state for channel %s", channelID)
	}
	if !state.Cosigned() {
		return fmt.Errorf("state v%d for channel %s is not cosigned", state.Version, channelID)
	}

	pt.mu.Lock()
	chain := pt.chains[channelID]
	for _, st := range chain {
		if st.Version == state.Version {
			pt.mu.Unlock()
			pt.log.Debugf("proof chain %s already has v%d; skipping", channelID, state.Version)
			return nil
		}
	}
	chain = append(chain, *state)
	sort.Slice(chain, func(i, j int) bool { return chain[i].Version < chain[j].Version })
	pt.chains[channelID] = chain
	snapshot := append([]relay.State(nil), chain...)
	pt.mu.Unlock()

	if pt.store != nil {
		if err := pt.store.SaveProofChain(ctx, channelID, snapshot); err != nil {
			return fmt.Errorf("persist proof chain: %w", err)
		}
	}
	pt.log.Debugf("proof chain %s now has %d states (latest v%d)", channelID, len(snapshot), state.Version)
	return nil
}

// ProofChain returns a copy of the ordered chain for channelID. An unknown
// channel yields an empty chain, which is valid for a just-created channel.
func (pt *ProofTracker) ProofChain(channelID string) []relay.State {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return append([]relay.State(nil), pt.chains[channelID]...)
}

// Latest returns the highest-version recorded state, or nil if none.
func (pt *ProofTracker) Latest(channelID string) *relay.State {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	chain := pt.chains[channelID]
	if len(chain) == 0 {
		return nil
	}
	st := chain[len(chain)-1]
	return &st
}
