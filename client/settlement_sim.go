package client

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

// SimEngine is an in-memory settlement engine: balances move instantly and
// receipts confirm after a fixed delay. It backs local games and tests; a
// chain-connected engine satisfies the same Settlement interface.
type SimEngine struct {
	mu       sync.Mutex
	wallet   map[string]int64
	custody  map[string]int64
	channels map[string]*simChannel
	delay    time.Duration
	party    string
	broker   string
}

type simChannel struct {
	data    ChannelData
	balance int64
	asset   string
}

// NewSimEngine seeds a simulated engine with funds in the wallet layer.
func NewSimEngine(party, broker, asset string, walletFunds int64, confirmDelay time.Duration) *SimEngine {
	return &SimEngine{
		wallet:   map[string]int64{asset: walletFunds},
		custody:  make(map[string]int64),
		channels: make(map[string]*simChannel),
		delay:    confirmDelay,
		party:    party,
		broker:   broker,
	}
}

// SetParty records the local party address used in channel participant
// lists. Callable after construction because the address derives from keys
// the client loads later.
func (e *SimEngine) SetParty(addr string) {
	e.mu.Lock()
	e.party = addr
	e.mu.Unlock()
}

type simPending struct {
	delay time.Duration
	hash  string
}

func (p *simPending) WaitForReceipt(ctx context.Context) (*Receipt, error) {
	t := time.NewTimer(p.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return &Receipt{TxHash: p.hash, Confirmed: true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *SimEngine) pending() PendingTx {
	var b [8]byte
	rand.Read(b[:])
	return &simPending{delay: e.delay, hash: "sim" + hex.EncodeToString(b[:])}
}

func (e *SimEngine) WalletBalance(ctx context.Context, asset string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wallet[asset], nil
}

func (e *SimEngine) CustodyBalance(ctx context.Context, asset string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.custody[asset], nil
}

func (e *SimEngine) OpenChannels(ctx context.Context) ([]ChannelData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ChannelData
	for _, ch := range e.channels {
		if ch.data.Status == relay.ChannelStatusOpen {
			out = append(out, ch.data)
		}
	}
	return out, nil
}

func (e *SimEngine) ChannelBalance(ctx context.Context, channelID string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[channelID]
	if !ok {
		return 0, fmt.Errorf("no channel %s", channelID)
	}
	return ch.balance, nil
}

func (e *SimEngine) ChannelData(ctx context.Context, channelID string) (*ChannelData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch, ok := e.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("no channel %s", channelID)
	}
	cp := ch.data
	return &cp, nil
}

func (e *SimEngine) Deposit(ctx context.Context, asset string, amount int64) (PendingTx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.wallet[asset] < amount {
		return nil, fmt.Errorf("wallet holds %d, need %d", e.wallet[asset], amount)
	}
	e.wallet[asset] -= amount
	e.custody[asset] += amount
	return e.pending(), nil
}

func (e *SimEngine) DepositAndCreateChannel(ctx context.Context, amount int64, state *relay.State) (PendingTx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state == nil {
		return nil, fmt.Errorf("nil channel state")
	}
	if e.wallet[state.Asset] < amount {
		return nil, fmt.Errorf("wallet holds %d, need %d", e.wallet[state.Asset], amount)
	}
	if _, dup := e.channels[state.ChannelID]; dup {
		return nil, fmt.Errorf("channel %s already exists", state.ChannelID)
	}
	e.wallet[state.Asset] -= amount
	cp := *state
	e.channels[state.ChannelID] = &simChannel{
		data: ChannelData{
			ChannelID:    state.ChannelID,
			Status:       relay.ChannelStatusOpen,
			Participants: []string{e.party, e.broker},
			Version:      state.Version,
			LastValid:    &cp,
		},
		balance: amount,
		asset:   state.Asset,
	}
	return e.pending(), nil
}

func (e *SimEngine) ResizeChannel(ctx context.Context, state *relay.State, proof []relay.State) (PendingTx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state == nil {
		return nil, fmt.Errorf("nil channel state")
	}
	ch, ok := e.channels[state.ChannelID]
	if !ok {
		return nil, fmt.Errorf("no channel %s", state.ChannelID)
	}
	// The on-chain custody movement is the cosigned resize delta; any ledger
	// fold in the state happened off-chain and is already reflected in the
	// new channel amount.
	if state.ResizeAmount > 0 && e.custody[ch.asset] < state.ResizeAmount {
		return nil, fmt.Errorf("custody holds %d, resize needs %d", e.custody[ch.asset], state.ResizeAmount)
	}
	e.custody[ch.asset] -= state.ResizeAmount
	ch.balance = state.Amount
	cp := *state
	ch.data.Version = state.Version
	ch.data.LastValid = &cp
	return e.pending(), nil
}

func (e *SimEngine) CloseChannel(ctx context.Context, state *relay.State) (PendingTx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state == nil {
		return nil, fmt.Errorf("nil channel state")
	}
	ch, ok := e.channels[state.ChannelID]
	if !ok {
		return nil, fmt.Errorf("no channel %s", state.ChannelID)
	}
	e.custody[ch.asset] += ch.balance
	ch.balance = 0
	ch.data.Status = relay.ChannelStatusClosed
	ch.data.Version = state.Version
	cp := *state
	ch.data.LastValid = &cp
	return e.pending(), nil
}

func (e *SimEngine) Withdraw(ctx context.Context, asset string, amount int64) (PendingTx, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.custody[asset] < amount {
		return nil, fmt.Errorf("custody holds %d, withdraw needs %d", e.custody[asset], amount)
	}
	e.custody[asset] -= amount
	e.wallet[asset] += amount
	return e.pending(), nil
}
