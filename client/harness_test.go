package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/require"

	triviaroyale "github.com/grmkris/trivia-royale-erc7824-sub000"
	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

const (
	testAsset  = "usdc"
	testBroker = "b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0"
)

// fakeConn scripts relay behavior per request kind, bypassing the websocket.
type fakeConn struct {
	mu       sync.Mutex
	handlers map[relay.Kind]func(req json.RawMessage) (any, *relay.ErrorPayload)
	sent     []relay.Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[relay.Kind]func(json.RawMessage) (any, *relay.ErrorPayload))}
}

func (f *fakeConn) handle(kind relay.Kind, h func(json.RawMessage) (any, *relay.ErrorPayload)) {
	f.mu.Lock()
	f.handlers[kind] = h
	f.mu.Unlock()
}

func (f *fakeConn) Send(kind relay.Kind, payload any) error {
	frame, err := relay.NewFrame(kind, payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, *frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) sentFrames() []relay.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]relay.Frame(nil), f.sent...)
}

func (f *fakeConn) Request(ctx context.Context, reqKind relay.Kind, payload any, respKind relay.Kind, timeout time.Duration, onErr relay.ErrorHandler) (json.RawMessage, error) {
	f.mu.Lock()
	h := f.handlers[reqKind]
	f.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("no scripted handler for %s", reqKind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	resp, relayErr := h(raw)
	if relayErr != nil {
		if onErr != nil {
			if synth, ok := onErr(relayErr); ok {
				return synth, nil
			}
		}
		return nil, relayErr
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeConn) RequestInto(ctx context.Context, reqKind relay.Kind, payload any, respKind relay.Kind, timeout time.Duration, onErr relay.ErrorHandler, out any) error {
	raw, err := f.Request(ctx, reqKind, payload, respKind, timeout, onErr)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeConn) Close() error { return nil }

// recordingSettle wraps the simulated engine and records the order of
// settlement operations plus the proof chain length of each resize.
type recordingSettle struct {
	*SimEngine

	mu        sync.Mutex
	ops       []string
	proofLens []int

	// onCreate fires after a successful channel creation submit, before its
	// receipt resolves; tests use it to emit the relay open broadcast.
	onCreate func(channelID string)
}

func (r *recordingSettle) record(op string) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
}

func (r *recordingSettle) opList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recordingSettle) Deposit(ctx context.Context, asset string, amount int64) (PendingTx, error) {
	p, err := r.SimEngine.Deposit(ctx, asset, amount)
	if err == nil {
		r.record(fmt.Sprintf("deposit(%d)", amount))
	}
	return p, err
}

func (r *recordingSettle) DepositAndCreateChannel(ctx context.Context, amount int64, state *relay.State) (PendingTx, error) {
	p, err := r.SimEngine.DepositAndCreateChannel(ctx, amount, state)
	if err == nil {
		r.record(fmt.Sprintf("create(%d)", amount))
		if r.onCreate != nil {
			r.onCreate(state.ChannelID)
		}
	}
	return p, err
}

func (r *recordingSettle) ResizeChannel(ctx context.Context, state *relay.State, proof []relay.State) (PendingTx, error) {
	p, err := r.SimEngine.ResizeChannel(ctx, state, proof)
	if err == nil {
		r.mu.Lock()
		r.proofLens = append(r.proofLens, len(proof))
		r.mu.Unlock()
		r.record(fmt.Sprintf("resize(%d)", state.ResizeAmount))
	}
	return p, err
}

func (r *recordingSettle) CloseChannel(ctx context.Context, state *relay.State) (PendingTx, error) {
	p, err := r.SimEngine.CloseChannel(ctx, state)
	if err == nil {
		r.record("close")
	}
	return p, err
}

func (r *recordingSettle) Withdraw(ctx context.Context, asset string, amount int64) (PendingTx, error) {
	p, err := r.SimEngine.Withdraw(ctx, asset, amount)
	if err == nil {
		r.record(fmt.Sprintf("withdraw(%d)", amount))
	}
	return p, err
}

// fakeBroker is the relay-side counterpart: it issues broker-cosigned states
// and tracks the off-chain ledger.
type fakeBroker struct {
	mu         sync.Mutex
	channelID  string
	version    uint64
	amount     int64 // channel locked value per the latest issued state
	ledger     int64 // off-chain value beyond the channel
	closed     bool
	recipients map[string]int64 // off-chain ledgers of transfer destinations
}

func (b *fakeBroker) install(fc *fakeConn) {
	fc.handle(relay.KindCreateChannel, func(req json.RawMessage) (any, *relay.ErrorPayload) {
		var r relay.CreateChannelRequest
		if err := json.Unmarshal(req, &r); err != nil {
			return nil, &relay.ErrorPayload{Code: "bad_request", Message: err.Error()}
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.channelID != "" && !b.closed {
			data, _ := json.Marshal(map[string]string{"channel_id": b.channelID})
			return nil, &relay.ErrorPayload{Code: relay.ErrCodeChannelExists, Message: "channel already exists", Data: data}
		}
		b.channelID = triviaroyale.DeriveChannelID(r.Participant, r.Broker, r.Asset, r.Nonce)
		b.version = 1
		b.amount = r.Amount
		b.closed = false
		return &relay.CreateChannelResponse{
			ChannelID: b.channelID,
			State: &relay.State{
				ChannelID: b.channelID,
				Version:   b.version,
				Intent:    relay.IntentCreate,
				Asset:     r.Asset,
				Amount:    r.Amount,
				BrokerSig: "brokersig",
			},
		}, nil
	})

	fc.handle(relay.KindResizeChannel, func(req json.RawMessage) (any, *relay.ErrorPayload) {
		var r relay.ResizeChannelRequest
		if err := json.Unmarshal(req, &r); err != nil {
			return nil, &relay.ErrorPayload{Code: "bad_request", Message: err.Error()}
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if r.ChannelID != b.channelID || b.closed {
			return nil, &relay.ErrorPayload{Code: "no_channel", Message: "unknown channel"}
		}
		b.version++
		b.amount += r.ResizeAmount - r.AllocateAmount
		b.ledger += r.AllocateAmount
		return &relay.ResizeChannelResponse{
			State: &relay.State{
				ChannelID:    b.channelID,
				Version:      b.version,
				Intent:       relay.IntentResize,
				Asset:        testAsset,
				Amount:       b.amount,
				ResizeAmount: r.ResizeAmount,
				BrokerSig:    "brokersig",
			},
		}, nil
	})

	fc.handle(relay.KindCloseChannel, func(req json.RawMessage) (any, *relay.ErrorPayload) {
		var r relay.CloseChannelRequest
		if err := json.Unmarshal(req, &r); err != nil {
			return nil, &relay.ErrorPayload{Code: "bad_request", Message: err.Error()}
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if r.ChannelID != b.channelID || b.closed {
			return nil, &relay.ErrorPayload{Code: "no_channel", Message: "unknown channel"}
		}
		b.version++
		b.closed = true
		b.amount = 0
		return &relay.CloseChannelResponse{
			State: &relay.State{
				ChannelID: b.channelID,
				Version:   b.version,
				Intent:    relay.IntentFinalize,
				Asset:     testAsset,
				Amount:    0,
				BrokerSig: "brokersig",
			},
		}, nil
	})

	fc.handle(relay.KindTransfer, func(req json.RawMessage) (any, *relay.ErrorPayload) {
		var r relay.TransferRequest
		if err := json.Unmarshal(req, &r); err != nil {
			return nil, &relay.ErrorPayload{Code: "bad_request", Message: err.Error()}
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if r.Amount > b.amount+b.ledger {
			return nil, &relay.ErrorPayload{Code: "insufficient_funds", Message: "ledger balance too low"}
		}
		b.ledger -= r.Amount
		if b.recipients == nil {
			b.recipients = make(map[string]int64)
		}
		b.recipients[r.Destination] += r.Amount
		return &relay.TransferResponse{Completed: true}, nil
	})

	fc.handle(relay.KindGetChannels, func(req json.RawMessage) (any, *relay.ErrorPayload) {
		var r relay.GetChannelsRequest
		if err := json.Unmarshal(req, &r); err != nil {
			return nil, &relay.ErrorPayload{Code: "bad_request", Message: err.Error()}
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.channelID == "" || b.closed || (r.Status != "" && r.Status != relay.ChannelStatusOpen) {
			return &relay.ChannelsResponse{}, nil
		}
		return &relay.ChannelsResponse{
			Channels: []relay.ChannelInfo{{
				ChannelID: b.channelID,
				Broker:    testBroker,
				Status:    relay.ChannelStatusOpen,
				Asset:     testAsset,
				Amount:    b.amount,
				Version:   b.version,
			}},
		}, nil
	})

	fc.handle(relay.KindGetLedgerBalances, func(req json.RawMessage) (any, *relay.ErrorPayload) {
		b.mu.Lock()
		defer b.mu.Unlock()
		total := b.amount + b.ledger
		if b.closed {
			total = 0
		}
		return &relay.LedgerBalancesResponse{
			Balances: []relay.LedgerBalance{{Asset: testAsset, Amount: total}},
		}, nil
	})
}

type testEnv struct {
	c      *TriviaClient
	conn   *fakeConn
	settle *recordingSettle
	broker *fakeBroker
}

func newTestEnv(t *testing.T, walletFunds int64) *testEnv {
	t.Helper()

	cfg := &AppConfig{
		DataDir:  t.TempDir(),
		RelayURL: "ws://in-process",
		Broker:   testBroker,
		Asset:    testAsset,
		AppName:  "trivia-royale",
	}
	settle := &recordingSettle{
		SimEngine: NewSimEngine("", testBroker, testAsset, walletFunds, time.Millisecond),
	}
	c, err := NewTriviaClient(&Cfg{
		AppCfg:     cfg,
		Log:        slog.Disabled,
		Settlement: settle,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	settle.SetParty(c.Address())

	conn := newFakeConn()
	broker := &fakeBroker{}
	broker.install(conn)
	settle.onCreate = func(channelID string) {
		c.deliverChannelUpdate(relay.ChannelUpdate{
			ChannelID: channelID,
			Status:    relay.ChannelStatusOpen,
			Version:   1,
		})
	}
	c.ConnectWith(conn)
	return &testEnv{c: c, conn: conn, settle: settle, broker: broker}
}
