package client

import (
	"context"

	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

// Receipt is the confirmation of a settlement-engine transaction.
type Receipt struct {
	TxHash    string
	Confirmed bool
}

// PendingTx is a handle to an in-flight on-chain transaction. WaitForReceipt
// blocks until the transaction confirms or ctx expires; a timed-out wait does
// not abort the transaction, which may still land later, so callers re-query
// authoritative state before retrying.
type PendingTx interface {
	WaitForReceipt(ctx context.Context) (*Receipt, error)
}

// ChannelData is the settlement engine's authoritative view of a channel.
// LastValid is the canonical latest cosigned state; lifecycle code re-reads
// it after every confirmed transaction instead of trusting a local copy.
type ChannelData struct {
	ChannelID    string
	Status       string
	Participants []string
	Version      uint64
	LastValid    *relay.State
}

// Settlement is the consumed interface of the external settlement engine. It
// signs and submits on-chain channel transactions and reports canonical
// channel state; nothing in this module constructs raw transactions itself.
type Settlement interface {
	WalletBalance(ctx context.Context, asset string) (int64, error)
	CustodyBalance(ctx context.Context, asset string) (int64, error)
	OpenChannels(ctx context.Context) ([]ChannelData, error)
	ChannelBalance(ctx context.Context, channelID string) (int64, error)
	ChannelData(ctx context.Context, channelID string) (*ChannelData, error)

	// Deposit moves wallet funds into custody.
	Deposit(ctx context.Context, asset string, amount int64) (PendingTx, error)
	// DepositAndCreateChannel seeds a first channel directly from wallet
	// funds using the broker-cosigned initial state.
	DepositAndCreateChannel(ctx context.Context, amount int64, state *relay.State) (PendingTx, error)
	// ResizeChannel submits a cosigned resize state together with the proof
	// chain of previously accepted states.
	ResizeChannel(ctx context.Context, state *relay.State, proof []relay.State) (PendingTx, error)
	// CloseChannel submits a cosigned finalize state. No proof chain is
	// required for close.
	CloseChannel(ctx context.Context, state *relay.State) (PendingTx, error)
	// Withdraw moves custody funds back to the wallet.
	Withdraw(ctx context.Context, asset string, amount int64) (PendingTx, error)
}
