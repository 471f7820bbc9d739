package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

func TestCreateChannel(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()

	id, err := env.c.CreateChannel(ctx, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, env.c.ChannelID())

	bal, err := env.settle.ChannelBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)

	wallet, err := env.settle.WalletBalance(ctx, testAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), wallet)

	// The confirmed create state became the first proof chain entry.
	chain := env.c.proofs.ProofChain(id)
	require.Len(t, chain, 1)
	assert.True(t, chain[0].Cosigned())
	assert.Equal(t, relay.IntentCreate, chain[0].Intent)
}

func TestCreateChannelAdoptsExisting(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()

	id, err := env.c.CreateChannel(ctx, 1000)
	require.NoError(t, err)

	// The relay answers the second create with channel_exists; the client
	// must adopt the existing id instead of failing.
	id2, err := env.c.CreateChannel(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	// No second on-chain creation happened.
	ops := env.settle.opList()
	creates := 0
	for _, op := range ops {
		if op == "create(1000)" {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
}

func TestCreateChannelRejectsForeignID(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()

	// A relay answering a fresh creation with an id the request does not
	// derive to is offering a channel that is not ours.
	env.conn.handle(relay.KindCreateChannel, func(req json.RawMessage) (any, *relay.ErrorPayload) {
		return &relay.CreateChannelResponse{
			ChannelID: "chdeadbeef",
			State: &relay.State{
				ChannelID: "chdeadbeef",
				Version:   1,
				Intent:    relay.IntentCreate,
				Asset:     testAsset,
				Amount:    1000,
				BrokerSig: "brokersig",
			},
		}, nil
	})

	_, err := env.c.CreateChannel(ctx, 1000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "derives")
	assert.Empty(t, env.c.ChannelID())
	assert.Empty(t, env.settle.opList(), "nothing may reach the settlement engine")
}

// channelListDown simulates a settlement engine whose channel listing RPC is
// unreachable while everything else still works.
type channelListDown struct {
	Settlement
}

func (channelListDown) OpenChannels(context.Context) ([]ChannelData, error) {
	return nil, errors.New("settlement rpc offline")
}

func TestChannelDiscoveryFallsBackToRelay(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()

	id, err := env.c.CreateChannel(ctx, 1000)
	require.NoError(t, err)

	env.c.settle = channelListDown{env.settle}

	open, err := env.c.openChannelWithBroker(ctx)
	require.NoError(t, err)
	require.NotNil(t, open, "relay channel view stands in for the settlement engine")
	assert.Equal(t, id, open.ChannelID)

	b, err := env.c.GetBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b.Channel)
}

func TestResizeCarriesProofChain(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()

	id, err := env.c.CreateChannel(ctx, 1000)
	require.NoError(t, err)

	// Fund custody so an upward resize can draw from it.
	pend, err := env.settle.Deposit(ctx, testAsset, 500)
	require.NoError(t, err)
	_, err = pend.WaitForReceipt(ctx)
	require.NoError(t, err)

	require.NoError(t, env.c.ResizeChannel(ctx, 500, 0))

	bal, err := env.settle.ChannelBalance(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), bal)

	// The resize submission carried the chain recorded so far (the create
	// state), and the confirmed resize state was appended after it.
	require.Len(t, env.settle.proofLens, 1)
	assert.Equal(t, 1, env.settle.proofLens[0], "resize must carry a non-empty proof chain")
	chain := env.c.proofs.ProofChain(id)
	require.Len(t, chain, 2)
	assert.Less(t, chain[0].Version, chain[1].Version)
}

func TestResizeWithoutChannel(t *testing.T) {
	env := newTestEnv(t, 5000)
	err := env.c.ResizeChannel(context.Background(), 100, 0)
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestCloseChannel(t *testing.T) {
	env := newTestEnv(t, 5000)
	ctx := context.Background()

	_, err := env.c.CreateChannel(ctx, 1000)
	require.NoError(t, err)

	require.NoError(t, env.c.CloseChannel(ctx))
	assert.Empty(t, env.c.ChannelID())

	// The locked value returned to custody.
	custody, err := env.settle.CustodyBalance(ctx, testAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), custody)

	// A second close has no channel to act on.
	assert.ErrorIs(t, env.c.CloseChannel(ctx), ErrNoChannel)
}

func TestSignStateRequiresBrokerSig(t *testing.T) {
	env := newTestEnv(t, 5000)

	err := env.c.signState(&relay.State{ChannelID: "ch01", Version: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker signature")

	require.Error(t, env.c.signState(nil))

	st := &relay.State{ChannelID: "ch01", Version: 2, BrokerSig: "bsig"}
	require.NoError(t, env.c.signState(st))
	assert.NotEmpty(t, st.PartySig)
	assert.True(t, st.Cosigned())
}
