package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	triviaroyale "github.com/grmkris/trivia-royale-erc7824-sub000"
	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

// channelState is the lifecycle position of the party's channel with the
// broker: none -> creating -> open -> (resizing -> open)* -> closing -> closed.
type channelState int

const (
	channelNone channelState = iota
	channelCreating
	channelOpen
	channelResizing
	channelClosing
	channelClosed
)

func (s channelState) String() string {
	switch s {
	case channelNone:
		return "none"
	case channelCreating:
		return "creating"
	case channelOpen:
		return "open"
	case channelResizing:
		return "resizing"
	case channelClosing:
		return "closing"
	case channelClosed:
		return "closed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

var ErrNoChannel = errors.New("no open channel with broker")

// ChannelID returns the current channel id, or "" if none.
func (c *TriviaClient) ChannelID() string {
	c.RLock()
	defer c.RUnlock()
	return c.channelID
}

func (c *TriviaClient) setChannel(id string, st channelState) {
	c.Lock()
	c.channelID = id
	c.chanState = st
	c.Unlock()
}

// openChannelWithBroker finds the open channel whose participants include the
// configured broker, or nil if there is none. The settlement engine is the
// authority; when it cannot answer, the relay's channel view stands in.
func (c *TriviaClient) openChannelWithBroker(ctx context.Context) (*ChannelData, error) {
	channels, err := c.settle.OpenChannels(ctx)
	if err != nil {
		c.log.Warnf("settlement engine channel list unavailable, using relay view: %v", err)
		return c.relayOpenChannel(ctx)
	}
	for i := range channels {
		cd := &channels[i]
		if cd.Status != relay.ChannelStatusOpen {
			continue
		}
		for _, p := range cd.Participants {
			if p == c.cfg.Broker {
				return cd, nil
			}
		}
	}
	return nil, nil
}

// relayOpenChannel asks the relay for this party's open channels and picks
// the one with the configured broker. The returned data carries no canonical
// state; proof chain updates still require the settlement engine.
func (c *TriviaClient) relayOpenChannel(ctx context.Context) (*ChannelData, error) {
	conn, err := c.relay()
	if err != nil {
		return nil, err
	}
	var resp relay.ChannelsResponse
	err = conn.RequestInto(ctx, relay.KindGetChannels, &relay.GetChannelsRequest{
		Participant: c.address,
		Status:      relay.ChannelStatusOpen,
	}, relay.KindChannels, shortTimeout, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("relay channel list: %w", err)
	}
	for _, ci := range resp.Channels {
		if ci.Broker == c.cfg.Broker && ci.Status == relay.ChannelStatusOpen {
			return &ChannelData{
				ChannelID:    ci.ChannelID,
				Status:       ci.Status,
				Participants: []string{c.address, ci.Broker},
				Version:      ci.Version,
			}, nil
		}
	}
	return nil, nil
}

// signState attaches the party signature to a broker-cosigned state. A state
// arriving without the broker signature is a fatal protocol error: submitting
// a self-signed-only state would forfeit the dispute.
func (c *TriviaClient) signState(state *relay.State) error {
	if state == nil {
		return fmt.Errorf("relay returned no state")
	}
	if state.BrokerSig == "" {
		return fmt.Errorf("state v%d for %s lacks broker signature", state.Version, state.ChannelID)
	}
	sig, err := triviaroyale.SignDigest(c.sessPriv, relay.StateDigest(state))
	if err != nil {
		return err
	}
	state.PartySig = sig
	return nil
}

// recordCanonicalState re-reads the channel's authoritative latest state from
// the settlement engine and appends it to the proof chain. Called after every
// confirmed lifecycle transaction; the locally cached copy is never trusted.
func (c *TriviaClient) recordCanonicalState(ctx context.Context, channelID string) error {
	cd, err := c.settle.ChannelData(ctx, channelID)
	if err != nil {
		return fmt.Errorf("read canonical channel data: %w", err)
	}
	if cd.LastValid == nil {
		return fmt.Errorf("settlement engine reports no valid state for %s", channelID)
	}
	return c.proofs.Append(ctx, channelID, cd.LastValid)
}

// CreateChannel drives NONE -> CREATING -> OPEN. "Channel already exists"
// from the relay is treated as success, with the existing id extracted from
// the error payload. Not retried internally; the whole operation is safe to
// retry by the caller.
func (c *TriviaClient) CreateChannel(ctx context.Context, amount int64) (string, error) {
	c.channelMu.Lock()
	defer c.channelMu.Unlock()

	conn, err := c.relay()
	if err != nil {
		return "", err
	}

	c.setChannel("", channelCreating)
	fail := func(err error) (string, error) {
		c.setChannel("", channelNone)
		return "", err
	}

	req := &relay.CreateChannelRequest{
		Participant: c.address,
		Broker:      c.cfg.Broker,
		Asset:       c.cfg.Asset,
		Amount:      amount,
		Nonce:       uint64(time.Now().UnixMilli()),
	}
	var resp relay.CreateChannelResponse
	err = conn.RequestInto(ctx, relay.KindCreateChannel, req, relay.KindChannelCreated, shortTimeout,
		reinterpretChannelExists, &resp)
	if err != nil {
		return fail(fmt.Errorf("request channel creation: %w", err))
	}
	if resp.ChannelID == "" {
		return fail(fmt.Errorf("relay returned empty channel id"))
	}

	if resp.State == nil {
		// Synthesized from a channel_exists error: the channel is already on
		// chain. Confirm with the settlement engine and adopt it.
		cd, err := c.settle.ChannelData(ctx, resp.ChannelID)
		if err != nil {
			return fail(fmt.Errorf("verify existing channel: %w", err))
		}
		if cd.LastValid != nil {
			if err := c.proofs.Append(ctx, resp.ChannelID, cd.LastValid); err != nil {
				return fail(err)
			}
		}
		c.setChannel(resp.ChannelID, channelOpen)
		c.log.Infof("adopted existing channel %s", resp.ChannelID)
		return resp.ChannelID, nil
	}

	// A fresh creation's id is content-derived from the request; a relay
	// assigning anything else is handing us someone else's channel.
	if want := triviaroyale.DeriveChannelID(c.address, c.cfg.Broker, c.cfg.Asset, req.Nonce); resp.ChannelID != want {
		return fail(fmt.Errorf("relay assigned channel id %s, request derives %s", resp.ChannelID, want))
	}

	if err := c.signState(resp.State); err != nil {
		return fail(err)
	}

	// Subscribe before submitting so the relay's open broadcast cannot slip
	// past while the receipt wait is still in progress.
	updates, unsub := c.subscribeChannelUpdates(resp.ChannelID)
	defer unsub()

	pend, err := c.settle.DepositAndCreateChannel(ctx, amount, resp.State)
	if err != nil {
		return fail(fmt.Errorf("submit channel creation: %w", err))
	}
	waitCtx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()
	if _, err := pend.WaitForReceipt(waitCtx); err != nil {
		return fail(fmt.Errorf("wait for creation receipt: %w", err))
	}

	// The relay detects the confirmation independently; wait for its open
	// notification before treating the channel as usable.
	if err := awaitChannelStatus(ctx, updates, resp.ChannelID, relay.ChannelStatusOpen, longTimeout); err != nil {
		return fail(err)
	}

	if err := c.recordCanonicalState(ctx, resp.ChannelID); err != nil {
		return fail(err)
	}
	c.setChannel(resp.ChannelID, channelOpen)
	c.log.Infof("channel %s open with %d locked", resp.ChannelID, amount)
	return resp.ChannelID, nil
}

// reinterpretChannelExists turns the benign channel_exists error into a
// successful creation response carrying the existing id.
func reinterpretChannelExists(ep *relay.ErrorPayload) (json.RawMessage, bool) {
	if ep.Code != relay.ErrCodeChannelExists {
		return nil, false
	}
	var data struct {
		ChannelID string `json:"channel_id"`
	}
	if err := json.Unmarshal(ep.Data, &data); err != nil || data.ChannelID == "" {
		return nil, false
	}
	synth, err := json.Marshal(&relay.CreateChannelResponse{ChannelID: data.ChannelID})
	if err != nil {
		return nil, false
	}
	return synth, true
}

// ResizeChannel submits a broker-cosigned resize state together with the
// current proof chain, waits for confirmation, then re-records canonical
// state. resizeAmount moves value custody<->channel; allocateAmount moves
// value ledger<->channel.
func (c *TriviaClient) ResizeChannel(ctx context.Context, resizeAmount, allocateAmount int64) error {
	c.channelMu.Lock()
	defer c.channelMu.Unlock()
	return c.resizeLocked(ctx, resizeAmount, allocateAmount)
}

func (c *TriviaClient) resizeLocked(ctx context.Context, resizeAmount, allocateAmount int64) error {
	conn, err := c.relay()
	if err != nil {
		return err
	}
	c.RLock()
	channelID := c.channelID
	c.RUnlock()
	if channelID == "" {
		return ErrNoChannel
	}

	c.setChannel(channelID, channelResizing)
	defer c.setChannel(channelID, channelOpen)

	// The chain is consulted immediately before submission so a concurrent
	// append cannot be missed.
	proof := c.proofs.ProofChain(channelID)

	var resp relay.ResizeChannelResponse
	err = conn.RequestInto(ctx, relay.KindResizeChannel, &relay.ResizeChannelRequest{
		ChannelID:      channelID,
		ResizeAmount:   resizeAmount,
		AllocateAmount: allocateAmount,
	}, relay.KindChannelResized, shortTimeout, nil, &resp)
	if err != nil {
		return fmt.Errorf("request resize state: %w", err)
	}
	if err := c.signState(resp.State); err != nil {
		return err
	}

	pend, err := c.settle.ResizeChannel(ctx, resp.State, proof)
	if err != nil {
		return fmt.Errorf("submit resize: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()
	if _, err := pend.WaitForReceipt(waitCtx); err != nil {
		return fmt.Errorf("wait for resize receipt: %w", err)
	}

	return c.recordCanonicalState(ctx, channelID)
}

// CloseChannel submits a broker-cosigned finalize state and waits for
// confirmation. The channel balance returns to custody.
func (c *TriviaClient) CloseChannel(ctx context.Context) error {
	c.channelMu.Lock()
	defer c.channelMu.Unlock()
	return c.closeLocked(ctx)
}

func (c *TriviaClient) closeLocked(ctx context.Context) error {
	conn, err := c.relay()
	if err != nil {
		return err
	}
	c.RLock()
	channelID := c.channelID
	c.RUnlock()
	if channelID == "" {
		return ErrNoChannel
	}

	c.setChannel(channelID, channelClosing)

	var resp relay.CloseChannelResponse
	err = conn.RequestInto(ctx, relay.KindCloseChannel, &relay.CloseChannelRequest{
		ChannelID: channelID,
	}, relay.KindChannelClosed, shortTimeout, nil, &resp)
	if err != nil {
		c.setChannel(channelID, channelOpen)
		return fmt.Errorf("request close state: %w", err)
	}
	if err := c.signState(resp.State); err != nil {
		c.setChannel(channelID, channelOpen)
		return err
	}

	pend, err := c.settle.CloseChannel(ctx, resp.State)
	if err != nil {
		c.setChannel(channelID, channelOpen)
		return fmt.Errorf("submit close: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()
	if _, err := pend.WaitForReceipt(waitCtx); err != nil {
		c.setChannel(channelID, channelOpen)
		return fmt.Errorf("wait for close receipt: %w", err)
	}

	c.setChannel("", channelClosed)
	c.log.Infof("channel %s closed", channelID)
	return nil
}
