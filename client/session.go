package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	triviaroyale "github.com/grmkris/trivia-royale-erc7824-sub000"
	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

var ErrUnknownSession = errors.New("unknown app session")

// PrepareSession builds the canonical session definition and prize-pool
// allocations for a game between the coordinator and the given players. The
// coordinator is always the first participant and carries the full decision
// weight; players hold zero weight, so session outcomes are coordinator-posted
// but every participant still signs the creation request.
func (c *TriviaClient) PrepareSession(players []string, entryFee int64) (*relay.SessionDefinition, []relay.Allocation) {
	participants := make([]string, 0, len(players)+1)
	participants = append(participants, c.address)
	participants = append(participants, players...)

	weights := make([]uint32, len(participants))
	weights[0] = 100

	def := &relay.SessionDefinition{
		Protocol:     relay.SessionProtocol,
		Participants: participants,
		Weights:      weights,
		Quorum:       100,
		Nonce:        uint64(time.Now().UnixMilli()),
	}

	allocs := make([]relay.Allocation, 0, len(players))
	for _, p := range players {
		allocs = append(allocs, relay.Allocation{
			Participant: p,
			Asset:       c.cfg.Asset,
			Amount:      entryFee,
		})
	}
	return def, allocs
}

// SignSessionRequest produces this party's signature over a session creation
// request. Every participant, player or coordinator, signs the same digest.
func (c *TriviaClient) SignSessionRequest(def *relay.SessionDefinition, allocs []relay.Allocation) (string, error) {
	digest, err := relay.SessionRequestDigest(*def, allocs)
	if err != nil {
		return "", fmt.Errorf("session request digest: %w", err)
	}
	return triviaroyale.SignDigest(c.sessPriv, digest)
}

// CreateSession submits a fully signed session creation request. playerSigs
// maps participant address to that participant's signature; the coordinator's
// own signature is produced here and placed first, followed by the player
// signatures in participant order. A missing signature fails locally before
// the relay ever sees the request.
func (c *TriviaClient) CreateSession(ctx context.Context, def *relay.SessionDefinition, allocs []relay.Allocation, playerSigs map[string]string) (string, error) {
	if def == nil || len(def.Participants) == 0 {
		return "", fmt.Errorf("session definition has no participants")
	}
	if def.Participants[0] != c.address {
		return "", fmt.Errorf("coordinator %s is not first participant", c.address)
	}

	ownSig, err := c.SignSessionRequest(def, allocs)
	if err != nil {
		return "", err
	}
	sigs := make([]string, 0, len(def.Participants))
	sigs = append(sigs, ownSig)
	for _, p := range def.Participants[1:] {
		sig, ok := playerSigs[p]
		if !ok {
			return "", fmt.Errorf("missing signature from participant %s", p)
		}
		sigs = append(sigs, sig)
	}

	conn, err := c.relay()
	if err != nil {
		return "", err
	}
	var resp relay.CreateAppSessionResponse
	err = conn.RequestInto(ctx, relay.KindCreateAppSession, &relay.CreateAppSessionRequest{
		Definition:  *def,
		Allocations: allocs,
		Signatures:  sigs,
	}, relay.KindAppSessionCreated, shortTimeout, nil, &resp)
	if err != nil {
		return "", fmt.Errorf("create app session: %w", err)
	}
	if resp.AppSessionID == "" {
		return "", fmt.Errorf("relay returned empty app session id")
	}
	c.addActiveSession(resp.AppSessionID)
	return resp.AppSessionID, nil
}

// SendMessage publishes an application message into a session. Delivery is
// fire-and-forget: the relay fans the frame out to the other participants and
// does not acknowledge per-message. Sending into a session this client has
// not joined is rejected locally.
func (c *TriviaClient) SendMessage(sessionID, msgType string, data any) error {
	if !c.inSession(sessionID) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", msgType, err)
	}
	conn, err := c.relay()
	if err != nil {
		return err
	}
	return conn.Send(relay.KindAppMessage, &relay.AppMessageFrame{
		AppSessionID: sessionID,
		MessageType:  msgType,
		Data:         raw,
	})
}

// CloseSession posts the final allocations and closes the session. The relay
// settles the allocations into participant ledgers before confirming.
func (c *TriviaClient) CloseSession(ctx context.Context, sessionID string, finalAllocs []relay.Allocation) error {
	if !c.inSession(sessionID) {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	conn, err := c.relay()
	if err != nil {
		return err
	}
	var resp relay.CloseAppSessionResponse
	err = conn.RequestInto(ctx, relay.KindCloseAppSession, &relay.CloseAppSessionRequest{
		AppSessionID: sessionID,
		Allocations:  finalAllocs,
	}, relay.KindAppSessionClosed, shortTimeout, nil, &resp)
	if err != nil {
		return fmt.Errorf("close app session %s: %w", sessionID, err)
	}
	c.removeActiveSession(sessionID)
	return nil
}

// GetActiveSessions returns the ids of sessions this client currently
// participates in, sorted for stable output.
func (c *TriviaClient) GetActiveSessions() []string {
	c.sessMu.Lock()
	ids := make([]string, 0, len(c.activeSessions))
	for id := range c.activeSessions {
		ids = append(ids, id)
	}
	c.sessMu.Unlock()
	sort.Strings(ids)
	return ids
}

func (c *TriviaClient) inSession(id string) bool {
	c.sessMu.Lock()
	_, ok := c.activeSessions[id]
	c.sessMu.Unlock()
	return ok
}

func (c *TriviaClient) addActiveSession(id string) {
	if id == "" {
		return
	}
	c.sessMu.Lock()
	c.activeSessions[id] = struct{}{}
	c.sessMu.Unlock()
}

func (c *TriviaClient) removeActiveSession(id string) {
	c.sessMu.Lock()
	delete(c.activeSessions, id)
	c.sessMu.Unlock()
}
