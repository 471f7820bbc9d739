package client

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/slog"

	triviaroyale "github.com/grmkris/trivia-royale-erc7824-sub000"
	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

const (
	// Short budget for relay queries that never wait on chain confirmation.
	shortTimeout = 10 * time.Second
	// Long budget for lifecycle round-trips that include an on-chain wait.
	longTimeout = 90 * time.Second
)

// relayConn is the slice of relay.Conn the client uses. Tests substitute an
// in-memory fake.
type relayConn interface {
	Send(kind relay.Kind, payload any) error
	Request(ctx context.Context, reqKind relay.Kind, payload any, respKind relay.Kind, timeout time.Duration, onErr relay.ErrorHandler) (json.RawMessage, error)
	RequestInto(ctx context.Context, reqKind relay.Kind, payload any, respKind relay.Kind, timeout time.Duration, onErr relay.ErrorHandler, out any) error
	Close() error
}

// AppMessageHandler consumes one inbound application message variant.
type AppMessageHandler func(sessionID, sender string, data json.RawMessage)

// TriviaClient composes the relay connection, the balance orchestrator, the
// channel lifecycle manager, and the session protocol for one party.
type TriviaClient struct {
	sync.RWMutex

	cfg *AppConfig
	log slog.Logger

	idPriv   *secp256k1.PrivateKey
	sessPriv *secp256k1.PrivateKey
	address  string

	conn   relayConn
	settle Settlement
	store  *Store
	proofs *ProofTracker
	ntfns  *NotificationManager

	// token is the session-scoped authorization issued by the auth handshake.
	// Authorization is connection-scoped: the relay binds the token to the
	// connection it was issued on, so frames after the handshake carry no
	// token. Kept for diagnostics; a reconnect runs a fresh handshake.
	token string

	// channelMu serializes create/resize/close: two lifecycle operations in
	// flight would race on the same proof chain and version number.
	channelMu sync.Mutex
	channelID string
	chanState channelState

	sessMu         sync.Mutex
	activeSessions map[string]struct{}
	msgHandlers    map[string]AppMessageHandler

	waitMu      sync.Mutex
	chanWaiters map[string][]chan relay.ChannelUpdate
}

// Cfg bundles the dependencies NewTriviaClient needs.
type Cfg struct {
	AppCfg     *AppConfig
	Log        slog.Logger
	Settlement Settlement

	// Notifications tracks handlers for client events. If nil, the client
	// initializes a new notification manager.
	Notifications *NotificationManager
}

// NewTriviaClient loads keys and the store but does not touch the network;
// call Connect to establish the relay connection.
func NewTriviaClient(cfg *Cfg) (*TriviaClient, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("client must have logger")
	}
	if cfg.Settlement == nil {
		return nil, fmt.Errorf("client must have a settlement engine")
	}

	store, err := NewStore(filepath.Join(cfg.AppCfg.DataDir, "trivia.db"))
	if err != nil {
		return nil, err
	}

	idPriv, err := loadOrCreateIdentityKey(cfg.AppCfg.DataDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	sessPriv, err := requireSessionKey(context.Background(), store)
	if err != nil {
		store.Close()
		return nil, err
	}

	ntfns := cfg.Notifications
	if ntfns == nil {
		ntfns = NewNotificationManager()
	}

	c := &TriviaClient{
		cfg:            cfg.AppCfg,
		log:            cfg.Log,
		idPriv:         idPriv,
		sessPriv:       sessPriv,
		address:        triviaroyale.AddressFromPubKey(idPriv.PubKey()),
		settle:         cfg.Settlement,
		store:          store,
		ntfns:          ntfns,
		activeSessions: make(map[string]struct{}),
		msgHandlers:    make(map[string]AppMessageHandler),
		chanWaiters:    make(map[string][]chan relay.ChannelUpdate),
	}
	c.proofs = NewProofTracker(store, cfg.Log)
	return c, nil
}

// Address returns the party's identity address.
func (c *TriviaClient) Address() string { return c.address }

// SessionPubHex returns the compressed session pubkey hex used for message
// signing and relay auth.
func (c *TriviaClient) SessionPubHex() string {
	return fmt.Sprintf("%x", c.sessPriv.PubKey().SerializeCompressed())
}

// Notifications exposes the notification manager for handler registration.
func (c *TriviaClient) Notifications() *NotificationManager { return c.ntfns }

// Connect dials the relay, authenticates, and restores channel bookkeeping.
// allowances may be nil.
func (c *TriviaClient) Connect(ctx context.Context, allowances []relay.Allowance) error {
	conn, err := relay.Dial(ctx, c.cfg.RelayURL, c.log, c.handleFrame)
	if err != nil {
		return err
	}
	token, err := relay.Authenticate(ctx, conn, c.idPriv, c.SessionPubHex(), c.cfg.AppName, allowances)
	if err != nil {
		conn.Close()
		return err
	}

	c.Lock()
	c.conn = conn
	c.token = token
	c.Unlock()

	if err := c.restoreChannel(ctx); err != nil {
		// Absence of a channel is a valid and common state; anything else is
		// worth surfacing but must not fail the connect.
		c.log.Warnf("restore channel state: %v", err)
	}
	c.log.Infof("connected to relay as %s", c.address)
	return nil
}

// ConnectWith installs a pre-built connection; used by tests.
func (c *TriviaClient) ConnectWith(conn relayConn) {
	c.Lock()
	c.conn = conn
	c.Unlock()
}

// Disconnect closes the relay connection. Channel and session bookkeeping is
// retained for the next Connect.
func (c *TriviaClient) Disconnect() error {
	c.Lock()
	conn := c.conn
	c.conn = nil
	c.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Close disconnects and releases the store.
func (c *TriviaClient) Close() error {
	err := c.Disconnect()
	if serr := c.store.Close(); err == nil {
		err = serr
	}
	return err
}

func (c *TriviaClient) relay() (relayConn, error) {
	c.RLock()
	defer c.RUnlock()
	if c.conn == nil {
		return nil, fmt.Errorf("not connected to relay")
	}
	return c.conn, nil
}

// restoreChannel reloads proof chains and current channel status after a
// (re)connect, trusting the settlement engine over anything cached.
func (c *TriviaClient) restoreChannel(ctx context.Context) error {
	open, err := c.openChannelWithBroker(ctx)
	if err != nil {
		return err
	}
	if open == nil {
		return nil
	}
	if err := c.proofs.Load(ctx, open.ChannelID); err != nil {
		return err
	}
	c.Lock()
	c.channelID = open.ChannelID
	c.chanState = channelOpen
	c.Unlock()
	return nil
}

// RegisterMessageHandler installs the handler for one application message
// type. Inbound messages with an unregistered type are rejected, not coerced.
func (c *TriviaClient) RegisterMessageHandler(msgType string, h AppMessageHandler) {
	c.sessMu.Lock()
	c.msgHandlers[msgType] = h
	c.sessMu.Unlock()
}

// handleFrame dispatches unsolicited relay frames. It runs on the connection
// read goroutine, so everything here is quick and non-blocking.
func (c *TriviaClient) handleFrame(f *relay.Frame) {
	now := time.Now()
	switch f.Kind {
	case relay.KindChannelUpdate:
		var u relay.ChannelUpdate
		if err := json.Unmarshal(f.Payload, &u); err != nil {
			c.log.Errorf("bad channel_update payload: %v", err)
			return
		}
		c.deliverChannelUpdate(u)
		c.ntfns.notifyChannelUpdate(u, now)

	case relay.KindSessionCreated:
		var n relay.SessionCreatedNtfn
		if err := json.Unmarshal(f.Payload, &n); err != nil {
			c.log.Errorf("bad session_created payload: %v", err)
			return
		}
		c.addActiveSession(n.AppSessionID)
		c.ntfns.notifySessionCreated(n, now)

	case relay.KindSessionClosed:
		var n relay.SessionClosedNtfn
		if err := json.Unmarshal(f.Payload, &n); err != nil {
			c.log.Errorf("bad session_closed payload: %v", err)
			return
		}
		c.removeActiveSession(n.AppSessionID)
		c.ntfns.notifySessionClosed(n, now)

	case relay.KindAppMessage:
		var m relay.AppMessageFrame
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			c.log.Errorf("bad app_message payload: %v", err)
			return
		}
		// First inbound message referencing a session auto-joins it.
		c.addActiveSession(m.AppSessionID)
		c.sessMu.Lock()
		h, ok := c.msgHandlers[m.MessageType]
		c.sessMu.Unlock()
		if !ok {
			c.log.Warnf("rejecting app message with unknown type %q in session %s", m.MessageType, m.AppSessionID)
			c.ntfns.notifyError(fmt.Errorf("unknown app message type %q", m.MessageType), now)
			return
		}
		h(m.AppSessionID, m.Sender, m.Data)

	default:
		c.log.Debugf("ignoring unsolicited frame kind=%s", f.Kind)
	}
}

// subscribeChannelUpdates registers a listener for status broadcasts about
// channelID. The returned cancel must be called to deregister.
func (c *TriviaClient) subscribeChannelUpdates(channelID string) (<-chan relay.ChannelUpdate, func()) {
	ch := make(chan relay.ChannelUpdate, 4)
	c.waitMu.Lock()
	c.chanWaiters[channelID] = append(c.chanWaiters[channelID], ch)
	c.waitMu.Unlock()
	cancel := func() {
		c.waitMu.Lock()
		waiters := c.chanWaiters[channelID]
		for i, w := range waiters {
			if w == ch {
				c.chanWaiters[channelID] = append(waiters[:i], waiters[i+1:]...)
				break
			}
		}
		c.waitMu.Unlock()
	}
	return ch, cancel
}

// awaitChannelStatus suspends until the subscribed stream reports the wanted
// status. The on-chain receipt and this relay-side detection are two
// independent waits; both must complete before a lifecycle op resolves.
func awaitChannelStatus(ctx context.Context, updates <-chan relay.ChannelUpdate, channelID, status string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case u := <-updates:
			if u.Status == status {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("%w: channel %s did not reach %q", relay.ErrTimeout, channelID, status)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *TriviaClient) deliverChannelUpdate(u relay.ChannelUpdate) {
	c.waitMu.Lock()
	waiters := append([]chan relay.ChannelUpdate(nil), c.chanWaiters[u.ChannelID]...)
	c.waitMu.Unlock()
	for _, ch := range waiters {
		select {
		case ch <- u:
		default:
			// Drop if the waiter is slow; it re-queries on timeout.
		}
	}
}
