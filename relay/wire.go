// Package relay implements the client side of the relay wire protocol: a
// single persistent duplex websocket carrying kind-tagged JSON frames.
// Request/response pairs are correlated purely by frame kind; unsolicited
// broadcast frames are handed to a notification callback.
package relay

import (
	"encoding/json"
	"fmt"
)

// Kind tags a frame on the wire. Responses reuse a distinct kind from their
// request, so a pending request is matched by waiting for the response kind.
type Kind string

const (
	// Request/response pairs.
	KindAuthRequest       Kind = "auth_request"
	KindAuthChallenge     Kind = "auth_challenge"
	KindAuthVerify        Kind = "auth_verify"
	KindAuthSession       Kind = "auth_session"
	KindGetLedgerBalances Kind = "get_ledger_balances"
	KindLedgerBalances    Kind = "ledger_balances"
	KindGetChannels       Kind = "get_channels"
	KindChannels          Kind = "channels"
	KindCreateChannel     Kind = "create_channel"
	KindChannelCreated    Kind = "channel_created"
	KindResizeChannel     Kind = "resize_channel"
	KindChannelResized    Kind = "channel_resized"
	KindCloseChannel      Kind = "close_channel"
	KindChannelClosed     Kind = "channel_closed"
	KindTransfer          Kind = "transfer"
	KindTransferDone      Kind = "transfer_done"
	KindCreateAppSession  Kind = "create_app_session"
	KindAppSessionCreated Kind = "app_session_created"
	KindAppMessage        Kind = "app_message"
	KindCloseAppSession   Kind = "close_app_session"
	KindAppSessionClosed  Kind = "app_session_closed"

	// Unsolicited broadcasts.
	KindChannelUpdate  Kind = "channel_update"
	KindSessionCreated Kind = "session_created"
	KindSessionClosed  Kind = "session_closed"

	// Error frames abort whatever request is pending.
	KindError Kind = "error"
)

// Frame is the wire envelope. Payload layout depends on Kind.
type Frame struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a Frame of the given kind.
func NewFrame(kind Kind, payload any) (*Frame, error) {
	if payload == nil {
		return &Frame{Kind: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return &Frame{Kind: kind, Payload: raw}, nil
}

// ErrorPayload is the payload of a KindError frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Data optionally carries structured context, e.g. the existing channel
	// id on a "channel_exists" error.
	Data json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorPayload) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Well-known relay error codes the client re-interprets.
const (
	ErrCodeChannelExists = "channel_exists"
)

// Intent describes why a channel state was produced.
type Intent string

const (
	IntentCreate   Intent = "create"
	IntentOperate  Intent = "operate"
	IntentResize   Intent = "resize"
	IntentFinalize Intent = "finalize"
)

// ChannelStatus values reported by the relay.
const (
	ChannelStatusOpen    = "open"
	ChannelStatusClosed  = "closed"
	ChannelStatusPending = "pending"
)

// State is a broker-cosigned channel state. Version is strictly increasing;
// a state without a broker signature must never be submitted on-chain.
type State struct {
	ChannelID string `json:"channel_id"`
	Version   uint64 `json:"version"`
	Intent    Intent `json:"intent"`
	Asset     string `json:"asset"`
	// Amount locked on the party side of the channel after this state.
	Amount int64 `json:"amount"`
	// ResizeAmount is the custody delta a resize state settles on-chain:
	// positive draws from custody, negative releases to custody. Zero for
	// create/operate/finalize states.
	ResizeAmount int64  `json:"resize_amount,omitempty"`
	PartySig     string `json:"party_sig,omitempty"`
	BrokerSig    string `json:"broker_sig,omitempty"`
}

// Cosigned reports whether both required signatures are present.
func (s *State) Cosigned() bool {
	return s != nil && s.PartySig != "" && s.BrokerSig != ""
}

// Allocation maps a participant and asset to an amount escrowed in a session.
type Allocation struct {
	Participant string `json:"participant"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
}

// Allowance pre-authorizes the relay to draw from a party's ledger balance
// on behalf of a later session.
type Allowance struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

// --- request/response payloads, in wire order ---

type AuthRequest struct {
	Address    string      `json:"address"`
	SessionKey string      `json:"session_key"`
	AppName    string      `json:"app_name"`
	Allowances []Allowance `json:"allowances,omitempty"`
}

type AuthChallenge struct {
	Challenge string `json:"challenge"`
}

type AuthVerify struct {
	Address   string `json:"address"`
	Challenge string `json:"challenge"`
	PubKey    string `json:"pub_key"`
	Signature string `json:"signature"`
}

type AuthSession struct {
	Token string `json:"token"`
}

type GetLedgerBalancesRequest struct {
	Participant string `json:"participant"`
}

type LedgerBalance struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type LedgerBalancesResponse struct {
	Balances []LedgerBalance `json:"balances"`
}

type GetChannelsRequest struct {
	Participant string `json:"participant"`
	Status      string `json:"status,omitempty"`
}

type ChannelInfo struct {
	ChannelID string `json:"channel_id"`
	Broker    string `json:"broker"`
	Status    string `json:"status"`
	Asset     string `json:"asset"`
	Amount    int64  `json:"amount"`
	Version   uint64 `json:"version"`
}

type ChannelsResponse struct {
	Channels []ChannelInfo `json:"channels"`
}

type CreateChannelRequest struct {
	Participant string `json:"participant"`
	Broker      string `json:"broker"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
	Nonce       uint64 `json:"nonce"`
}

type CreateChannelResponse struct {
	ChannelID string `json:"channel_id"`
	State     *State `json:"state,omitempty"`
}

type ResizeChannelRequest struct {
	ChannelID string `json:"channel_id"`
	// ResizeAmount moves value between custody and the channel: positive
	// locks custody funds in, negative releases channel funds to custody.
	// AllocateAmount moves value between the ledger and the channel:
	// negative folds ledger value into the channel. A full drain sends both
	// negative, moving ledger -> channel -> custody in one step.
	ResizeAmount   int64 `json:"resize_amount"`
	AllocateAmount int64 `json:"allocate_amount"`
}

type ResizeChannelResponse struct {
	State *State `json:"state"`
}

type CloseChannelRequest struct {
	ChannelID string `json:"channel_id"`
}

type CloseChannelResponse struct {
	State *State `json:"state"`
}

type TransferRequest struct {
	Destination string `json:"destination"`
	Asset       string `json:"asset"`
	Amount      int64  `json:"amount"`
}

type TransferResponse struct {
	Completed bool `json:"completed"`
}

// SessionProtocol identifies the trivia application protocol in session
// definitions.
const SessionProtocol = "trivia-royale-v1"

// SessionDefinition is the signed body of a create_app_session request.
// Weights and quorum are relay-side policy; the relay independently checks
// that every participant signed regardless of quorum arithmetic.
type SessionDefinition struct {
	Protocol     string   `json:"protocol"`
	Participants []string `json:"participants"`
	Weights      []uint32 `json:"weights"`
	Quorum       uint32   `json:"quorum"`
	Nonce        uint64   `json:"nonce"`
}

type CreateAppSessionRequest struct {
	Definition  SessionDefinition `json:"definition"`
	Allocations []Allocation      `json:"allocations"`
	// Signatures: coordinator first, then participants in participant order.
	Signatures []string `json:"signatures"`
}

type CreateAppSessionResponse struct {
	AppSessionID string `json:"app_session_id"`
}

type AppMessageFrame struct {
	AppSessionID string          `json:"app_session_id"`
	Sender       string          `json:"sender,omitempty"`
	MessageType  string          `json:"message_type"`
	Data         json.RawMessage `json:"data,omitempty"`
}

type CloseAppSessionRequest struct {
	AppSessionID string       `json:"app_session_id"`
	Allocations  []Allocation `json:"allocations"`
}

type CloseAppSessionResponse struct {
	AppSessionID string `json:"app_session_id"`
}

// --- broadcast payloads ---

type ChannelUpdate struct {
	ChannelID string `json:"channel_id"`
	Status    string `json:"status"`
	Version   uint64 `json:"version"`
}

type SessionCreatedNtfn struct {
	AppSessionID string            `json:"app_session_id"`
	Definition   SessionDefinition `json:"definition"`
}

type SessionClosedNtfn struct {
	AppSessionID string       `json:"app_session_id"`
	Allocations  []Allocation `json:"allocations,omitempty"`
}
