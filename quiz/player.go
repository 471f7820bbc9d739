package quiz

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/decred/slog"

	triviaroyale "github.com/grmkris/trivia-royale-erc7824-sub000"
)

// AnswerFunc produces a player's answer to a question. Returning an error
// skips the round.
type AnswerFunc func(round int, question string) (string, error)

// WinnerFunc observes round outcomes.
type WinnerFunc func(sessionID string, w WinnerMsg)

// Player is the player side of the round protocol: it answers questions with
// commitments and opens them when the coordinator asks. The secret is fresh
// random bytes per round, so commitments for identical answers never collide
// across players or rounds.
type Player struct {
	address string
	answer  AnswerFunc
	onWin   WinnerFunc
	msgr    Messenger
	log     slog.Logger

	mu      sync.Mutex
	pending map[int]RevealMsg
}

func NewPlayer(address string, msgr Messenger, answer AnswerFunc, onWin WinnerFunc, log slog.Logger) (*Player, error) {
	if address == "" {
		return nil, fmt.Errorf("player requires an address")
	}
	if msgr == nil {
		return nil, fmt.Errorf("player requires a messenger")
	}
	if answer == nil {
		return nil, fmt.Errorf("player requires an answer func")
	}
	if log == nil {
		log = slog.Disabled
	}
	return &Player{
		address: address,
		answer:  answer,
		onWin:   onWin,
		msgr:    msgr,
		log:     log,
		pending: make(map[int]RevealMsg),
	}, nil
}

// HandleMessage reacts to coordinator messages for sessionID. Wire it as the
// client's handler for the quiz message types.
func (p *Player) HandleMessage(sessionID, msgType string, data json.RawMessage) {
	switch msgType {
	case MsgQuestion:
		var m QuestionMsg
		if err := json.Unmarshal(data, &m); err != nil {
			p.log.Errorf("bad question payload: %v", err)
			return
		}
		// The answer func may block on user input; keep it off the
		// connection read goroutine.
		go p.handleQuestion(sessionID, m)

	case MsgRevealRequest:
		var m RevealRequestMsg
		if err := json.Unmarshal(data, &m); err != nil {
			p.log.Errorf("bad reveal request payload: %v", err)
			return
		}
		p.handleRevealRequest(sessionID, m)

	case MsgWinner:
		var m WinnerMsg
		if err := json.Unmarshal(data, &m); err != nil {
			p.log.Errorf("bad winner payload: %v", err)
			return
		}
		if p.onWin != nil {
			p.onWin(sessionID, m)
		}

	default:
		p.log.Debugf("ignoring coordinator message type %q", msgType)
	}
}

func (p *Player) handleQuestion(sessionID string, m QuestionMsg) {
	ans, err := p.answer(m.Round, m.Question)
	if err != nil {
		p.log.Warnf("round %d: no answer: %v", m.Round, err)
		return
	}
	secret, err := newSecret()
	if err != nil {
		p.log.Errorf("round %d: secret generation: %v", m.Round, err)
		return
	}
	digest := triviaroyale.CommitmentDigest(ans, secret, p.address)

	p.mu.Lock()
	p.pending[m.Round] = RevealMsg{Round: m.Round, Answer: ans, Secret: secret}
	p.mu.Unlock()

	err = p.msgr.SendMessage(sessionID, MsgCommit, &CommitMsg{
		Round: m.Round,
		Hash:  hex.EncodeToString(digest[:]),
	})
	if err != nil {
		p.log.Errorf("round %d: send commit: %v", m.Round, err)
	}
}

func (p *Player) handleRevealRequest(sessionID string, m RevealRequestMsg) {
	p.mu.Lock()
	rv, ok := p.pending[m.Round]
	delete(p.pending, m.Round)
	p.mu.Unlock()
	if !ok {
		p.log.Debugf("round %d: reveal requested but nothing committed", m.Round)
		return
	}
	if err := p.msgr.SendMessage(sessionID, MsgReveal, &rv); err != nil {
		p.log.Errorf("round %d: send reveal: %v", m.Round, err)
	}
}

func newSecret() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
