package quiz

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

// Messenger publishes application messages into a session. Satisfied by the
// trivia client.
type Messenger interface {
	SendMessage(sessionID, msgType string, data any) error
}

// Question pairs a prompt with its canonical answer.
type Question struct {
	Text   string `json:"text"`
	Answer string `json:"answer"`
}

// EngineConfig configures a coordinator game engine for one session.
type EngineConfig struct {
	SessionID    string
	Asset        string
	Players      []string
	Questions    []Question
	EntryFee     int64
	CommitWindow time.Duration
	RevealWindow time.Duration
	Messenger    Messenger
	Log          slog.Logger
}

// Engine runs the coordinator side of a trivia game: one round per question,
// commit window then reveal window, winner paid the round prize out of the
// pot. Inbound player messages arrive through HandleMessage on the relay read
// goroutine; the engine loop owns the round buffers and everything else.
type Engine struct {
	cfg EngineConfig
	log slog.Logger

	mu       sync.Mutex
	round    *Round
	phase    phase
	winnings map[string]int64
}

type phase int

const (
	phaseIdle phase = iota
	phaseCommit
	phaseReveal
)

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("engine requires a session id")
	}
	if len(cfg.Players) == 0 {
		return nil, fmt.Errorf("engine requires players")
	}
	if len(cfg.Questions) == 0 {
		return nil, fmt.Errorf("engine requires questions")
	}
	if cfg.Messenger == nil {
		return nil, fmt.Errorf("engine requires a messenger")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.CommitWindow <= 0 {
		cfg.CommitWindow = 10 * time.Second
	}
	if cfg.RevealWindow <= 0 {
		cfg.RevealWindow = 10 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		log:      cfg.Log,
		winnings: make(map[string]int64),
	}, nil
}

// HandleMessage ingests a player message for the active round. Messages
// outside the matching phase or round are dropped, not errors: stragglers
// after a window closes are expected.
func (e *Engine) HandleMessage(sender, msgType string, data json.RawMessage) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round == nil {
		return
	}

	switch msgType {
	case MsgCommit:
		if e.phase != phaseCommit {
			e.log.Debugf("dropping commit from %s outside commit window", sender)
			return
		}
		var m CommitMsg
		if err := json.Unmarshal(data, &m); err != nil || m.Round != e.round.Number {
			return
		}
		if e.round.RecordCommit(sender, m.Hash, now) {
			e.log.Debugf("round %d: commit from %s", m.Round, sender)
		}

	case MsgReveal:
		if e.phase != phaseReveal {
			e.log.Debugf("dropping reveal from %s outside reveal window", sender)
			return
		}
		var m RevealMsg
		if err := json.Unmarshal(data, &m); err != nil || m.Round != e.round.Number {
			return
		}
		if e.round.RecordReveal(sender, m.Answer, m.Secret) {
			e.log.Debugf("round %d: reveal from %s", m.Round, sender)
		}

	default:
		e.log.Debugf("ignoring player message type %q from %s", msgType, sender)
	}
}

// Run plays every configured question in order and returns the final
// allocations for closing the session. Each round's prize is the per-round
// share of the pot; rounds with no correct answer roll their prize forward
// to the next round's winner.
func (e *Engine) Run(ctx context.Context) ([]relay.Allocation, error) {
	pot := e.cfg.EntryFee * int64(len(e.cfg.Players))
	perRound := int64(0)
	if n := int64(len(e.cfg.Questions)); n > 0 {
		perRound = pot / n
	}
	carry := pot - perRound*int64(len(e.cfg.Questions))

	for i, q := range e.cfg.Questions {
		prize := perRound + carry
		carry = 0
		winner, err := e.playRound(ctx, i+1, q, prize)
		if err != nil {
			return nil, err
		}
		if winner == "" {
			carry = prize
			continue
		}
		e.mu.Lock()
		e.winnings[winner] += prize
		e.mu.Unlock()
	}

	return e.finalAllocations(carry), nil
}

func (e *Engine) playRound(ctx context.Context, number int, q Question, prize int64) (string, error) {
	e.log.Infof("round %d: broadcasting question", number)
	e.mu.Lock()
	e.round = NewRound(number, q.Text, q.Answer, time.Now())
	e.phase = phaseCommit
	e.mu.Unlock()

	err := e.cfg.Messenger.SendMessage(e.cfg.SessionID, MsgQuestion, &QuestionMsg{
		Round:    number,
		Question: q.Text,
	})
	if err != nil {
		return "", fmt.Errorf("broadcast question for round %d: %w", number, err)
	}

	if err := sleepCtx(ctx, e.cfg.CommitWindow); err != nil {
		return "", err
	}

	// Reveals count only once the reveal request is out; a reveal arriving
	// while the broadcast is still in flight is received "before" it and
	// stays dropped under the commit phase.
	err = e.cfg.Messenger.SendMessage(e.cfg.SessionID, MsgRevealRequest, &RevealRequestMsg{Round: number})
	if err != nil {
		return "", fmt.Errorf("request reveals for round %d: %w", number, err)
	}

	e.mu.Lock()
	e.phase = phaseReveal
	e.mu.Unlock()

	if err := sleepCtx(ctx, e.cfg.RevealWindow); err != nil {
		return "", err
	}

	e.mu.Lock()
	e.phase = phaseIdle
	res := e.round.ResolveWinner()
	e.round = nil
	e.mu.Unlock()

	if res.Winner == "" {
		e.log.Infof("round %d: no correct answer, prize %d rolls forward", number, prize)
	} else {
		e.log.Infof("round %d: winner %s in %v", number, res.Winner, res.ResponseTime)
	}

	err = e.cfg.Messenger.SendMessage(e.cfg.SessionID, MsgWinner, &WinnerMsg{
		Round:  number,
		Winner: res.Winner,
		Answer: q.Answer,
		Prize:  prize,
	})
	if err != nil {
		return "", fmt.Errorf("announce winner for round %d: %w", number, err)
	}
	return res.Winner, nil
}

// finalAllocations turns accumulated winnings into session close allocations.
// Every player appears, winners with their prizes, losers with zero. An
// unclaimed carry (the last rounds had no winner) is split evenly back to the
// players, remainder to the first addresses in order.
func (e *Engine) finalAllocations(carry int64) []relay.Allocation {
	e.mu.Lock()
	defer e.mu.Unlock()

	refund := int64(0)
	extra := int64(0)
	if n := int64(len(e.cfg.Players)); carry > 0 && n > 0 {
		refund = carry / n
		extra = carry % n
	}

	allocs := make([]relay.Allocation, 0, len(e.cfg.Players))
	for i, p := range e.cfg.Players {
		amt := e.winnings[p] + refund
		if int64(i) < extra {
			amt++
		}
		allocs = append(allocs, relay.Allocation{
			Participant: p,
			Asset:       e.cfg.Asset,
			Amount:      amt,
		})
	}
	return allocs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
