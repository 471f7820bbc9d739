// Package quiz implements the commit-reveal trivia round protocol: the
// coordinator broadcasts a question, players commit hashed answers during the
// commit window, then reveal after the window closes. Hiding answers behind
// commitments means no player can copy a faster opponent, while commit
// receipt times still decide speed.
package quiz

import (
	"encoding/hex"
	"sort"
	"strings"
	"time"

	triviaroyale "github.com/grmkris/trivia-royale-erc7824-sub000"
)

// Application message types carried inside session frames.
const (
	MsgQuestion      = "quiz_question"
	MsgCommit        = "quiz_commit"
	MsgRevealRequest = "quiz_reveal_request"
	MsgReveal        = "quiz_reveal"
	MsgWinner        = "quiz_winner"
)

// QuestionMsg announces a round's question to all players.
type QuestionMsg struct {
	Round    int    `json:"round"`
	Question string `json:"question"`
}

// CommitMsg carries a player's hashed answer. Hash is the hex commitment
// digest over (answer, secret, party).
type CommitMsg struct {
	Round int    `json:"round"`
	Hash  string `json:"hash"`
}

// RevealRequestMsg tells players the commit window is over.
type RevealRequestMsg struct {
	Round int `json:"round"`
}

// RevealMsg opens a player's commitment.
type RevealMsg struct {
	Round  int    `json:"round"`
	Answer string `json:"answer"`
	Secret string `json:"secret"`
}

// WinnerMsg announces a round's outcome. Winner is empty when no player
// revealed a correct answer.
type WinnerMsg struct {
	Round  int    `json:"round"`
	Winner string `json:"winner"`
	Answer string `json:"answer"`
	Prize  int64  `json:"prize"`
}

// Commitment is a commit received during a round's commit window, stamped
// with its receipt time.
type Commitment struct {
	Party      string
	Hash       string
	ReceivedAt time.Time
}

// Reveal is an opened commitment.
type Reveal struct {
	Party  string
	Answer string
	Secret string
}

// Round holds the per-round buffers the coordinator owns. One commitment per
// party; only the first commit counts, later ones are ignored.
type Round struct {
	Number      int
	Question    string
	Answer      string
	BroadcastAt time.Time

	commits map[string]Commitment
	reveals map[string]Reveal
}

func NewRound(number int, question, answer string, broadcastAt time.Time) *Round {
	return &Round{
		Number:      number,
		Question:    question,
		Answer:      answer,
		BroadcastAt: broadcastAt,
		commits:     make(map[string]Commitment),
		reveals:     make(map[string]Reveal),
	}
}

// RecordCommit stores a party's commitment. Returns false when the party
// already committed this round.
func (r *Round) RecordCommit(party, hash string, at time.Time) bool {
	if _, dup := r.commits[party]; dup {
		return false
	}
	r.commits[party] = Commitment{Party: party, Hash: hash, ReceivedAt: at}
	return true
}

// RecordReveal stores a party's reveal. A reveal from a party that never
// committed is dropped: without a commitment there is nothing to verify it
// against, and accepting it would let a player answer after seeing others'
// reveals.
func (r *Round) RecordReveal(party, answer, secret string) bool {
	if _, committed := r.commits[party]; !committed {
		return false
	}
	if _, dup := r.reveals[party]; dup {
		return false
	}
	r.reveals[party] = Reveal{Party: party, Answer: answer, Secret: secret}
	return true
}

// Committed reports whether party committed this round.
func (r *Round) Committed(party string) bool {
	_, ok := r.commits[party]
	return ok
}

// normalizeAnswer is the comparison policy for answers: surrounding
// whitespace and letter case do not matter.
func normalizeAnswer(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

// Result is a round's resolved outcome.
type Result struct {
	Winner       string
	ResponseTime time.Duration
	// Correct lists every party whose reveal verified and matched the
	// canonical answer, fastest first.
	Correct []string
}

// ResolveWinner verifies all reveals against their commitments and picks the
// fastest correct answer. A reveal whose recomputed digest does not match the
// committed hash is discarded entirely. Speed is commit receipt time relative
// to the question broadcast; ties break lexicographically by party address so
// every coordinator resolves the same winner.
func (r *Round) ResolveWinner() Result {
	type scored struct {
		party string
		rt    time.Duration
	}
	var correct []scored
	canonical := normalizeAnswer(r.Answer)

	for party, rv := range r.reveals {
		cm := r.commits[party]
		want := triviaroyale.CommitmentDigest(rv.Answer, rv.Secret, party)
		if !strings.EqualFold(cm.Hash, hex.EncodeToString(want[:])) {
			continue
		}
		if normalizeAnswer(rv.Answer) != canonical {
			continue
		}
		correct = append(correct, scored{
			party: party,
			rt:    cm.ReceivedAt.Sub(r.BroadcastAt),
		})
	}

	sort.Slice(correct, func(i, j int) bool {
		if correct[i].rt != correct[j].rt {
			return correct[i].rt < correct[j].rt
		}
		return correct[i].party < correct[j].party
	})

	res := Result{}
	for _, s := range correct {
		res.Correct = append(res.Correct, s.party)
	}
	if len(correct) > 0 {
		res.Winner = correct[0].party
		res.ResponseTime = correct[0].rt
	}
	return res
}
