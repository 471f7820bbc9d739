package quiz

import (
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	triviaroyale "github.com/grmkris/trivia-royale-erc7824-sub000"
)

// waitMessenger records sends and signals each one, since the player answers
// questions on its own goroutine.
type waitMessenger struct {
	mu   sync.Mutex
	sent []sentMsg
	ch   chan sentMsg
}

func newWaitMessenger() *waitMessenger {
	return &waitMessenger{ch: make(chan sentMsg, 8)}
}

func (m *waitMessenger) SendMessage(sessionID, msgType string, data any) error {
	s := sentMsg{msgType: msgType, data: data}
	m.mu.Lock()
	m.sent = append(m.sent, s)
	m.mu.Unlock()
	m.ch <- s
	return nil
}

func (m *waitMessenger) next(t *testing.T) sentMsg {
	t.Helper()
	select {
	case s := <-m.ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for player message")
		return sentMsg{}
	}
}

func (m *waitMessenger) expectQuiet(t *testing.T) {
	t.Helper()
	select {
	case s := <-m.ch:
		t.Fatalf("unexpected player message %s", s.msgType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPlayerCommitThenReveal(t *testing.T) {
	m := newWaitMessenger()
	p, err := NewPlayer("alice", m, func(round int, question string) (string, error) {
		assert.Equal(t, 1, round)
		assert.Equal(t, "2+2?", question)
		return "4", nil
	}, nil, nil)
	require.NoError(t, err)

	p.HandleMessage("sess01", MsgQuestion, mustJSON(t, &QuestionMsg{Round: 1, Question: "2+2?"}))

	commit := m.next(t)
	require.Equal(t, MsgCommit, commit.msgType)
	cm := commit.data.(*CommitMsg)
	assert.Equal(t, 1, cm.Round)

	p.HandleMessage("sess01", MsgRevealRequest, mustJSON(t, &RevealRequestMsg{Round: 1}))

	reveal := m.next(t)
	require.Equal(t, MsgReveal, reveal.msgType)
	rv := reveal.data.(*RevealMsg)
	assert.Equal(t, 1, rv.Round)
	assert.Equal(t, "4", rv.Answer)
	assert.NotEmpty(t, rv.Secret)

	// The commitment opens to exactly the revealed answer and secret.
	want := triviaroyale.CommitmentDigest(rv.Answer, rv.Secret, "alice")
	assert.Equal(t, hex.EncodeToString(want[:]), cm.Hash)
}

func TestPlayerFreshSecretPerRound(t *testing.T) {
	m := newWaitMessenger()
	p, err := NewPlayer("alice", m, func(int, string) (string, error) {
		return "same", nil
	}, nil, nil)
	require.NoError(t, err)

	p.HandleMessage("sess01", MsgQuestion, mustJSON(t, &QuestionMsg{Round: 1, Question: "q1"}))
	c1 := m.next(t).data.(*CommitMsg)
	p.HandleMessage("sess01", MsgQuestion, mustJSON(t, &QuestionMsg{Round: 2, Question: "q2"}))
	c2 := m.next(t).data.(*CommitMsg)

	assert.NotEqual(t, c1.Hash, c2.Hash, "identical answers must not produce identical commitments")
}

func TestPlayerAnswerErrorSkipsRound(t *testing.T) {
	m := newWaitMessenger()
	p, err := NewPlayer("alice", m, func(int, string) (string, error) {
		return "", errors.New("no idea")
	}, nil, nil)
	require.NoError(t, err)

	p.HandleMessage("sess01", MsgQuestion, mustJSON(t, &QuestionMsg{Round: 1, Question: "q1"}))
	m.expectQuiet(t)

	// Reveal request with nothing pending stays silent too.
	p.HandleMessage("sess01", MsgRevealRequest, mustJSON(t, &RevealRequestMsg{Round: 1}))
	m.expectQuiet(t)
}

func TestPlayerWinnerCallback(t *testing.T) {
	m := newWaitMessenger()
	var got WinnerMsg
	var gotSession string
	p, err := NewPlayer("alice", m, func(int, string) (string, error) {
		return "x", nil
	}, func(sessionID string, w WinnerMsg) {
		gotSession = sessionID
		got = w
	}, nil)
	require.NoError(t, err)

	p.HandleMessage("sess01", MsgWinner, mustJSON(t, &WinnerMsg{
		Round: 3, Winner: "bob", Answer: "x", Prize: 150,
	}))
	assert.Equal(t, "sess01", gotSession)
	assert.Equal(t, "bob", got.Winner)
	assert.Equal(t, int64(150), got.Prize)
}

func TestNewPlayerValidation(t *testing.T) {
	m := newWaitMessenger()
	ans := func(int, string) (string, error) { return "", nil }

	_, err := NewPlayer("", m, ans, nil, nil)
	assert.Error(t, err)
	_, err = NewPlayer("alice", nil, ans, nil, nil)
	assert.Error(t, err)
	_, err = NewPlayer("alice", m, nil, nil, nil)
	assert.Error(t, err)
}
