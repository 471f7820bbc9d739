package client

import (
	"sync"
	"time"

	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

// NotificationManager tracks handlers for client events. Handlers run on the
// dispatch goroutine and must return quickly.
type NotificationManager struct {
	sync.RWMutex

	onChannelUpdate  []func(relay.ChannelUpdate, time.Time)
	onSessionCreated []func(relay.SessionCreatedNtfn, time.Time)
	onSessionClosed  []func(relay.SessionClosedNtfn, time.Time)
	onRoundWinner    []func(sessionID, winner string, t time.Time)
	onError          []func(error, time.Time)
}

func NewNotificationManager() *NotificationManager {
	return &NotificationManager{}
}

func (nm *NotificationManager) RegisterChannelUpdate(f func(relay.ChannelUpdate, time.Time)) {
	nm.Lock()
	nm.onChannelUpdate = append(nm.onChannelUpdate, f)
	nm.Unlock()
}

func (nm *NotificationManager) RegisterSessionCreated(f func(relay.SessionCreatedNtfn, time.Time)) {
	nm.Lock()
	nm.onSessionCreated = append(nm.onSessionCreated, f)
	nm.Unlock()
}

func (nm *NotificationManager) RegisterSessionClosed(f func(relay.SessionClosedNtfn, time.Time)) {
	nm.Lock()
	nm.onSessionClosed = append(nm.onSessionClosed, f)
	nm.Unlock()
}

func (nm *NotificationManager) RegisterRoundWinner(f func(sessionID, winner string, t time.Time)) {
	nm.Lock()
	nm.onRoundWinner = append(nm.onRoundWinner, f)
	nm.Unlock()
}

func (nm *NotificationManager) RegisterError(f func(error, time.Time)) {
	nm.Lock()
	nm.onError = append(nm.onError, f)
	nm.Unlock()
}

func (nm *NotificationManager) notifyChannelUpdate(u relay.ChannelUpdate, t time.Time) {
	nm.RLock()
	defer nm.RUnlock()
	for _, f := range nm.onChannelUpdate {
		f(u, t)
	}
}

func (nm *NotificationManager) notifySessionCreated(n relay.SessionCreatedNtfn, t time.Time) {
	nm.RLock()
	defer nm.RUnlock()
	for _, f := range nm.onSessionCreated {
		f(n, t)
	}
}

func (nm *NotificationManager) notifySessionClosed(n relay.SessionClosedNtfn, t time.Time) {
	nm.RLock()
	defer nm.RUnlock()
	for _, f := range nm.onSessionClosed {
		f(n, t)
	}
}

// NotifyRoundWinner is emitted by the game layer, which owns round outcomes;
// the client only transports them.
func (nm *NotificationManager) NotifyRoundWinner(sessionID, winner string, t time.Time) {
	nm.RLock()
	defer nm.RUnlock()
	for _, f := range nm.onRoundWinner {
		f(sessionID, winner, t)
	}
}

func (nm *NotificationManager) notifyError(err error, t time.Time) {
	nm.RLock()
	defer nm.RUnlock()
	for _, f := range nm.onError {
		f(err, t)
	}
}
