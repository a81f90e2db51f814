// Package stationtest provides test doubles for the station engine.
package stationtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/cory-johannsen/gamestation/internal/directory"
	"github.com/cory-johannsen/gamestation/internal/station"
)

// Delivery kinds recorded by Notifier.
const (
	KindBroadcast = "broadcast"
	KindMulticast = "multicast"
	KindUnicast   = "unicast"
)

// Sent is one recorded outbound notification. User is the target for a
// unicast and the excluded user for a multicast.
type Sent struct {
	Kind      string
	SessionID station.SessionID
	User      station.UserID
	Topic     string
	Payload   any
}

// Notifier records every outbound notification. Safe for concurrent use.
type Notifier struct {
	mu   sync.Mutex
	sent []Sent
}

func (n *Notifier) record(s Sent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, s)
}

// Broadcast implements station.Notifier.
func (n *Notifier) Broadcast(sessionID station.SessionID, topic string, payload any) {
	n.record(Sent{Kind: KindBroadcast, SessionID: sessionID, Topic: topic, Payload: payload})
}

// Multicast implements station.Notifier.
func (n *Notifier) Multicast(exclude station.UserID, sessionID station.SessionID, topic string, payload any) {
	n.record(Sent{Kind: KindMulticast, SessionID: sessionID, User: exclude, Topic: topic, Payload: payload})
}

// Unicast implements station.Notifier.
func (n *Notifier) Unicast(userID station.UserID, sessionID station.SessionID, topic string, payload any) {
	n.record(Sent{Kind: KindUnicast, SessionID: sessionID, User: userID, Topic: topic, Payload: payload})
}

// All returns a copy of everything recorded so far.
func (n *Notifier) All() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Sent(nil), n.sent...)
}

// ByTopic returns recorded notifications for topic in send order.
func (n *Notifier) ByTopic(topic string) []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Sent
	for _, s := range n.sent {
		if s.Topic == topic {
			out = append(out, s)
		}
	}
	return out
}

// UnicastsTo returns unicasts addressed to user for topic.
func (n *Notifier) UnicastsTo(user station.UserID, topic string) []Sent {
	var out []Sent
	for _, s := range n.ByTopic(topic) {
		if s.Kind == KindUnicast && s.User == user {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of notifications recorded for topic.
func (n *Notifier) Count(topic string) int {
	return len(n.ByTopic(topic))
}

// Reset discards everything recorded.
func (n *Notifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}

// Recorder counts engine measurements. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	routed   int
	rejected map[string]int
	active   map[station.GameType]int
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{rejected: make(map[string]int), active: make(map[station.GameType]int)}
}

// Routed implements station.Recorder.
func (r *Recorder) Routed(station.GameType, string, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routed++
}

// Rejected implements station.Recorder.
func (r *Recorder) Rejected(_ station.GameType, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected[reason]++
}

// SessionsActive implements station.Recorder.
func (r *Recorder) SessionsActive(game station.GameType, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[game] = n
}

// Rejections returns how many rejections were recorded for reason.
func (r *Recorder) Rejections(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rejected[reason]
}

// TotalRejections returns the number of rejections for any reason.
func (r *Recorder) TotalRejections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.rejected {
		n += c
	}
	return n
}

// RoutedCount returns the number of routed messages.
func (r *Recorder) RoutedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.routed
}

// Active returns the last reported active session count for game.
func (r *Recorder) Active(game station.GameType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[game]
}

// Roster seeds dir with users 1..n named "player-<id>" and a session id of
// game created by user 1.
//
// Precondition: n >= 1.
// Postcondition: Returns the participant ids in roster order.
func Roster(dir *directory.Memory, id station.SessionID, game station.GameType, n int) []station.UserID {
	ids := make([]station.UserID, 0, n)
	for i := 1; i <= n; i++ {
		uid := station.UserID(i)
		dir.PutUser(station.User{ID: uid, DisplayName: fmt.Sprintf("player-%d", i)})
		ids = append(ids, uid)
	}
	dir.PutSession(station.SessionInfo{ID: id, CreatorID: ids[0], Participants: ids, GameType: game})
	return ids
}

// Msg builds an inbound message. IsCreator is true when sender is creator.
func Msg(id station.SessionID, sender, creator station.UserID, topic string, payload string) station.Message {
	m := station.Message{SessionID: id, SenderID: sender, IsCreator: sender == creator, Topic: topic}
	if payload != "" {
		m.Payload = []byte(payload)
	}
	return m
}
