package mafia

import (
	"github.com/cory-johannsen/gamestation/internal/station"
)

// SelfView is the requester's private state.
type SelfView struct {
	Job            Job             `json:"job"`
	Alive          bool            `json:"alive"`
	RoleConfirmed  bool            `json:"roleConfirmed"`
	Memo           string          `json:"memo"`
	Investigations []Investigation `json:"investigations,omitempty"`
	Nomination     *station.UserID `json:"nomination,omitempty"`
}

// Snapshot is the requester view of a social-deduction session.
type Snapshot struct {
	Stage           Stage            `json:"stage"`
	Day             int              `json:"day"`
	Me              SelfView         `json:"me"`
	Alive           []station.UserID `json:"alive"`
	Events          []Event          `json:"events"`
	Voted           []station.UserID `json:"voted"`
	ExecutionTarget *station.UserID  `json:"executionTarget,omitempty"`
	// Team and PendingKill are only populated for mafia requesters.
	Team        []station.UserID `json:"team,omitempty"`
	PendingKill *station.UserID  `json:"pendingKill,omitempty"`
	// Roles is only populated once the game is over.
	Roles  []RoleReveal `json:"roles,omitempty"`
	Winner Faction      `json:"winner,omitempty"`
}

// OnSnapshot returns a view that never exposes another member's role, memo or
// investigations, except the mafia team to its own members and every role
// once the game has ended.
func (m *Module) OnSnapshot(s *Session, requester station.UserID) any {
	me := s.Member(requester).State
	snap := Snapshot{
		Stage: s.State.Stage,
		Day:   s.State.Day,
		Me: SelfView{
			Job:            me.Job,
			Alive:          me.Alive,
			RoleConfirmed:  me.RoleConfirmed,
			Memo:           me.Memo,
			Investigations: append([]Investigation(nil), me.Investigations...),
			Nomination:     me.Nomination,
		},
		Alive:           []station.UserID{},
		Events:          append([]Event{}, s.State.Events...),
		Voted:           []station.UserID{},
		ExecutionTarget: s.State.ExecutionTarget,
		Winner:          s.State.Winner,
	}
	for _, mem := range s.OrderedMembers() {
		if mem.State.Alive {
			snap.Alive = append(snap.Alive, mem.ID)
		}
		if _, ok := s.State.Votes[mem.ID]; ok {
			snap.Voted = append(snap.Voted, mem.ID)
		}
	}
	if me.Job == JobMafia {
		snap.Team = mafiaMembers(s, false)
		snap.PendingKill = s.State.PendingKill
	}
	if s.State.Stage == StageEnd {
		snap.Roles = reveal(s)
	}
	return snap
}
