package mafia

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamestation/internal/random"
	"github.com/cory-johannsen/gamestation/internal/station"
)

// RoleCounts is the number of each special role for a headcount. Every other
// participant is a citizen.
type RoleCounts struct {
	Mafia  int
	Police int
	Doctor int
}

// CountsFor returns the role table entry for n participants.
//
// Precondition: n >= MinPlayers.
func CountsFor(n int) RoleCounts {
	var c RoleCounts
	switch {
	case n >= 10:
		c.Mafia = 3
	case n >= 7:
		c.Mafia = 2
	default:
		c.Mafia = 1
	}
	if n >= 7 {
		c.Police = 1
	}
	if n >= 8 {
		c.Doctor = 1
	}
	return c
}

// AssignJobs deals one job to every id using src.
//
// Precondition: len(ids) >= MinPlayers.
// Postcondition: the result has exactly one entry per id and matches CountsFor(len(ids)).
func AssignJobs(src random.Source, ids []station.UserID) map[station.UserID]Job {
	c := CountsFor(len(ids))
	tokens := make([]Job, 0, len(ids))
	for i := 0; i < c.Mafia; i++ {
		tokens = append(tokens, JobMafia)
	}
	for i := 0; i < c.Police; i++ {
		tokens = append(tokens, JobPolice)
	}
	for i := 0; i < c.Doctor; i++ {
		tokens = append(tokens, JobDoctor)
	}
	for len(tokens) < len(ids) {
		tokens = append(tokens, JobCitizen)
	}
	random.Shuffle(src, tokens)

	out := make(map[station.UserID]Job, len(ids))
	for i, id := range ids {
		out[id] = tokens[i]
	}
	return out
}

// RoleAssigned is unicast to each member once roles are dealt. Teammates is
// only set for mafia.
type RoleAssigned struct {
	Job       Job              `json:"job"`
	Teammates []station.UserID `json:"teammates,omitempty"`
}

func mafiaMembers(s *Session, aliveOnly bool) []station.UserID {
	var out []station.UserID
	for _, mem := range s.OrderedMembers() {
		if mem.State.Job == JobMafia && (!aliveOnly || mem.State.Alive) {
			out = append(out, mem.ID)
		}
	}
	return out
}

func (m *Module) setRoles(s *Session, msg station.Message) {
	if !msg.IsCreator {
		s.Reject("creator only", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	if !requireStage(s, msg, StageNeedRoleSetting) {
		return
	}
	if s.State.RolesAssigned {
		s.Reject("roles already set")
		return
	}
	if len(s.Roster) < MinPlayers {
		s.Reject("not enough players", zap.Int("players", len(s.Roster)))
		return
	}

	for id, job := range AssignJobs(m.rng, s.Roster) {
		s.Member(id).State.Job = job
	}
	s.State.RolesAssigned = true

	team := mafiaMembers(s, false)
	for _, mem := range s.OrderedMembers() {
		p := RoleAssigned{Job: mem.State.Job}
		if mem.State.Job == JobMafia {
			p.Teammates = team
		}
		s.Unicast(mem.ID, TopicRoleAssigned, p)
	}
	c := CountsFor(len(s.Roster))
	s.Logger().Info("roles assigned",
		zap.Int("players", len(s.Roster)),
		zap.Int("mafia", c.Mafia),
		zap.Int("police", c.Police),
		zap.Int("doctor", c.Doctor),
	)
	setStage(s, StageRoleConfirming)
	s.Touch()
}

// RoleConfirmed is broadcast as members acknowledge their roles.
type RoleConfirmed struct {
	UserID    station.UserID `json:"userId"`
	Confirmed int            `json:"confirmed"`
	Total     int            `json:"total"`
}

func (m *Module) confirmRole(s *Session, msg station.Message) {
	if !requireStage(s, msg, StageRoleConfirming) {
		return
	}
	me := s.Member(msg.SenderID)
	if me.State.RoleConfirmed {
		s.Reject("role already confirmed", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	me.State.RoleConfirmed = true
	confirmed := 0
	for _, mem := range s.Members {
		if mem.State.RoleConfirmed {
			confirmed++
		}
	}
	s.Broadcast(TopicRoleConfirmed, RoleConfirmed{UserID: me.ID, Confirmed: confirmed, Total: len(s.Members)})
	s.Touch()
	if confirmed == len(s.Members) {
		m.startNight(s)
	}
}
