package mafia

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamestation/internal/station"
)

// nightOrder is the fixed priority of role sub-stages after the mafia act.
var nightOrder = []struct {
	stage Stage
	job   Job
}{
	{StagePoliceAction, JobPolice},
	{StageDoctorAction, JobDoctor},
}

func (m *Module) startNight(s *Session) {
	s.State.Day++
	s.State.PendingKill = nil
	s.State.Protected = nil
	for _, mem := range s.Members {
		mem.State.Nomination = nil
	}
	setStage(s, StageProcessNight)
	setStage(s, StageMafiaAction)
}

func hasAlive(s *Session, job Job) bool {
	for _, mem := range s.Members {
		if mem.State.Alive && mem.State.Job == job {
			return true
		}
	}
	return false
}

// advanceNight moves to the next role sub-stage with a live holder, or
// resolves the night when none remain.
func (m *Module) advanceNight(s *Session) {
	next := 0
	for i, step := range nightOrder {
		if step.stage == s.State.Stage {
			next = i + 1
		}
	}
	for _, step := range nightOrder[next:] {
		if hasAlive(s, step.job) {
			setStage(s, step.stage)
			return
		}
	}
	m.resolveNight(s)
}

// MafiaNominated is unicast to every live mafia member as nominations arrive.
type MafiaNominated struct {
	VoterID  station.UserID `json:"voterId"`
	TargetID station.UserID `json:"targetId"`
}

// MafiaMismatch is unicast to live mafia when their nominations tie.
type MafiaMismatch struct {
	Tally map[station.UserID]int `json:"tally"`
}

func (m *Module) mafiaTarget(s *Session, msg station.Message) {
	if !requireStage(s, msg, StageMafiaAction) {
		return
	}
	me, ok := requireAlive(s, msg, JobMafia)
	if !ok {
		return
	}
	if me.State.Nomination != nil {
		s.Reject("already nominated", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	target, ok := requireTarget(s, msg)
	if !ok {
		return
	}
	me.State.Nomination = &target
	s.Touch()

	team := mafiaMembers(s, true)
	nominations := make(map[station.UserID]station.UserID, len(team))
	for _, id := range team {
		s.Unicast(id, TopicMafiaNominated, MafiaNominated{VoterID: me.ID, TargetID: target})
		if n := s.Member(id).State.Nomination; n != nil {
			nominations[id] = *n
		}
	}
	if len(nominations) < len(team) {
		return
	}

	tally, winner, unique := Tally(nominations)
	if !unique {
		for _, id := range team {
			s.Member(id).State.Nomination = nil
			s.Unicast(id, TopicMafiaMismatch, MafiaMismatch{Tally: tally})
		}
		s.Logger().Debug("mafia nominations tied", zap.Int("day", s.State.Day))
		return
	}
	s.State.PendingKill = &winner
	m.advanceNight(s)
}

// InvestigationResult is unicast to the detective.
type InvestigationResult struct {
	TargetID station.UserID `json:"targetId"`
	Job      Job            `json:"job"`
}

func (m *Module) policeInvestigate(s *Session, msg station.Message) {
	if !requireStage(s, msg, StagePoliceAction) {
		return
	}
	me, ok := requireAlive(s, msg, JobPolice)
	if !ok {
		return
	}
	target, ok := requireTarget(s, msg)
	if !ok {
		return
	}
	if target == me.ID {
		s.Reject("cannot investigate self", zap.Int64("user_id", int64(me.ID)))
		return
	}
	job := s.Member(target).State.Job
	me.State.Investigations = append(me.State.Investigations, Investigation{Day: s.State.Day, Target: target, Job: job})
	s.Unicast(me.ID, TopicInvestigationResult, InvestigationResult{TargetID: target, Job: job})
	s.Touch()
	m.advanceNight(s)
}

func (m *Module) doctorProtect(s *Session, msg station.Message) {
	if !requireStage(s, msg, StageDoctorAction) {
		return
	}
	if _, ok := requireAlive(s, msg, JobDoctor); !ok {
		return
	}
	target, ok := requireTarget(s, msg)
	if !ok {
		return
	}
	s.State.Protected = &target
	s.Touch()
	m.advanceNight(s)
}

// NightResult is broadcast after the night's actions resolve.
type NightResult struct {
	Day      int            `json:"day"`
	Outcome  string         `json:"outcome"`
	TargetID station.UserID `json:"targetId"`
}

func (m *Module) resolveNight(s *Session) {
	setStage(s, StageNightResultAnnouncement)
	target := *s.State.PendingKill
	ev := Event{Day: s.State.Day, Target: target}
	if p := s.State.Protected; p != nil && *p == target {
		ev.Kind = EventRevived
	} else {
		ev.Kind = EventKilled
		s.Member(target).State.Alive = false
	}
	s.State.Events = append(s.State.Events, ev)
	s.Broadcast(TopicNightResult, NightResult{Day: ev.Day, Outcome: ev.Kind, TargetID: target})
	s.Logger().Info("night resolved", zap.String("outcome", ev.Kind), zap.Int64("target_id", int64(target)))

	if checkWin(s) {
		return
	}
	s.After(dayStartTimer, m.dayDelay, func(s *Session) {
		m.startDay(s)
	})
}
