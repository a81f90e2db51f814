package mafia

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamestation/internal/station"
)

// AgreeThreshold is the share of eligible agreements needed to execute.
const AgreeThreshold = 0.5

// Tally counts votes per target and reports whether the highest count is held
// by exactly one target.
//
// Postcondition: unique is false when votes is empty.
func Tally(votes map[station.UserID]station.UserID) (counts map[station.UserID]int, winner station.UserID, unique bool) {
	counts = make(map[station.UserID]int, len(votes))
	for _, target := range votes {
		counts[target]++
	}
	best := 0
	for target, n := range counts {
		switch {
		case n > best:
			best, winner, unique = n, target, true
		case n == best:
			unique = false
		}
	}
	if !unique {
		winner = 0
	}
	return counts, winner, unique
}

func (m *Module) startDay(s *Session) {
	clear(s.State.Votes)
	s.State.ExecutionTarget = nil
	setStage(s, StageProcessDay)
}

func (m *Module) startVote(s *Session, msg station.Message) {
	if !msg.IsCreator {
		s.Reject("creator only", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	if s.State.Stage != StageProcessDay && s.State.Stage != StageWaitingForRevote {
		s.Reject("wrong stage", zap.String("stage", string(s.State.Stage)))
		return
	}
	clear(s.State.Votes)
	setStage(s, StageVoteForExecution)
	s.Touch()
}

// VoteCast is broadcast for every accepted day vote.
type VoteCast struct {
	VoterID  station.UserID `json:"voterId"`
	TargetID station.UserID `json:"targetId"`
}

// VoteResult is broadcast once every live member has voted.
type VoteResult struct {
	Tally    map[station.UserID]int `json:"tally"`
	TargetID *station.UserID        `json:"targetId"`
	Tie      bool                   `json:"tie"`
}

func (m *Module) vote(s *Session, msg station.Message) {
	if !requireStage(s, msg, StageVoteForExecution) {
		return
	}
	if _, ok := requireAlive(s, msg, JobNone); !ok {
		return
	}
	if _, voted := s.State.Votes[msg.SenderID]; voted {
		s.Reject("already voted", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	target, ok := requireTarget(s, msg)
	if !ok {
		return
	}
	s.State.Votes[msg.SenderID] = target
	s.Broadcast(TopicVoteCast, VoteCast{VoterID: msg.SenderID, TargetID: target})
	s.Touch()

	mafia, good := aliveCounts(s)
	if len(s.State.Votes) < mafia+good {
		return
	}

	tally, winner, unique := Tally(s.State.Votes)
	if !unique {
		clear(s.State.Votes)
		s.Broadcast(TopicVoteResult, VoteResult{Tally: tally, Tie: true})
		setStage(s, StageWaitingForRevote)
		return
	}
	s.Broadcast(TopicVoteResult, VoteResult{Tally: tally, TargetID: &winner})
	s.State.ExecutionTarget = &winner
	s.State.Agree, s.State.Disagree = 0, 0
	for _, mem := range s.Members {
		mem.State.ExecutionAnswered = false
	}
	setStage(s, StageExecutionConfirm)
	if eligibleConfirmers(s) == 0 {
		m.resolveExecution(s)
	}
}

// eligibleConfirmers counts live members other than the execution target.
func eligibleConfirmers(s *Session) int {
	n := 0
	for id, mem := range s.Members {
		if mem.State.Alive && id != *s.State.ExecutionTarget {
			n++
		}
	}
	return n
}

type confirmPayload struct {
	Agree *bool `json:"agree"`
}

func (m *Module) confirmExecution(s *Session, msg station.Message) {
	if !requireStage(s, msg, StageExecutionConfirm) {
		return
	}
	me, ok := requireAlive(s, msg, JobNone)
	if !ok {
		return
	}
	if me.ID == *s.State.ExecutionTarget {
		s.Reject("target cannot confirm", zap.Int64("user_id", int64(me.ID)))
		return
	}
	if me.State.ExecutionAnswered {
		s.Reject("already answered", zap.Int64("user_id", int64(me.ID)))
		return
	}
	var p confirmPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Agree == nil {
		s.Reject("missing agree", zap.Int64("user_id", int64(me.ID)))
		return
	}
	me.State.ExecutionAnswered = true
	if *p.Agree {
		s.State.Agree++
	} else {
		s.State.Disagree++
	}
	s.Touch()
	if s.State.Agree+s.State.Disagree == eligibleConfirmers(s) {
		m.resolveExecution(s)
	}
}

// ExecutionResult is broadcast once the confirmation sub-phase completes.
type ExecutionResult struct {
	TargetID station.UserID `json:"targetId"`
	Executed bool           `json:"executed"`
	Agree    int            `json:"agree"`
	Disagree int            `json:"disagree"`
}

func (m *Module) resolveExecution(s *Session) {
	target := *s.State.ExecutionTarget
	total := s.State.Agree + s.State.Disagree
	executed := total == 0 || float64(s.State.Agree)/float64(total) >= AgreeThreshold

	ev := Event{Day: s.State.Day, Target: target, Kind: EventSpared}
	if executed {
		ev.Kind = EventExecuted
		s.Member(target).State.Alive = false
	}
	s.State.Events = append(s.State.Events, ev)
	s.Broadcast(TopicExecutionResult, ExecutionResult{
		TargetID: target,
		Executed: executed,
		Agree:    s.State.Agree,
		Disagree: s.State.Disagree,
	})
	s.Logger().Info("execution resolved", zap.Bool("executed", executed), zap.Int64("target_id", int64(target)))
	s.State.ExecutionTarget = nil

	if checkWin(s) {
		return
	}
	m.startNight(s)
}
