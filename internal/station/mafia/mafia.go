// Package mafia implements the social-deduction game: secret roles, a night
// phase of hidden role actions and a day phase of public execution votes.
package mafia

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/gamestation/internal/random"
	"github.com/cory-johannsen/gamestation/internal/station"
)

// GameType is the identifier of the social-deduction game.
const GameType station.GameType = "mafia"

// MinPlayers is the smallest roster roles can be assigned to.
const MinPlayers = 4

// DefaultDayDelay is the pause between the night result announcement and the
// start of the day.
const DefaultDayDelay = 3 * time.Second

const dayStartTimer = "day-start"

// Job is a secret role.
type Job string

// Jobs.
const (
	JobNone    Job = ""
	JobCitizen Job = "citizen"
	JobMafia   Job = "mafia"
	JobPolice  Job = "police"
	JobDoctor  Job = "doctor"
)

// Faction is a winning side.
type Faction string

// Factions.
const (
	FactionNone    Faction = ""
	FactionMafia   Faction = "mafia"
	FactionCitizen Faction = "citizen"
)

// Faction returns the side the job plays for.
func (j Job) Faction() Faction {
	if j == JobMafia {
		return FactionMafia
	}
	return FactionCitizen
}

// Stage is the position in the game's state machine.
type Stage string

// Stages in play order.
const (
	StageInitial                 Stage = "INITIAL"
	StageNeedRoleSetting         Stage = "NEED_ROLE_SETTING"
	StageRoleConfirming          Stage = "ROLE_CONFIRMING"
	StageProcessNight            Stage = "PROCESS_NIGHT"
	StageMafiaAction             Stage = "MAFIA_ACTION"
	StagePoliceAction            Stage = "POLICE_ACTION"
	StageDoctorAction            Stage = "DOCTOR_ACTION"
	StageNightResultAnnouncement Stage = "NIGHT_RESULT_ANNOUNCEMENT"
	StageProcessDay              Stage = "PROCESS_DAY"
	StageVoteForExecution        Stage = "VOTE_FOR_EXECUTION"
	StageExecutionConfirm        Stage = "EXECUTION_CONFIRM"
	StageWaitingForRevote        Stage = "WAITING_FOR_REVOTE"
	StageEnd                     Stage = "END"
)

// Topics handled by the module.
var (
	TopicSetRoles          = station.Topic(GameType, "set-roles")
	TopicConfirmRole       = station.Topic(GameType, "confirm-role")
	TopicMafiaTarget       = station.Topic(GameType, "mafia-target")
	TopicPoliceInvestigate = station.Topic(GameType, "police-investigate")
	TopicDoctorProtect     = station.Topic(GameType, "doctor-protect")
	TopicStartVote         = station.Topic(GameType, "start-vote")
	TopicVote              = station.Topic(GameType, "vote")
	TopicConfirmExecution  = station.Topic(GameType, "confirm-execution")
	TopicMemo              = station.Topic(GameType, "memo")
)

// Topics emitted by the module.
var (
	TopicStageChanged        = station.Topic(GameType, "stage-changed")
	TopicRoleAssigned        = station.Topic(GameType, "role-assigned")
	TopicRoleConfirmed       = station.Topic(GameType, "role-confirmed")
	TopicMafiaNominated      = station.Topic(GameType, "mafia-nominated")
	TopicMafiaMismatch       = station.Topic(GameType, "mafia-mismatch")
	TopicInvestigationResult = station.Topic(GameType, "investigation-result")
	TopicNightResult         = station.Topic(GameType, "night-result")
	TopicVoteCast            = station.Topic(GameType, "vote-cast")
	TopicVoteResult          = station.Topic(GameType, "vote-result")
	TopicExecutionResult     = station.Topic(GameType, "execution-result")
	TopicOutcome             = station.Topic(GameType, "outcome")
	TopicRolesRevealed       = station.Topic(GameType, "roles-revealed")
)

// MaxMemoLength bounds a member's private notes, in bytes.
const MaxMemoLength = 2000

// Event kinds in the public log.
const (
	EventKilled   = "killed"
	EventRevived  = "revived"
	EventExecuted = "executed"
	EventSpared   = "spared"
)

// Event is a public log entry.
type Event struct {
	Day    int            `json:"day"`
	Kind   string         `json:"kind"`
	Target station.UserID `json:"targetId"`
}

// Investigation is a private detective log entry.
type Investigation struct {
	Day    int            `json:"day"`
	Target station.UserID `json:"targetId"`
	Job    Job            `json:"job"`
}

// SessionState is the per-session state.
type SessionState struct {
	Stage         Stage
	Day           int
	RolesAssigned bool
	// PendingKill is the mafia's agreed target for the current night.
	PendingKill *station.UserID
	Protected   *station.UserID
	// Votes maps voter to target for the current day vote.
	Votes           map[station.UserID]station.UserID
	ExecutionTarget *station.UserID
	Agree           int
	Disagree        int
	Events          []Event
	Winner          Faction
}

// MemberState is the per-member state.
type MemberState struct {
	Job               Job
	Alive             bool
	RoleConfirmed     bool
	Nomination        *station.UserID
	ExecutionAnswered bool
	Memo              string
	Investigations    []Investigation
}

// Session is a social-deduction session.
type Session = station.Session[*SessionState, *MemberState]

// Module implements station.Module for the social-deduction game.
type Module struct {
	rng      random.Source
	dayDelay time.Duration
}

// Option configures a Module.
type Option func(*Module)

// WithRandom sets the randomness used for role assignment.
func WithRandom(src random.Source) Option {
	return func(m *Module) { m.rng = src }
}

// WithDayDelay overrides DefaultDayDelay.
func WithDayDelay(d time.Duration) Option {
	return func(m *Module) { m.dayDelay = d }
}

// New returns a Module using crypto randomness and DefaultDayDelay unless
// overridden.
func New(opts ...Option) *Module {
	m := &Module{rng: random.NewCryptoSource(), dayDelay: DefaultDayDelay}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GameType implements station.Module.
func (m *Module) GameType() station.GameType { return GameType }

// NewSessionState implements station.Module.
func (m *Module) NewSessionState() *SessionState {
	return &SessionState{Stage: StageInitial, Votes: make(map[station.UserID]station.UserID)}
}

// NewMemberState implements station.Module.
func (m *Module) NewMemberState() *MemberState {
	return &MemberState{Alive: true}
}

// OnSessionStart implements station.Module.
func (m *Module) OnSessionStart(s *Session) {
	s.State.Stage = StageInitial
}

// OnRoundStart waits for the creator to assign roles.
func (m *Module) OnRoundStart(s *Session) {
	setStage(s, StageNeedRoleSetting)
}

// OnRoundEnd moves to END and publishes every role.
func (m *Module) OnRoundEnd(s *Session) {
	if s.State.Stage != StageEnd {
		setStage(s, StageEnd)
	}
	s.Broadcast(TopicRolesRevealed, RolesRevealed{Winner: s.State.Winner, Roles: reveal(s)})
}

// RouteMessage implements station.Module.
func (m *Module) RouteMessage(s *Session, msg station.Message) bool {
	switch msg.Action() {
	case "set-roles":
		m.setRoles(s, msg)
	case "confirm-role":
		m.confirmRole(s, msg)
	case "mafia-target":
		m.mafiaTarget(s, msg)
	case "police-investigate":
		m.policeInvestigate(s, msg)
	case "doctor-protect":
		m.doctorProtect(s, msg)
	case "start-vote":
		m.startVote(s, msg)
	case "vote":
		m.vote(s, msg)
	case "confirm-execution":
		m.confirmExecution(s, msg)
	case "memo":
		m.memo(s, msg)
	default:
		return false
	}
	return true
}

// StagePayload is broadcast on every stage change.
type StagePayload struct {
	Stage Stage `json:"stage"`
	Day   int   `json:"day"`
}

func setStage(s *Session, stage Stage) {
	s.State.Stage = stage
	s.Broadcast(TopicStageChanged, StagePayload{Stage: stage, Day: s.State.Day})
	s.Logger().Debug("stage changed", zap.String("stage", string(stage)), zap.Int("day", s.State.Day))
}

type targetPayload struct {
	TargetID *station.UserID `json:"targetId"`
}

// requireTarget decodes a targetId payload naming a live member.
func requireTarget(s *Session, msg station.Message) (station.UserID, bool) {
	var p targetPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.TargetID == nil {
		s.Reject("missing target", zap.Int64("user_id", int64(msg.SenderID)))
		return 0, false
	}
	target := s.Member(*p.TargetID)
	if target == nil || !target.State.Alive {
		s.Reject("target not alive", zap.Int64("user_id", int64(msg.SenderID)), zap.Int64("target_id", int64(*p.TargetID)))
		return 0, false
	}
	return *p.TargetID, true
}

// requireStage rejects msg unless the session is in stage.
func requireStage(s *Session, msg station.Message, stage Stage) bool {
	if s.State.Stage != stage {
		s.Reject("wrong stage",
			zap.Int64("user_id", int64(msg.SenderID)),
			zap.String("stage", string(s.State.Stage)),
			zap.String("want", string(stage)),
		)
		return false
	}
	return true
}

// requireAlive rejects msg unless the sender is alive and, when job is not
// JobNone, holds job.
func requireAlive(s *Session, msg station.Message, job Job) (*station.Member[*MemberState], bool) {
	me := s.Member(msg.SenderID)
	if !me.State.Alive {
		s.Reject("sender not alive", zap.Int64("user_id", int64(msg.SenderID)))
		return nil, false
	}
	if job != JobNone && me.State.Job != job {
		s.Reject("sender lacks role", zap.Int64("user_id", int64(msg.SenderID)), zap.String("role", string(job)))
		return nil, false
	}
	return me, true
}

type memoPayload struct {
	Memo string `json:"memo"`
}

func (m *Module) memo(s *Session, msg station.Message) {
	var p memoPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.Reject("malformed memo", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	if len(p.Memo) > MaxMemoLength {
		s.Reject("memo too long", zap.Int64("user_id", int64(msg.SenderID)), zap.Int("length", len(p.Memo)))
		return
	}
	s.Member(msg.SenderID).State.Memo = p.Memo
	s.Touch()
}

// aliveCounts returns the number of live mafia and live non-mafia members.
func aliveCounts(s *Session) (mafia, good int) {
	for _, mem := range s.Members {
		if !mem.State.Alive {
			continue
		}
		if mem.State.Job == JobMafia {
			mafia++
		} else {
			good++
		}
	}
	return mafia, good
}

// Outcome is unicast to every member when a faction wins.
type Outcome struct {
	Winner Faction `json:"winner"`
	Won    bool    `json:"won"`
	Job    Job     `json:"job"`
}

// checkWin ends the round when a faction has won. It reports whether it did.
func checkWin(s *Session) bool {
	mafia, good := aliveCounts(s)
	var winner Faction
	switch {
	case mafia == 0:
		winner = FactionCitizen
	case mafia >= good:
		winner = FactionMafia
	default:
		return false
	}
	s.State.Winner = winner
	for _, mem := range s.OrderedMembers() {
		s.Unicast(mem.ID, TopicOutcome, Outcome{Winner: winner, Won: mem.State.Job.Faction() == winner, Job: mem.State.Job})
	}
	s.Logger().Info("faction won", zap.String("winner", string(winner)), zap.Int("day", s.State.Day))
	s.EndRound()
	return true
}

// RoleReveal is one entry of the final role summary.
type RoleReveal struct {
	ID          station.UserID `json:"id"`
	DisplayName string         `json:"displayName"`
	Job         Job            `json:"job"`
	Alive       bool           `json:"alive"`
}

// RolesRevealed is broadcast when the round ends.
type RolesRevealed struct {
	Winner Faction      `json:"winner"`
	Roles  []RoleReveal `json:"roles"`
}

func reveal(s *Session) []RoleReveal {
	out := make([]RoleReveal, 0, len(s.Roster))
	for _, mem := range s.OrderedMembers() {
		out = append(out, RoleReveal{ID: mem.ID, DisplayName: mem.DisplayName, Job: mem.State.Job, Alive: mem.State.Alive})
	}
	return out
}
