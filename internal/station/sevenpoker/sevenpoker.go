// Package sevenpoker implements a chip-less seven card stud betting engine.
// Cards are dealt physically; the station tracks turn order, stakes and the pot
// with exact decimal arithmetic.
package sevenpoker

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamestation/internal/station"
)

// GameType is the identifier of the betting game.
const GameType station.GameType = "seven-poker-nochip"

// DefaultCeiling bounds every administrative amount.
var DefaultCeiling = decimal.New(1, 12)

// Stage is the position in the hand's lifecycle.
type Stage string

// Stages.
const (
	StageSetup Stage = "setup"
	StageReady Stage = "ready"
	StageBet   Stage = "bet"
	StageEnd   Stage = "end"
)

// Phase distinguishes the free betting pass from the matching pass.
type Phase string

// Phases.
const (
	PhaseNormal Phase = "NORMAL"
	PhaseCall   Phase = "CALL"
)

// Topics handled by the module.
var (
	TopicSetup         = station.Topic(GameType, "setup")
	TopicBet           = station.Topic(GameType, "bet")
	TopicDeclareWinner = station.Topic(GameType, "declare-winner")
	TopicCredit        = station.Topic(GameType, "credit")
)

// Topics emitted by the module.
var (
	TopicSetupDone    = station.Topic(GameType, "setup-done")
	TopicHandStarted  = station.Topic(GameType, "hand-started")
	TopicBetPlaced    = station.Topic(GameType, "bet-placed")
	TopicTurn         = station.Topic(GameType, "turn")
	TopicBettingClose = station.Topic(GameType, "betting-round-closed")
	TopicWinner       = station.Topic(GameType, "winner")
	TopicCredited     = station.Topic(GameType, "credited")
)

// SessionState is the per-session state.
//
// Invariant: Pot equals the sum of every member's Committed minus PaidOut.
type SessionState struct {
	Stage Stage
	Phase Phase
	// Order is the creator-supplied turn order, a permutation of the roster.
	Order []station.UserID
	// CurrentTurn indexes Order; -1 when nobody can act.
	CurrentTurn int
	Round       int
	StartBet    decimal.Decimal
	CurrentBet  decimal.Decimal
	Pot         decimal.Decimal
	PaidOut     decimal.Decimal
	AllIn       bool
	Winner      *station.UserID
	// Acted holds members that have acted in the current NORMAL pass.
	Acted map[station.UserID]bool
}

// MemberState is the per-member state.
type MemberState struct {
	Gold decimal.Decimal
	// Bet is the amount put in during the current betting round.
	Bet decimal.Decimal
	// Committed is everything put into the pot this hand, forced stake included.
	Committed decimal.Decimal
	Folded    bool
	AllIn     bool
}

// Session is a betting session.
type Session = station.Session[*SessionState, *MemberState]

// Module implements station.Module for the betting game.
type Module struct {
	ceiling decimal.Decimal
}

// Option configures a Module.
type Option func(*Module)

// WithCeiling overrides DefaultCeiling.
func WithCeiling(c decimal.Decimal) Option {
	return func(m *Module) { m.ceiling = c }
}

// New returns a Module.
func New(opts ...Option) *Module {
	m := &Module{ceiling: DefaultCeiling}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GameType implements station.Module.
func (m *Module) GameType() station.GameType { return GameType }

// NewSessionState implements station.Module.
func (m *Module) NewSessionState() *SessionState {
	return &SessionState{Stage: StageSetup, Phase: PhaseNormal, CurrentTurn: -1, Acted: map[station.UserID]bool{}}
}

// NewMemberState implements station.Module.
func (m *Module) NewMemberState() *MemberState { return &MemberState{} }

// OnSessionStart implements station.Module.
func (m *Module) OnSessionStart(*Session) {}

// OnRoundStart collects the forced stakes once setup is done.
func (m *Module) OnRoundStart(s *Session) {
	if s.State.Stage != StageReady {
		s.Logger().Info("round started before setup, waiting for creator")
		return
	}
	m.beginHand(s)
}

// OnRoundEnd implements station.Module.
func (m *Module) OnRoundEnd(s *Session) {
	s.State.Stage = StageEnd
	s.State.CurrentTurn = -1
}

// RouteMessage implements station.Module.
func (m *Module) RouteMessage(s *Session, msg station.Message) bool {
	switch msg.Action() {
	case "setup":
		m.setup(s, msg)
	case "bet":
		m.bet(s, msg)
	case "declare-winner":
		m.declareWinner(s, msg)
	case "credit":
		m.credit(s, msg)
	default:
		return false
	}
	return true
}

type setupPayload struct {
	Order        []station.UserID `json:"order"`
	Gold         *decimal.Decimal `json:"gold"`
	StartBetGold *decimal.Decimal `json:"startBetGold"`
}

// SetupDone is broadcast once the table is configured.
type SetupDone struct {
	Order        []station.UserID `json:"order"`
	Gold         decimal.Decimal  `json:"gold"`
	StartBetGold decimal.Decimal  `json:"startBetGold"`
}

func (m *Module) setup(s *Session, msg station.Message) {
	if !msg.IsCreator {
		s.Reject("creator only", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	if s.State.Stage != StageSetup {
		s.Reject("already set up", zap.String("stage", string(s.State.Stage)))
		return
	}
	var p setupPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Gold == nil || p.StartBetGold == nil {
		s.Reject("malformed setup")
		return
	}
	if !isPermutation(p.Order, s.Roster) {
		s.Reject("order is not a permutation of the roster", zap.Int("order_len", len(p.Order)))
		return
	}
	if !m.inRange(*p.Gold) || !m.inRange(*p.StartBetGold) || !p.StartBetGold.IsPositive() {
		s.Reject("amount out of range")
		return
	}

	s.State.Order = append([]station.UserID(nil), p.Order...)
	s.State.StartBet = *p.StartBetGold
	for _, mem := range s.Members {
		mem.State.Gold = *p.Gold
	}
	s.State.Stage = StageReady
	s.Broadcast(TopicSetupDone, SetupDone{Order: s.State.Order, Gold: *p.Gold, StartBetGold: s.State.StartBet})
	s.Logger().Info("table set up",
		zap.Int("players", len(s.State.Order)),
		zap.String("gold", p.Gold.String()),
		zap.String("start_bet", s.State.StartBet.String()),
	)
	s.Touch()
	if s.Started && !s.Ended {
		m.beginHand(s)
	}
}

func isPermutation(order, roster []station.UserID) bool {
	if len(order) != len(roster) {
		return false
	}
	want := make(map[station.UserID]bool, len(roster))
	for _, id := range roster {
		want[id] = true
	}
	for _, id := range order {
		if !want[id] {
			return false
		}
		delete(want, id)
	}
	return len(want) == 0
}

// inRange reports whether 0 <= v <= ceiling.
func (m *Module) inRange(v decimal.Decimal) bool {
	return !v.IsNegative() && v.LessThanOrEqual(m.ceiling)
}

type creditPayload struct {
	TargetID *station.UserID  `json:"targetId"`
	Amount   *decimal.Decimal `json:"amount"`
}

// Credited is broadcast for every accepted credit. TargetID is nil when the
// whole table was credited.
type Credited struct {
	TargetID *station.UserID `json:"targetId"`
	Amount   decimal.Decimal `json:"amount"`
}

func (m *Module) credit(s *Session, msg station.Message) {
	if !msg.IsCreator {
		s.Reject("creator only", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	var p creditPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Amount == nil {
		s.Reject("invalid amount")
		return
	}
	if !m.inRange(*p.Amount) {
		s.Reject("amount out of range", zap.String("amount", p.Amount.String()))
		return
	}
	if p.TargetID != nil {
		target := s.Member(*p.TargetID)
		if target == nil {
			s.Reject("unknown target", zap.Int64("target_id", int64(*p.TargetID)))
			return
		}
		target.State.Gold = target.State.Gold.Add(*p.Amount)
	} else {
		for _, mem := range s.Members {
			mem.State.Gold = mem.State.Gold.Add(*p.Amount)
		}
	}
	s.Broadcast(TopicCredited, Credited{TargetID: p.TargetID, Amount: *p.Amount})
	s.Touch()
}

// MemberView is a member's public betting state.
type MemberView struct {
	ID          station.UserID  `json:"id"`
	DisplayName string          `json:"displayName"`
	Gold        decimal.Decimal `json:"gold"`
	Bet         decimal.Decimal `json:"bet"`
	Committed   decimal.Decimal `json:"committed"`
	Folded      bool            `json:"folded"`
	AllIn       bool            `json:"allIn"`
}

// Snapshot is the table view. Betting state is public to every participant.
type Snapshot struct {
	Stage       Stage            `json:"stage"`
	Phase       Phase            `json:"phase"`
	Round       int              `json:"round"`
	Order       []station.UserID `json:"order"`
	CurrentTurn *station.UserID  `json:"currentTurn"`
	StartBet    decimal.Decimal  `json:"startBetGold"`
	CurrentBet  decimal.Decimal  `json:"currentBet"`
	Pot         decimal.Decimal  `json:"pot"`
	AllIn       bool             `json:"allIn"`
	Winner      *station.UserID  `json:"winner,omitempty"`
	Members     []MemberView     `json:"members"`
}

// OnSnapshot implements station.Module.
func (m *Module) OnSnapshot(s *Session, _ station.UserID) any {
	snap := Snapshot{
		Stage:      s.State.Stage,
		Phase:      s.State.Phase,
		Round:      s.State.Round,
		Order:      append([]station.UserID{}, s.State.Order...),
		StartBet:   s.State.StartBet,
		CurrentBet: s.State.CurrentBet,
		Pot:        s.State.Pot,
		AllIn:      s.State.AllIn,
		Winner:     s.State.Winner,
	}
	if id, ok := turnOf(s); ok {
		snap.CurrentTurn = &id
	}
	for _, mem := range s.OrderedMembers() {
		snap.Members = append(snap.Members, MemberView{
			ID:          mem.ID,
			DisplayName: mem.DisplayName,
			Gold:        mem.State.Gold,
			Bet:         mem.State.Bet,
			Committed:   mem.State.Committed,
			Folded:      mem.State.Folded,
			AllIn:       mem.State.AllIn,
		})
	}
	return snap
}
