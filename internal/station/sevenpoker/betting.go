package sevenpoker

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cory-johannsen/gamestation/internal/station"
)

// BetType is a betting action.
type BetType string

// Bet types.
const (
	BetCall  BetType = "call"
	BetCheck BetType = "check"
	BetHalf  BetType = "half"
	// BetBbing raises by the starting stake; only legal when nothing has been bet.
	BetBbing BetType = "bbing"
	// BetDdadang doubles the current bet; illegal when nothing has been bet.
	BetDdadang BetType = "ddadang"
	BetFold    BetType = "fold"
)

var (
	two  = decimal.NewFromInt(2)
	half = decimal.New(5, -1)
)

// HandStarted is broadcast once the forced stakes are collected.
type HandStarted struct {
	Pot         decimal.Decimal  `json:"pot"`
	Order       []station.UserID `json:"order"`
	CurrentTurn *station.UserID  `json:"currentTurn"`
	AllIn       bool             `json:"allIn"`
}

// BetPlaced is broadcast for every accepted bet.
type BetPlaced struct {
	UserID     station.UserID  `json:"userId"`
	Type       BetType         `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Pot        decimal.Decimal `json:"pot"`
	CurrentBet decimal.Decimal `json:"currentBet"`
	AllIn      bool            `json:"allIn"`
}

// Turn is broadcast whenever the turn pointer moves.
type Turn struct {
	UserID station.UserID `json:"userId"`
	Phase  Phase          `json:"phase"`
	Owed   decimal.Decimal `json:"owed"`
}

// BettingClosed is broadcast when a betting round closes.
type BettingClosed struct {
	Round       int             `json:"round"`
	Pot         decimal.Decimal `json:"pot"`
	CurrentTurn *station.UserID `json:"currentTurn"`
}

// Winner is broadcast when the pot is awarded.
type Winner struct {
	WinnerID station.UserID  `json:"winnerId"`
	Amount   decimal.Decimal `json:"amount"`
	Declared bool            `json:"declared"`
}

func turnOf(s *Session) (station.UserID, bool) {
	i := s.State.CurrentTurn
	if i < 0 || i >= len(s.State.Order) {
		return 0, false
	}
	return s.State.Order[i], true
}

// canAct reports whether the member can still place bets.
func canAct(mem *station.Member[*MemberState]) bool {
	return !mem.State.Folded && !mem.State.AllIn
}

// take moves up to amount from the member's gold into the pot.
//
// Postcondition: the pot grows by exactly what the member loses; the member is
// flagged all-in once no gold remains.
func take(s *Session, mem *station.Member[*MemberState], amount decimal.Decimal, countsAsBet bool) decimal.Decimal {
	if amount.GreaterThanOrEqual(mem.State.Gold) {
		amount = mem.State.Gold
		mem.State.AllIn = true
		s.State.AllIn = true
	}
	mem.State.Gold = mem.State.Gold.Sub(amount)
	mem.State.Committed = mem.State.Committed.Add(amount)
	if countsAsBet {
		mem.State.Bet = mem.State.Bet.Add(amount)
	}
	s.State.Pot = s.State.Pot.Add(amount)
	return amount
}

func (m *Module) beginHand(s *Session) {
	st := s.State
	st.Stage = StageBet
	st.Phase = PhaseNormal
	st.Round = 1
	st.CurrentBet = decimal.Zero
	st.Winner = nil
	for _, id := range st.Order {
		mem := s.Member(id)
		mem.State.Bet = decimal.Zero
		mem.State.Folded = false
		mem.State.AllIn = false
		take(s, mem, st.StartBet, false)
	}
	st.Acted = map[station.UserID]bool{}
	st.CurrentTurn = firstActor(s)

	ev := HandStarted{Pot: st.Pot, Order: st.Order, AllIn: st.AllIn}
	if id, ok := turnOf(s); ok {
		ev.CurrentTurn = &id
	}
	s.Broadcast(TopicHandStarted, ev)
	s.Logger().Info("hand started", zap.String("pot", st.Pot.String()))
}

// firstActor returns the first order index that can act, or -1.
func firstActor(s *Session) int {
	for i, id := range s.State.Order {
		if canAct(s.Member(id)) {
			return i
		}
	}
	return -1
}

type betPayload struct {
	Type BetType `json:"type"`
}

func (m *Module) bet(s *Session, msg station.Message) {
	st := s.State
	if st.Stage != StageBet {
		s.Reject("wrong stage", zap.String("stage", string(st.Stage)))
		return
	}
	turn, ok := turnOf(s)
	if !ok || turn != msg.SenderID {
		s.Reject("not your turn", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	var p betPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.Reject("malformed bet")
		return
	}
	mem := s.Member(msg.SenderID)

	var amount decimal.Decimal
	switch p.Type {
	case BetCall:
		amount = st.CurrentBet.Sub(mem.State.Bet)
		if amount.IsNegative() {
			amount = decimal.Zero
		}
	case BetFold:
		mem.State.Folded = true
	case BetCheck, BetHalf, BetBbing, BetDdadang:
		if st.Phase == PhaseCall {
			s.Reject("only call or fold while calling", zap.String("type", string(p.Type)))
			return
		}
		switch p.Type {
		case BetHalf:
			amount = st.Pot.Mul(half)
		case BetBbing:
			if !st.CurrentBet.IsZero() {
				s.Reject("bbing requires no current bet")
				return
			}
			amount = st.StartBet
		case BetDdadang:
			if st.CurrentBet.IsZero() {
				s.Reject("ddadang requires a current bet")
				return
			}
			amount = st.CurrentBet.Mul(two)
		}
	default:
		s.Reject("unknown bet type", zap.String("type", string(p.Type)))
		return
	}

	if p.Type != BetFold {
		amount = take(s, mem, amount, true)
		if mem.State.Bet.GreaterThan(st.CurrentBet) {
			st.CurrentBet = mem.State.Bet
		}
	}
	st.Acted[mem.ID] = true
	s.Broadcast(TopicBetPlaced, BetPlaced{
		UserID:     mem.ID,
		Type:       p.Type,
		Amount:     amount,
		Pot:        st.Pot,
		CurrentBet: st.CurrentBet,
		AllIn:      mem.State.AllIn,
	})
	s.Logger().Debug("bet placed",
		zap.Int64("user_id", int64(mem.ID)),
		zap.String("type", string(p.Type)),
		zap.String("amount", amount.String()),
	)
	s.Touch()

	if survivor, ok := soleSurvivor(s); ok {
		m.award(s, survivor, false)
		return
	}
	m.advance(s)
}

func soleSurvivor(s *Session) (station.UserID, bool) {
	var survivor station.UserID
	n := 0
	for _, id := range s.State.Order {
		if !s.Member(id).State.Folded {
			survivor = id
			n++
		}
	}
	return survivor, n == 1
}

// unmatched reports whether the member still owes chips to the current bet.
func unmatched(s *Session, mem *station.Member[*MemberState]) bool {
	return canAct(mem) && mem.State.Bet.LessThan(s.State.CurrentBet)
}

// nextFrom scans the order cyclically, starting after the current turn, for
// the first index satisfying ok.
func nextFrom(s *Session, ok func(*station.Member[*MemberState]) bool) int {
	n := len(s.State.Order)
	start := s.State.CurrentTurn
	for step := 1; step <= n; step++ {
		i := (start + step) % n
		if ok(s.Member(s.State.Order[i])) {
			return i
		}
	}
	return -1
}

func (m *Module) advance(s *Session) {
	st := s.State
	acted := st.Acted
	next := -1
	if st.Phase == PhaseNormal {
		next = nextFrom(s, func(mem *station.Member[*MemberState]) bool {
			return canAct(mem) && !acted[mem.ID]
		})
		if next < 0 {
			for i, id := range st.Order {
				if unmatched(s, s.Member(id)) {
					st.Phase = PhaseCall
					next = i
					break
				}
			}
		}
	} else {
		next = nextFrom(s, func(mem *station.Member[*MemberState]) bool {
			return unmatched(s, mem)
		})
	}
	if next < 0 {
		m.closeBetting(s)
		return
	}
	st.CurrentTurn = next
	mem := s.Member(st.Order[next])
	s.Broadcast(TopicTurn, Turn{UserID: mem.ID, Phase: st.Phase, Owed: st.CurrentBet.Sub(mem.State.Bet)})
}

func (m *Module) closeBetting(s *Session) {
	st := s.State
	for _, mem := range s.Members {
		mem.State.Bet = decimal.Zero
	}
	clear(st.Acted)
	st.CurrentBet = decimal.Zero
	st.Round++
	st.Phase = PhaseNormal
	st.CurrentTurn = firstActor(s)

	ev := BettingClosed{Round: st.Round, Pot: st.Pot}
	if id, ok := turnOf(s); ok {
		ev.CurrentTurn = &id
	}
	s.Broadcast(TopicBettingClose, ev)
	s.Logger().Debug("betting round closed", zap.Int("round", st.Round), zap.String("pot", st.Pot.String()))
}

type declarePayload struct {
	WinnerID *station.UserID `json:"winnerId"`
}

func (m *Module) declareWinner(s *Session, msg station.Message) {
	if !msg.IsCreator {
		s.Reject("creator only", zap.Int64("user_id", int64(msg.SenderID)))
		return
	}
	if s.State.Stage != StageBet {
		s.Reject("wrong stage", zap.String("stage", string(s.State.Stage)))
		return
	}
	var p declarePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.WinnerID == nil {
		s.Reject("missing winner")
		return
	}
	winner := s.Member(*p.WinnerID)
	if winner == nil || winner.State.Folded {
		s.Reject("winner not in hand", zap.Int64("winner_id", int64(*p.WinnerID)))
		return
	}
	s.Touch()
	m.award(s, winner.ID, true)
}

// award transfers the whole pot to the winner and ends the round.
func (m *Module) award(s *Session, winnerID station.UserID, declared bool) {
	st := s.State
	winner := s.Member(winnerID)
	amount := st.Pot
	winner.State.Gold = winner.State.Gold.Add(amount)
	st.PaidOut = st.PaidOut.Add(amount)
	st.Pot = decimal.Zero
	st.CurrentBet = decimal.Zero
	for _, mem := range s.Members {
		mem.State.Bet = decimal.Zero
	}
	st.Winner = &winnerID
	s.Broadcast(TopicWinner, Winner{WinnerID: winnerID, Amount: amount, Declared: declared})
	s.Logger().Info("pot awarded",
		zap.Int64("winner_id", int64(winnerID)),
		zap.String("amount", amount.String()),
		zap.Bool("declared", declared),
	)
	s.EndRound()
}
