package mafia_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/gamestation/internal/directory"
	"github.com/cory-johannsen/gamestation/internal/random"
	"github.com/cory-johannsen/gamestation/internal/station"
	"github.com/cory-johannsen/gamestation/internal/station/mafia"
	"github.com/cory-johannsen/gamestation/internal/station/stationtest"
)

const sid station.SessionID = 3

type harness struct {
	engine   *station.Engine[*mafia.SessionState, *mafia.MemberState]
	notifier *stationtest.Notifier
	recorder *stationtest.Recorder
	ids      []station.UserID
}

func newHarness(t *testing.T, n int, seed uint64) *harness {
	h := buildHarness(zaptest.NewLogger(t), n, seed)
	t.Cleanup(func() { h.engine.Destroy(sid) })
	return h
}

func buildHarness(logger *zap.Logger, n int, seed uint64) *harness {
	dir := directory.NewMemory()
	h := &harness{
		notifier: &stationtest.Notifier{},
		recorder: stationtest.NewRecorder(),
		ids:      stationtest.Roster(dir, sid, mafia.GameType, n),
	}
	module := mafia.New(mafia.WithRandom(random.NewSeededSource(seed)), mafia.WithDayDelay(5*time.Millisecond))
	h.engine = station.NewEngine[*mafia.SessionState, *mafia.MemberState](module, dir, dir, h.notifier,
		station.WithLogger(logger), station.WithRecorder(h.recorder))
	return h
}

func (h *harness) send(sender station.UserID, topic, payload string) {
	h.engine.RouteMessage(context.Background(), stationtest.Msg(sid, sender, h.ids[0], topic, payload))
}

func target(id station.UserID) string {
	return fmt.Sprintf(`{"targetId":%d}`, id)
}

func (h *harness) view(fn func(s *mafia.Session)) {
	h.engine.Inspect(sid, fn)
}

func (h *harness) stage() mafia.Stage {
	var st mafia.Stage
	h.view(func(s *mafia.Session) { st = s.State.Stage })
	return st
}

func (h *harness) job(id station.UserID) mafia.Job {
	var j mafia.Job
	h.view(func(s *mafia.Session) { j = s.Member(id).State.Job })
	return j
}

func (h *harness) alive(id station.UserID) bool {
	var a bool
	h.view(func(s *mafia.Session) { a = s.Member(id).State.Alive })
	return a
}

// members returns live members holding job, or not holding it when invert is set.
func (h *harness) members(job mafia.Job, invert bool) []station.UserID {
	var out []station.UserID
	h.view(func(s *mafia.Session) {
		for _, id := range s.Roster {
			m := s.Member(id).State
			if m.Alive && (m.Job == job) != invert {
				out = append(out, id)
			}
		}
	})
	return out
}

// toNight starts the round, deals roles and confirms them all.
func (h *harness) toNight(t *testing.T) {
	t.Helper()
	h.send(h.ids[0], station.TopicRoundStart, "")
	h.send(h.ids[0], mafia.TopicSetRoles, "")
	for _, id := range h.ids {
		h.send(id, mafia.TopicConfirmRole, "")
	}
	require.Equal(t, mafia.StageMafiaAction, h.stage())
}

// killAtNight has every live mafia nominate victim, lets the other roles act
// without saving victim, and waits for the day when the game continues.
func (h *harness) killAtNight(t *testing.T, victim station.UserID) {
	t.Helper()
	for _, id := range h.members(mafia.JobMafia, false) {
		h.send(id, mafia.TopicMafiaTarget, target(victim))
	}
	if h.stage() == mafia.StagePoliceAction {
		police := h.members(mafia.JobPolice, false)[0]
		h.send(police, mafia.TopicPoliceInvestigate, target(h.members(mafia.JobPolice, true)[0]))
	}
	if h.stage() == mafia.StageDoctorAction {
		doctor := h.members(mafia.JobDoctor, false)[0]
		protect := doctor
		if protect == victim {
			protect = h.members(mafia.JobMafia, false)[0]
		}
		h.send(doctor, mafia.TopicDoctorProtect, target(protect))
	}
	if h.stage() == mafia.StageEnd {
		return
	}
	require.Eventually(t, func() bool { return h.stage() == mafia.StageProcessDay }, time.Second, 2*time.Millisecond)
}

func (h *harness) firstGood() station.UserID {
	return h.members(mafia.JobMafia, true)[0]
}

func TestCountsFor_Table(t *testing.T) {
	cases := []struct {
		n    int
		want mafia.RoleCounts
	}{
		{4, mafia.RoleCounts{Mafia: 1}},
		{6, mafia.RoleCounts{Mafia: 1}},
		{7, mafia.RoleCounts{Mafia: 2, Police: 1}},
		{8, mafia.RoleCounts{Mafia: 2, Police: 1, Doctor: 1}},
		{9, mafia.RoleCounts{Mafia: 2, Police: 1, Doctor: 1}},
		{10, mafia.RoleCounts{Mafia: 3, Police: 1, Doctor: 1}},
		{16, mafia.RoleCounts{Mafia: 3, Police: 1, Doctor: 1}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, mafia.CountsFor(tc.n), "n=%d", tc.n)
	}
}

func TestAssignJobs_MatchesTableProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(mafia.MinPlayers, 20).Draw(rt, "players")
		ids := make([]station.UserID, n)
		for i := range ids {
			ids[i] = station.UserID(i + 1)
		}
		jobs := mafia.AssignJobs(random.NewSeededSource(rapid.Uint64().Draw(rt, "seed")), ids)
		if len(jobs) != n {
			rt.Fatalf("expected %d jobs, got %d", n, len(jobs))
		}
		got := map[mafia.Job]int{}
		for _, id := range ids {
			j, ok := jobs[id]
			if !ok {
				rt.Fatalf("participant %d received no job", id)
			}
			got[j]++
		}
		want := mafia.CountsFor(n)
		if got[mafia.JobMafia] != want.Mafia || got[mafia.JobPolice] != want.Police || got[mafia.JobDoctor] != want.Doctor {
			rt.Fatalf("n=%d: got %v, want %+v", n, got, want)
		}
		if got[mafia.JobCitizen] != n-want.Mafia-want.Police-want.Doctor {
			rt.Fatalf("n=%d: wrong citizen count %d", n, got[mafia.JobCitizen])
		}
	})
}

func TestSetRoles_FourPlayersGetOneMafia(t *testing.T) {
	h := newHarness(t, 4, 1)
	h.send(h.ids[0], station.TopicRoundStart, "")
	require.Equal(t, mafia.StageNeedRoleSetting, h.stage())
	h.send(h.ids[0], mafia.TopicSetRoles, "")

	assert.Equal(t, mafia.StageRoleConfirming, h.stage())
	assert.Len(t, h.members(mafia.JobMafia, false), 1)
	assert.Len(t, h.members(mafia.JobCitizen, false), 3)

	assigned := h.notifier.ByTopic(mafia.TopicRoleAssigned)
	require.Len(t, assigned, 4)
	for _, sent := range assigned {
		p := sent.Payload.(mafia.RoleAssigned)
		assert.Equal(t, h.job(sent.User), p.Job)
		if p.Job == mafia.JobMafia {
			assert.Equal(t, []station.UserID{sent.User}, p.Teammates)
		} else {
			assert.Empty(t, p.Teammates)
		}
	}
}

func TestSetRoles_Guards(t *testing.T) {
	h := newHarness(t, 4, 1)
	h.send(h.ids[0], station.TopicRoundInitialize, "")
	h.send(h.ids[0], mafia.TopicSetRoles, "")
	assert.Equal(t, mafia.StageInitial, h.stage())

	h.send(h.ids[0], station.TopicRoundStart, "")
	h.send(h.ids[1], mafia.TopicSetRoles, "")
	assert.Equal(t, 1, h.recorder.Rejections("creator only"))
	assert.Equal(t, mafia.StageNeedRoleSetting, h.stage())

	h.send(h.ids[0], mafia.TopicSetRoles, "")
	h.send(h.ids[0], mafia.TopicSetRoles, "")
	assert.Equal(t, 4, h.notifier.Count(mafia.TopicRoleAssigned))
	assert.Equal(t, 2, h.recorder.Rejections("wrong stage"))
}

func TestSetRoles_RejectsSmallRoster(t *testing.T) {
	h := newHarness(t, 3, 1)
	h.send(h.ids[0], station.TopicRoundStart, "")
	h.send(h.ids[0], mafia.TopicSetRoles, "")
	assert.Equal(t, 1, h.recorder.Rejections("not enough players"))
	assert.Equal(t, mafia.StageNeedRoleSetting, h.stage())
}

func TestConfirmRole_AllConfirmedStartsNight(t *testing.T) {
	h := newHarness(t, 4, 2)
	h.send(h.ids[0], station.TopicRoundStart, "")
	h.send(h.ids[0], mafia.TopicSetRoles, "")
	for _, id := range h.ids[:3] {
		h.send(id, mafia.TopicConfirmRole, "")
	}
	h.send(h.ids[0], mafia.TopicConfirmRole, "")
	assert.Equal(t, 1, h.recorder.Rejections("role already confirmed"))
	assert.Equal(t, mafia.StageRoleConfirming, h.stage())

	h.send(h.ids[3], mafia.TopicConfirmRole, "")
	assert.Equal(t, mafia.StageMafiaAction, h.stage())
	h.view(func(s *mafia.Session) { assert.Equal(t, 1, s.State.Day) })
}

func TestNight_KillThenDayStartsAfterDelay(t *testing.T) {
	h := newHarness(t, 5, 3)
	h.toNight(t)
	victim := h.firstGood()
	h.killAtNight(t, victim)

	assert.False(t, h.alive(victim))
	results := h.notifier.ByTopic(mafia.TopicNightResult)
	require.Len(t, results, 1)
	assert.Equal(t, mafia.NightResult{Day: 1, Outcome: mafia.EventKilled, TargetID: victim}, results[0].Payload)
	h.view(func(s *mafia.Session) {
		assert.Equal(t, []mafia.Event{{Day: 1, Kind: mafia.EventKilled, Target: victim}}, s.State.Events)
	})
}

func TestNight_RejectsNonMafiaAndDeadTargets(t *testing.T) {
	h := newHarness(t, 5, 4)
	h.toNight(t)
	good := h.firstGood()
	h.send(good, mafia.TopicMafiaTarget, target(h.ids[0]))
	assert.Equal(t, 1, h.recorder.Rejections("sender lacks role"))

	boss := h.members(mafia.JobMafia, false)[0]
	h.send(boss, mafia.TopicMafiaTarget, `{}`)
	assert.Equal(t, 1, h.recorder.Rejections("missing target"))
	h.send(boss, mafia.TopicMafiaTarget, target(99))
	assert.Equal(t, 1, h.recorder.Rejections("target not alive"))
	assert.Equal(t, mafia.StageMafiaAction, h.stage())
}

func TestNight_MafiaTieSendsMismatchToMafiaOnly(t *testing.T) {
	h := newHarness(t, 7, 5)
	h.toNight(t)
	team := h.members(mafia.JobMafia, false)
	require.Len(t, team, 2)
	goods := h.members(mafia.JobCitizen, false)

	h.send(team[0], mafia.TopicMafiaTarget, target(goods[0]))
	h.send(team[1], mafia.TopicMafiaTarget, target(goods[1]))

	mismatches := h.notifier.ByTopic(mafia.TopicMafiaMismatch)
	require.Len(t, mismatches, 2)
	for _, sent := range mismatches {
		assert.Equal(t, stationtest.KindUnicast, sent.Kind)
		assert.Contains(t, team, sent.User)
	}
	assert.Equal(t, mafia.StageMafiaAction, h.stage())
	h.view(func(s *mafia.Session) {
		assert.Nil(t, s.State.PendingKill)
		for _, id := range team {
			assert.Nil(t, s.Member(id).State.Nomination)
		}
	})

	h.send(team[0], mafia.TopicMafiaTarget, target(goods[0]))
	h.send(team[1], mafia.TopicMafiaTarget, target(goods[0]))
	assert.Equal(t, mafia.StagePoliceAction, h.stage())
	h.view(func(s *mafia.Session) { assert.Equal(t, goods[0], *s.State.PendingKill) })
}

func TestNight_PoliceInvestigatesPrivately(t *testing.T) {
	h := newHarness(t, 7, 6)
	h.toNight(t)
	team := h.members(mafia.JobMafia, false)
	police := h.members(mafia.JobPolice, false)[0]
	victim := h.members(mafia.JobCitizen, false)[0]
	for _, id := range team {
		h.send(id, mafia.TopicMafiaTarget, target(victim))
	}
	require.Equal(t, mafia.StagePoliceAction, h.stage())

	h.send(police, mafia.TopicPoliceInvestigate, target(police))
	assert.Equal(t, 1, h.recorder.Rejections("cannot investigate self"))
	h.send(police, mafia.TopicPoliceInvestigate, target(team[0]))

	results := h.notifier.ByTopic(mafia.TopicInvestigationResult)
	require.Len(t, results, 1)
	assert.Equal(t, police, results[0].User)
	assert.Equal(t, mafia.InvestigationResult{TargetID: team[0], Job: mafia.JobMafia}, results[0].Payload)

	require.Eventually(t, func() bool { return h.stage() == mafia.StageProcessDay }, time.Second, 2*time.Millisecond)
	assert.False(t, h.alive(victim))
	h.view(func(s *mafia.Session) {
		assert.Equal(t, []mafia.Investigation{{Day: 1, Target: team[0], Job: mafia.JobMafia}}, s.Member(police).State.Investigations)
	})
}

func TestNight_DoctorRevivesProtectedTarget(t *testing.T) {
	h := newHarness(t, 8, 7)
	h.toNight(t)
	victim := h.members(mafia.JobCitizen, false)[0]
	for _, id := range h.members(mafia.JobMafia, false) {
		h.send(id, mafia.TopicMafiaTarget, target(victim))
	}
	h.send(h.members(mafia.JobPolice, false)[0], mafia.TopicPoliceInvestigate, target(victim))
	require.Equal(t, mafia.StageDoctorAction, h.stage())
	h.send(h.members(mafia.JobDoctor, false)[0], mafia.TopicDoctorProtect, target(victim))

	assert.True(t, h.alive(victim))
	results := h.notifier.ByTopic(mafia.TopicNightResult)
	require.Len(t, results, 1)
	assert.Equal(t, mafia.EventRevived, results[0].Payload.(mafia.NightResult).Outcome)
}

func TestNight_DeadPoliceSubstageSkipped(t *testing.T) {
	h := newHarness(t, 7, 8)
	h.toNight(t)
	police := h.members(mafia.JobPolice, false)[0]
	h.killAtNight(t, police)
	require.False(t, h.alive(police))

	h.send(h.ids[0], mafia.TopicStartVote, "")
	voters := h.members(mafia.JobNone, true)
	victim := h.members(mafia.JobCitizen, false)[0]
	for _, id := range voters {
		h.send(id, mafia.TopicVote, target(victim))
	}
	agreeAll(h, victim)
	require.Equal(t, mafia.StageMafiaAction, h.stage())

	for _, id := range h.members(mafia.JobMafia, false) {
		h.send(id, mafia.TopicMafiaTarget, target(h.members(mafia.JobCitizen, false)[0]))
	}
	assert.NotEqual(t, mafia.StagePoliceAction, h.stage())
}

func agreeAll(h *harness, victim station.UserID) {
	for _, id := range h.members(mafia.JobNone, true) {
		if id != victim {
			h.send(id, mafia.TopicConfirmExecution, `{"agree":true}`)
		}
	}
}

func TestDayVote_TieWaitsForRevote(t *testing.T) {
	h := newHarness(t, 5, 9)
	h.toNight(t)
	h.killAtNight(t, h.firstGood())
	alive := h.members(mafia.JobNone, true)
	require.Len(t, alive, 4)

	h.send(alive[1], mafia.TopicStartVote, "")
	assert.Equal(t, 1, h.recorder.Rejections("creator only"))
	creator := h.ids[0]
	h.send(creator, mafia.TopicStartVote, "")
	require.Equal(t, mafia.StageVoteForExecution, h.stage())

	a, b := alive[0], alive[1]
	h.send(alive[0], mafia.TopicVote, target(a))
	h.send(alive[1], mafia.TopicVote, target(a))
	h.send(alive[1], mafia.TopicVote, target(b))
	assert.Equal(t, 1, h.recorder.Rejections("already voted"))
	h.send(alive[2], mafia.TopicVote, target(b))
	h.send(alive[3], mafia.TopicVote, target(b))
	h.send(alive[3], mafia.TopicVote, target(a))

	assert.Equal(t, mafia.StageWaitingForRevote, h.stage())
	results := h.notifier.ByTopic(mafia.TopicVoteResult)
	require.Len(t, results, 1)
	assert.True(t, results[0].Payload.(mafia.VoteResult).Tie)
	h.view(func(s *mafia.Session) {
		assert.Empty(t, s.State.Votes)
		assert.Nil(t, s.State.ExecutionTarget)
	})

	h.send(creator, mafia.TopicStartVote, "")
	assert.Equal(t, mafia.StageVoteForExecution, h.stage())
}

func TestDayVote_DeadCannotVote(t *testing.T) {
	h := newHarness(t, 5, 10)
	h.toNight(t)
	victim := h.firstGood()
	h.killAtNight(t, victim)
	h.send(h.ids[0], mafia.TopicStartVote, "")
	h.send(victim, mafia.TopicVote, target(h.ids[0]))
	assert.Equal(t, 1, h.recorder.Rejections("sender not alive"))
	h.send(h.members(mafia.JobNone, true)[0], mafia.TopicVote, target(victim))
	assert.Equal(t, 1, h.recorder.Rejections("target not alive"))
}

func TestExecution_MajorityExecutesMafiaAndCitizensWin(t *testing.T) {
	h := newHarness(t, 5, 11)
	h.toNight(t)
	h.killAtNight(t, h.firstGood())
	boss := h.members(mafia.JobMafia, false)[0]
	h.send(h.ids[0], mafia.TopicStartVote, "")
	for _, id := range h.members(mafia.JobNone, true) {
		h.send(id, mafia.TopicVote, target(boss))
	}
	require.Equal(t, mafia.StageExecutionConfirm, h.stage())

	h.send(boss, mafia.TopicConfirmExecution, `{"agree":false}`)
	assert.Equal(t, 1, h.recorder.Rejections("target cannot confirm"))
	goods := h.members(mafia.JobMafia, true)
	require.Len(t, goods, 3)
	h.send(goods[0], mafia.TopicConfirmExecution, `{"agree":true}`)
	h.send(goods[0], mafia.TopicConfirmExecution, `{"agree":true}`)
	assert.Equal(t, 1, h.recorder.Rejections("already answered"))
	h.send(goods[1], mafia.TopicConfirmExecution, `{}`)
	assert.Equal(t, 1, h.recorder.Rejections("missing agree"))
	h.send(goods[1], mafia.TopicConfirmExecution, `{"agree":false}`)
	h.send(goods[2], mafia.TopicConfirmExecution, `{"agree":true}`)

	assert.False(t, h.alive(boss))
	assert.Equal(t, mafia.StageEnd, h.stage())
	assert.Equal(t, 1, h.notifier.Count(station.TopicRoundEnded))

	outcomes := h.notifier.ByTopic(mafia.TopicOutcome)
	require.Len(t, outcomes, 5)
	for _, sent := range outcomes {
		o := sent.Payload.(mafia.Outcome)
		assert.Equal(t, mafia.FactionCitizen, o.Winner)
		assert.Equal(t, sent.User != boss, o.Won)
	}
	revealed := h.notifier.ByTopic(mafia.TopicRolesRevealed)
	require.Len(t, revealed, 1)
	assert.Len(t, revealed[0].Payload.(mafia.RolesRevealed).Roles, 5)
}

func TestExecution_MinorityAgreementSparesAndNightFollows(t *testing.T) {
	h := newHarness(t, 5, 12)
	h.toNight(t)
	h.killAtNight(t, h.firstGood())
	suspect := h.firstGood()
	h.send(h.ids[0], mafia.TopicStartVote, "")
	for _, id := range h.members(mafia.JobNone, true) {
		h.send(id, mafia.TopicVote, target(suspect))
	}
	others := []station.UserID{}
	for _, id := range h.members(mafia.JobNone, true) {
		if id != suspect {
			others = append(others, id)
		}
	}
	require.Len(t, others, 3)
	h.send(others[0], mafia.TopicConfirmExecution, `{"agree":true}`)
	h.send(others[1], mafia.TopicConfirmExecution, `{"agree":false}`)
	h.send(others[2], mafia.TopicConfirmExecution, `{"agree":false}`)

	assert.True(t, h.alive(suspect))
	assert.Equal(t, mafia.StageMafiaAction, h.stage())
	h.view(func(s *mafia.Session) {
		assert.Equal(t, 2, s.State.Day)
		assert.Equal(t, mafia.EventSpared, s.State.Events[len(s.State.Events)-1].Kind)
	})
}

func TestExecution_MafiaWinsOnParity(t *testing.T) {
	h := newHarness(t, 4, 13)
	h.toNight(t)
	h.killAtNight(t, h.firstGood())
	victim := h.firstGood()
	h.send(h.ids[0], mafia.TopicStartVote, "")
	for _, id := range h.members(mafia.JobNone, true) {
		h.send(id, mafia.TopicVote, target(victim))
	}
	agreeAll(h, victim)

	assert.Equal(t, mafia.StageEnd, h.stage())
	h.view(func(s *mafia.Session) {
		assert.Equal(t, mafia.FactionMafia, s.State.Winner)
		assert.True(t, s.Ended)
	})
}

func TestMafiaWinsAtNight(t *testing.T) {
	h := newHarness(t, 4, 14)
	h.toNight(t)
	h.killAtNight(t, h.firstGood())
	h.send(h.ids[0], mafia.TopicStartVote, "")
	alive := h.members(mafia.JobNone, true)
	// Spare the suspect so night two decides the game.
	suspect := h.firstGood()
	for _, id := range alive {
		h.send(id, mafia.TopicVote, target(suspect))
	}
	for _, id := range alive {
		if id != suspect {
			h.send(id, mafia.TopicConfirmExecution, `{"agree":false}`)
		}
	}
	require.Equal(t, mafia.StageMafiaAction, h.stage())
	h.killAtNight(t, h.firstGood())
	assert.Equal(t, mafia.StageEnd, h.stage())
	h.view(func(s *mafia.Session) { assert.Equal(t, mafia.FactionMafia, s.State.Winner) })
}

func TestReinitialize_CancelsPendingDayStart(t *testing.T) {
	h := newHarness(t, 5, 15)
	h.toNight(t)
	for _, id := range h.members(mafia.JobMafia, false) {
		h.send(id, mafia.TopicMafiaTarget, target(h.firstGood()))
	}
	h.send(h.ids[0], station.TopicRoundInitialize, "")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, mafia.StageInitial, h.stage())
}

func TestSnapshot_IsAsymmetric(t *testing.T) {
	h := newHarness(t, 5, 16)
	h.toNight(t)
	boss := h.members(mafia.JobMafia, false)[0]
	good := h.firstGood()
	h.send(good, mafia.TopicMemo, `{"memo":"suspect player-2"}`)
	h.send(boss, mafia.TopicMafiaTarget, target(good))

	snap, ok := h.engine.Snapshot(sid, boss)
	require.True(t, ok)
	bossView := snap.State.(mafia.Snapshot)
	assert.Equal(t, mafia.JobMafia, bossView.Me.Job)
	assert.Equal(t, []station.UserID{boss}, bossView.Team)
	require.NotNil(t, bossView.PendingKill)
	assert.Equal(t, good, *bossView.PendingKill)
	assert.Empty(t, bossView.Me.Memo)
	assert.Empty(t, bossView.Roles)

	snap, ok = h.engine.Snapshot(sid, good)
	require.True(t, ok)
	goodView := snap.State.(mafia.Snapshot)
	assert.Equal(t, mafia.JobCitizen, goodView.Me.Job)
	assert.Empty(t, goodView.Team)
	assert.Nil(t, goodView.PendingKill)
	assert.Equal(t, "suspect player-2", goodView.Me.Memo)
	assert.Empty(t, goodView.Roles)

	h.send(h.ids[0], station.TopicRoundEnded, "")
	snap, ok = h.engine.Snapshot(sid, good)
	require.True(t, ok)
	assert.Len(t, snap.State.(mafia.Snapshot).Roles, 5)
}

func TestMemo_RejectsOversized(t *testing.T) {
	h := newHarness(t, 4, 17)
	h.send(h.ids[0], station.TopicRoundInitialize, "")
	long := make([]byte, mafia.MaxMemoLength+1)
	for i := range long {
		long[i] = 'x'
	}
	h.send(h.ids[1], mafia.TopicMemo, fmt.Sprintf(`{"memo":%q}`, string(long)))
	assert.Equal(t, 1, h.recorder.Rejections("memo too long"))
}

func TestTally_UniquePlurality(t *testing.T) {
	counts, winner, unique := mafia.Tally(map[station.UserID]station.UserID{1: 5, 2: 5, 3: 6})
	assert.True(t, unique)
	assert.Equal(t, station.UserID(5), winner)
	assert.Equal(t, map[station.UserID]int{5: 2, 6: 1}, counts)

	_, winner, unique = mafia.Tally(map[station.UserID]station.UserID{1: 5, 2: 6})
	assert.False(t, unique)
	assert.Zero(t, winner)

	_, _, unique = mafia.Tally(nil)
	assert.False(t, unique)
}

func TestDayVote_TieNeverReachesExecutionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(mafia.MinPlayers, 10).Draw(rt, "players")
		h := buildHarness(zap.NewNop(), n, rapid.Uint64().Draw(rt, "seed"))
		h.send(h.ids[0], station.TopicRoundStart, "")
		h.send(h.ids[0], mafia.TopicSetRoles, "")
		h.view(func(s *mafia.Session) { s.State.Stage = mafia.StageVoteForExecution })

		votes := make(map[station.UserID]station.UserID, n)
		for _, voter := range h.ids {
			choice := h.ids[rapid.IntRange(0, n-1).Draw(rt, "target")]
			votes[voter] = choice
			h.send(voter, mafia.TopicVote, target(choice))
		}
		_, _, unique := mafia.Tally(votes)
		got := h.stage()
		if unique && got != mafia.StageExecutionConfirm {
			rt.Fatalf("unique plurality should confirm execution, got %s", got)
		}
		if !unique && got != mafia.StageWaitingForRevote {
			rt.Fatalf("tied plurality should wait for revote, got %s", got)
		}
	})
}
