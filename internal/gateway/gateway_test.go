package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cory-johannsen/gamestation/internal/config"
	"github.com/cory-johannsen/gamestation/internal/directory"
	"github.com/cory-johannsen/gamestation/internal/gateway"
	"github.com/cory-johannsen/gamestation/internal/station"
	"github.com/cory-johannsen/gamestation/internal/station/stationtest"
	"github.com/cory-johannsen/gamestation/internal/station/tenseconds"
	"github.com/cory-johannsen/gamestation/internal/testutil"
)

const (
	fakeGame station.GameType = "fake"
	waitFor                   = 2 * time.Second
)

type metricsStub struct {
	opened, closed, dropped, unroutable atomic.Int64
}

func (m *metricsStub) ConnectionOpened() { m.opened.Add(1) }
func (m *metricsStub) ConnectionClosed() { m.closed.Add(1) }
func (m *metricsStub) FrameDropped()     { m.dropped.Add(1) }
func (m *metricsStub) FrameUnroutable()  { m.unroutable.Add(1) }

// fakeStation records routed messages and serves canned snapshots.
type fakeStation struct {
	mu       sync.Mutex
	received []station.Message
	live     bool
}

func (f *fakeStation) GameType() station.GameType { return fakeGame }

func (f *fakeStation) RouteMessage(_ context.Context, msg station.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, msg)
}

func (f *fakeStation) Snapshot(id station.SessionID, requester station.UserID) (*station.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live {
		return nil, false
	}
	return &station.Snapshot{SessionID: id, GameType: fakeGame, Started: true, State: map[string]int64{"requester": int64(requester)}}, true
}

func (f *fakeStation) CanReclaim(station.SessionID) bool { return false }
func (f *fakeStation) Reclaim() int                      { return 0 }
func (f *fakeStation) Destroy(station.SessionID)         {}
func (f *fakeStation) ActiveSessions() int               { return 0 }

func (f *fakeStation) messages() []station.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]station.Message(nil), f.received...)
}

type harness struct {
	srv     *httptest.Server
	hub     *gateway.Hub
	dir     *directory.Memory
	fake    *fakeStation
	metrics *metricsStub
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T, stations ...station.Station) *harness {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	dir := directory.NewMemory()
	stationtest.Roster(dir, 10, fakeGame, 2)
	dir.PutUser(station.User{ID: 3, DisplayName: "player-3"})
	dir.PutSession(station.SessionInfo{ID: 11, CreatorID: 3, Participants: []station.UserID{3}, GameType: "chess"})

	fake := &fakeStation{}
	router, err := station.NewRouter(logger, append([]station.Station{fake}, stations...)...)
	require.NoError(t, err)

	m := &metricsStub{}
	hub := gateway.NewHub(logger, m)
	cfg := config.GatewayConfig{SendBuffer: 16, WriteTimeout: time.Second, UserHeader: "X-User-ID"}
	gw := gateway.New(cfg, hub, router, dir, gateway.HeaderAuthenticator{Header: cfg.UserHeader}, m, logger)

	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &harness{srv: srv, hub: hub, dir: dir, fake: fake, metrics: m, logs: logs}
}

func (h *harness) connect(t *testing.T, user station.UserID) *testutil.WSClient {
	t.Helper()
	header := http.Header{}
	header.Set("X-User-ID", strconv.FormatInt(int64(user), 10))
	c := testutil.NewWSClient(t, h.srv.URL, header)
	require.Eventually(t, func() bool { return h.hub.Connected(user) }, waitFor, 5*time.Millisecond)
	return c
}

func TestGateway_RejectsUnauthenticated(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, h.metrics.opened.Load())
}

func TestGateway_RoutesFramesWithCreatorFlag(t *testing.T) {
	h := newHarness(t)
	creator := h.connect(t, 1)
	other := h.connect(t, 2)

	other.Send(map[string]any{"sessionId": 10, "topic": "fake/ping", "payload": map[string]int{"x": 1}})
	creator.Send(map[string]any{"sessionId": 10, "topic": "fake/ping"})

	require.Eventually(t, func() bool { return len(h.fake.messages()) == 2 }, waitFor, 5*time.Millisecond)
	msgs := h.fake.messages()
	bySender := map[station.UserID]station.Message{msgs[0].SenderID: msgs[0], msgs[1].SenderID: msgs[1]}

	require.Contains(t, bySender, station.UserID(2))
	assert.False(t, bySender[2].IsCreator)
	assert.Equal(t, station.SessionID(10), bySender[2].SessionID)
	assert.Equal(t, "fake/ping", bySender[2].Topic)
	assert.JSONEq(t, `{"x":1}`, string(bySender[2].Payload))

	require.Contains(t, bySender, station.UserID(1))
	assert.True(t, bySender[1].IsCreator)
}

func TestGateway_NotifierReachesRoomMembers(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, 1)
	b := h.connect(t, 2)

	h.hub.Broadcast(10, "fake/tick", map[string]int{"n": 1})
	for _, c := range []*testutil.WSClient{a, b} {
		f := c.Read(waitFor)
		assert.Equal(t, gateway.FrameInGame, f.Type)
		assert.Equal(t, int64(10), f.SessionID)
		assert.Equal(t, "fake/tick", f.Topic)
		assert.JSONEq(t, `{"n":1}`, string(f.Payload))
	}

	h.hub.Multicast(1, 10, "fake/others", nil)
	assert.Equal(t, "fake/others", b.Read(waitFor).Topic)

	h.hub.Unicast(1, 10, "fake/private", map[string]string{"to": "one"})
	f := a.Read(waitFor)
	assert.Equal(t, "fake/private", f.Topic, "multicast must skip the excluded user")
	b.ExpectSilence(100 * time.Millisecond)
}

func TestGateway_SnapshotRequest(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, 2)

	c.Send(map[string]any{"sessionId": 10, "topic": station.TopicSnapshot})
	require.Eventually(t, func() bool { return h.metrics.unroutable.Load() == 1 }, waitFor, 5*time.Millisecond)

	h.fake.mu.Lock()
	h.fake.live = true
	h.fake.mu.Unlock()

	c.Send(map[string]any{"sessionId": 10, "topic": station.TopicSnapshot})
	f := c.Read(waitFor)
	assert.Equal(t, gateway.FrameSnapshot, f.Type)
	assert.Equal(t, station.TopicSnapshot, f.Topic)

	var snap station.Snapshot
	require.NoError(t, json.Unmarshal(f.Payload, &snap))
	assert.Equal(t, station.SessionID(10), snap.SessionID)
	assert.True(t, snap.Started)
	assert.Empty(t, h.fake.messages(), "snapshot requests are not routed")
}

func TestGateway_DropsUnroutableFrames(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, 3)

	c.SendRaw("{not json")
	c.Send(map[string]any{"sessionId": 10})
	c.Send(map[string]any{"sessionId": 99, "topic": "fake/ping"})
	c.Send(map[string]any{"sessionId": 10, "topic": "fake/ping"})
	c.Send(map[string]any{"sessionId": 11, "topic": "chess/move"})

	require.Eventually(t, func() bool { return h.metrics.unroutable.Load() == 5 }, waitFor, 5*time.Millisecond)
	assert.Empty(t, h.fake.messages())
	assert.Equal(t, 1, h.logs.FilterMessage("no station for message").Len())
}

func TestGateway_JoinsRoomOnFirstFrame(t *testing.T) {
	h := newHarness(t)
	h.fake.mu.Lock()
	h.fake.live = true
	h.fake.mu.Unlock()
	c := h.connect(t, 3)

	h.dir.PutSession(station.SessionInfo{ID: 12, CreatorID: 3, Participants: []station.UserID{3}, GameType: fakeGame})
	h.hub.Broadcast(12, "fake/tick", nil)
	c.Send(map[string]any{"sessionId": 12, "topic": station.TopicSnapshot})
	assert.Equal(t, gateway.FrameSnapshot, c.Read(waitFor).Type, "sessions created after connect are not joined yet")

	h.hub.Broadcast(12, "fake/tick", nil)
	assert.Equal(t, "fake/tick", c.Read(waitFor).Topic)
}

func TestGateway_ConnectionMetrics(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t, 1)
	assert.Equal(t, int64(1), h.metrics.opened.Load())

	c.Close()
	require.Eventually(t, func() bool { return h.metrics.closed.Load() == 1 }, waitFor, 5*time.Millisecond)
	assert.False(t, h.hub.Connected(1))
	assert.Equal(t, 1, h.logs.FilterMessage("client disconnected").Len())
}

func TestGateway_ReconnectReplacesConnection(t *testing.T) {
	h := newHarness(t)
	first := h.connect(t, 1)
	require.Equal(t, 1, h.logs.FilterMessage("client connected").Len())

	second := h.connect(t, 1)
	require.Eventually(t, func() bool { return h.logs.FilterMessage("replacing connection").Len() == 1 }, waitFor, 5*time.Millisecond)

	h.hub.Unicast(1, 10, "fake/private", nil)
	assert.Equal(t, "fake/private", second.Read(waitFor).Topic)
	first.ExpectSilence(100 * time.Millisecond)
}

func TestGateway_EndToEndTenSeconds(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	dir := directory.NewMemory()
	ids := stationtest.Roster(dir, 20, tenseconds.GameType, 2)

	hub := gateway.NewHub(zap.New(core), nil)
	engine := station.NewEngine[*tenseconds.SessionState, *tenseconds.MemberState](tenseconds.New(), dir, dir, hub)
	t.Cleanup(func() { engine.Destroy(20) })
	router, err := station.NewRouter(zap.New(core), engine)
	require.NoError(t, err)

	cfg := config.GatewayConfig{SendBuffer: 16, WriteTimeout: time.Second, UserHeader: "X-User-ID"}
	gw := gateway.New(cfg, hub, router, dir, gateway.HeaderAuthenticator{Header: cfg.UserHeader}, nil, zap.New(core))
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	clients := make([]*testutil.WSClient, 0, len(ids))
	for _, id := range ids {
		header := http.Header{}
		header.Set("X-User-ID", strconv.FormatInt(int64(id), 10))
		clients = append(clients, testutil.NewWSClient(t, srv.URL, header))
		require.Eventually(t, func() bool { return hub.Connected(id) }, waitFor, 5*time.Millisecond)
	}

	clients[0].Send(map[string]any{"sessionId": 20, "topic": station.TopicRoundStart})
	for _, c := range clients {
		f := c.ReadUntil(station.TopicRoundStarted, waitFor)
		assert.Equal(t, int64(20), f.SessionID)
	}

	clients[1].Send(map[string]any{"sessionId": 20, "topic": station.TopicSnapshot})
	f := clients[1].ReadUntil(station.TopicSnapshot, waitFor)
	var snap station.Snapshot
	require.NoError(t, json.Unmarshal(f.Payload, &snap))
	assert.True(t, snap.Started)
	assert.Len(t, snap.Members, 2)
}

func TestGateway_DestroyedSessionLeavesRoom(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	dir := directory.NewMemory()
	ids := stationtest.Roster(dir, 21, tenseconds.GameType, 2)

	hub := gateway.NewHub(zap.New(core), nil)
	engine := station.NewEngine[*tenseconds.SessionState, *tenseconds.MemberState](tenseconds.New(), dir, dir, hub,
		station.WithDestroyHook(hub.CloseRoom))
	t.Cleanup(func() { engine.Destroy(21) })
	router, err := station.NewRouter(zap.New(core), engine)
	require.NoError(t, err)

	cfg := config.GatewayConfig{SendBuffer: 16, WriteTimeout: time.Second, UserHeader: "X-User-ID"}
	gw := gateway.New(cfg, hub, router, dir, gateway.HeaderAuthenticator{Header: cfg.UserHeader}, nil, zap.New(core))
	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	header := http.Header{}
	header.Set("X-User-ID", strconv.FormatInt(int64(ids[1]), 10))
	c := testutil.NewWSClient(t, srv.URL, header)
	require.Eventually(t, func() bool { return hub.Connected(ids[1]) }, waitFor, 5*time.Millisecond)

	c.Send(map[string]any{"sessionId": 21, "topic": station.TopicRoundInitialize})
	require.Eventually(t, func() bool { return engine.ActiveSessions() == 1 }, waitFor, 5*time.Millisecond)
	hub.Broadcast(21, "ten-seconds/tick", nil)
	assert.Equal(t, "ten-seconds/tick", c.ReadUntil("ten-seconds/tick", waitFor).Topic)

	router.Destroy(21)
	hub.Broadcast(21, "ten-seconds/tick", nil)
	c.ExpectSilence(100 * time.Millisecond)
}
