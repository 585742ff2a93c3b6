package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/investmate/assets"
	"github.com/ykvlv/investmate/internal/audio"
	"github.com/ykvlv/investmate/internal/config"
	"github.com/ykvlv/investmate/internal/domain"
	"github.com/ykvlv/investmate/internal/state"
)

func testConfig() config.Config {
	return config.Config{
		LogLevel:      "info",
		HTTPAddr:      "127.0.0.1:0",
		DefaultTZ:     "Asia/Kolkata",
		SeedUser:      "u1",
		DBPath:        ":memory:",
		SweepInterval: time.Second,
		GeminiModel:   "gemini-2.5-flash",
	}
}

func TestNewRejectsBadTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultTZ = "Mars/Olympus"
	_, err := New(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestHTTPEndpoints(t *testing.T) {
	a, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)
	a.metrics.AlertFired(string(domain.AlertNews))

	srv := httptest.NewServer(a.httpSrv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body strings.Builder
	_, _ = body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), "investmate_alerts_fired_total")
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRoomSpeakers(t *testing.T) {
	speakers := roomSpeakers(assets.MustLoadSeed())
	require.Len(t, speakers, 5)

	hosts := 0
	for _, s := range speakers {
		if s.Role == domain.RoleHost {
			hosts++
			assert.True(t, s.User.IsPro)
		}
		assert.Equal(t, s.UserID, s.User.ID)
	}
	assert.Equal(t, 1, hosts)
	assert.Len(t, domain.EligibleSpeakers(speakers), 4)
}

func newTestRooms(t *testing.T, a *App, user string) (*audio.Rooms, *state.Store) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	app, err := state.New(a.seed, user, clock)
	require.NoError(t, err)
	tr := audio.NewTransport(zap.NewNop(), audio.Options{Clock: clock})
	rooms := audio.NewRooms(app, tr, nil, zap.NewNop(), clock)
	t.Cleanup(rooms.Leave)
	return rooms, app
}

func TestOpenLiveRoomEntersForMember(t *testing.T) {
	a, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)
	rooms, _ := newTestRooms(t, a, "u1")

	require.NoError(t, a.openLiveRoom(rooms))
	live := rooms.Live()
	require.Len(t, live, 1)
	assert.Equal(t, "c1", live[0].ClubID)
	active, in := rooms.Active()
	require.True(t, in)
	assert.Equal(t, live[0].ID, active.ID)
}

func TestOpenLiveRoomSkipsNonMember(t *testing.T) {
	a, err := New(testConfig(), zap.NewNop())
	require.NoError(t, err)
	rooms, app := newTestRooms(t, a, "u1")
	require.NoError(t, app.LeaveClub(liveClub))

	require.NoError(t, a.openLiveRoom(rooms))
	_, in := rooms.Active()
	assert.False(t, in)
	assert.Len(t, rooms.Live(), 1)
}
