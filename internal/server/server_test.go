// ABOUTME: Tests for the reference server
// ABOUTME: Drives the sync and media player endpoints with the real clients
package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loopsync/loopsync-go/internal/client"
	"github.com/loopsync/loopsync-go/internal/protocol"
	internalsync "github.com/loopsync/loopsync-go/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, config Config) (*Server, *httptest.Server) {
	t.Helper()
	if config.Name == "" {
		config.Name = "test"
	}
	s := New(config)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHTTPSync(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	ref, err := client.NewHTTPTimeReference(client.HTTPConfig{BaseURL: ts.URL})
	require.NoError(t, err)

	before := s.Now()
	stamps, err := ref.Sync(context.Background(), 12345)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, stamps.ReceivedAt, before)
	assert.GreaterOrEqual(t, stamps.SentAt, stamps.ReceivedAt)
	assert.LessOrEqual(t, stamps.SentAt, s.Now())
}

func TestHTTPSyncRejectsBadQuery(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + protocol.SyncPath + "?reqSentAt=soon")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPasswordCheck(t *testing.T) {
	_, ts := newTestServer(t, Config{Password: "hunter2"})

	wrong, err := client.NewHTTPTimeReference(client.HTTPConfig{BaseURL: ts.URL, Password: "nope"})
	require.NoError(t, err)
	_, err = wrong.Sync(context.Background(), 1)
	require.ErrorIs(t, err, client.ErrStatus)

	right, err := client.NewHTTPTimeReference(client.HTTPConfig{BaseURL: ts.URL, Password: "hunter2"})
	require.NoError(t, err)
	_, err = right.Sync(context.Background(), 1)
	assert.NoError(t, err)
}

func TestWebSocketSync(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	ref, err := client.NewWSTimeReference(client.WSConfig{ServerURL: ts.URL, Name: "kitchen", PlayerID: "7"})
	require.NoError(t, err)
	defer ref.Close()

	for i := int64(1); i <= 3; i++ {
		stamps, err := ref.Sync(context.Background(), i)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, stamps.SentAt, stamps.ReceivedAt)
	}

	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	status := s.status()
	require.Len(t, status.Clients, 1)
	assert.Equal(t, "kitchen", status.Clients[0].Name)
	assert.Equal(t, "7", status.Clients[0].PlayerID)
	assert.Equal(t, int64(3), status.Clients[0].Probes)

	require.NoError(t, ref.Close())
	assert.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestClockSyncAgainstServer(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	ref, err := client.NewHTTPTimeReference(client.HTTPConfig{BaseURL: ts.URL})
	require.NoError(t, err)

	cs := internalsync.NewClockSync(internalsync.NewMonotonicClock(), ref, internalsync.Config{SampleCount: 10})
	result := cs.RunSync(context.Background())

	// Both clocks read the same wall clock, so the offset stays small.
	// Identical samples can be discarded as outliers, which keeps offset 0.
	assert.NotEqual(t, internalsync.OutcomeNoSamples, result.Outcome)
	assert.InDelta(t, 0, cs.Offset(), 50)
}

func TestMediaPlayerEndpoints(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	s.Players().Put("42", protocol.MediaPlayer{Nickname: "lobby", Volume: 60})

	backend, err := client.NewBackend(client.HTTPConfig{BaseURL: ts.URL})
	require.NoError(t, err)

	player, err := backend.GetMediaPlayer(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), player.ID)
	assert.Equal(t, "lobby", player.Nickname)
	assert.Equal(t, 60, player.Volume)

	duration := int64(25000)
	require.NoError(t, backend.UpdateMediaPlayer(context.Background(), "42", protocol.MediaPlayerUpdate{Duration: &duration}))

	stamp := int64(1_700_000_000_000)
	require.NoError(t, backend.UpdateMediaPlayer(context.Background(), "42", protocol.MediaPlayerUpdate{LastTimestamp: &stamp}))

	got, ok := s.Players().Get("42")
	require.True(t, ok)
	assert.Equal(t, int64(25000), got.Duration)
	assert.Equal(t, stamp, got.LastTimestamp)
	assert.Equal(t, "lobby", got.Nickname, "partial updates keep other fields")
	assert.Equal(t, 1, s.Players().Loops("42"))
}

func TestGetUnknownPlayer(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	backend, err := client.NewBackend(client.HTTPConfig{BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = backend.GetMediaPlayer(context.Background(), "404")
	assert.ErrorIs(t, err, client.ErrStatus)
}

func TestPatchCreatesPlayer(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	backend, err := client.NewBackend(client.HTTPConfig{BaseURL: ts.URL})
	require.NoError(t, err)

	duration := int64(5000)
	require.NoError(t, backend.UpdateMediaPlayer(context.Background(), "9", protocol.MediaPlayerUpdate{Duration: &duration}))

	got, ok := s.Players().Get("9")
	require.True(t, ok)
	assert.Equal(t, int64(9), got.ID)
	assert.Equal(t, 100, got.Volume)
	assert.Equal(t, 0, s.Players().Loops("9"))
}

func TestPatchValidation(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	tests := []struct {
		body string
		code int
	}{
		{`not json`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
		{`{"duration": -1}`, http.StatusUnprocessableEntity},
		{`{"lastTimestamp": 10}`, http.StatusOK},
	}

	for _, tt := range tests {
		req, err := http.NewRequest(http.MethodPatch, ts.URL+protocol.MediaPlayerPath+"1", strings.NewReader(tt.body))
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tt.code, resp.StatusCode, tt.body)
	}
}

func TestStatusListsPlayers(t *testing.T) {
	s := New(Config{Name: "studio", Port: 8927})
	s.Players().Put("2", protocol.MediaPlayer{Nickname: "b"})
	s.Players().Put("1", protocol.MediaPlayer{Nickname: "a"})

	status := s.status()
	assert.Equal(t, "studio", status.Name)
	require.Len(t, status.Players, 2)
	assert.Equal(t, "1", status.Players[0].ID)
	assert.Equal(t, "a", status.Players[0].Nickname)
	assert.Empty(t, status.Clients)
}

func TestTUIViewShowsPlayers(t *testing.T) {
	m := tuiModel{startTime: time.Now(), quitChan: make(chan struct{}, 1)}
	next, _ := m.Update(statusMsg(ServerStatus{
		Name:    "studio",
		Port:    8927,
		Players: []PlayerInfo{{ID: "3", DurationMs: 25000, Loops: 4}},
	}))

	view := next.View()
	assert.Contains(t, view, "studio")
	assert.Contains(t, view, "#3")
	assert.Contains(t, view, "4 loops")
	assert.Contains(t, view, "No clients connected")
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(Config{Name: "test"})
	s.Stop()
	s.Stop()

	select {
	case <-s.stopChan:
	default:
		t.Fatal("stop channel not closed")
	}
}
