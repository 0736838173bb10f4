package machine

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kieranjwhite/calendar-mirror-sub000/internal/calendarapi"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/layout"
	"github.com/kieranjwhite/calendar-mirror-sub000/internal/render"
)

func testEngine(t *testing.T, api *calendarapi.Adapter, tokenPath string) *Engine {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	go io_discard(server)

	pipe := render.NewPipelineWithConn(client)
	renderer := render.New(pipe, layout.New(layout.Dims{Width: 20, Height: 8}))

	return &Engine{
		API:       api,
		TokenPath: tokenPath,
		Renderer:  renderer,
		Clock:     time.Now,
		Sleep:     func(time.Duration) {},
		Cancelled: &atomic.Bool{},
	}
}

// io_discard drains frames so Renderer.*'s blocking net.Pipe writes don't stall.
func io_discard(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func TestLoadAuthWithNoTokenFileGoesToRequestCodes(t *testing.T) {
	e := testEngine(t, calendarapi.New(calendarapi.Config{}), filepath.Join(t.TempDir(), "absent.json"))
	next, err := LoadAuth{}.Step(e)
	require.NoError(t, err)
	assert.IsType(t, RequestCodes{}, next)
}

func TestLoadAuthWithTokenGoesToRefreshAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"0":"saved-token"}`), 0o600))

	e := testEngine(t, calendarapi.New(calendarapi.Config{}), path)
	next, err := LoadAuth{}.Step(e)
	require.NoError(t, err)
	require.IsType(t, RefreshAuth{}, next)
	assert.Equal(t, "saved-token", next.(RefreshAuth).RefreshToken)
}

func TestDeviceAuthPollAuthorizationPendingRetriesSameInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(calendarapi.PollErrorResponse{Error: calendarapi.ErrAuthorizationPending})
	}))
	defer srv.Close()

	api := calendarapi.New(calendarapi.Config{PollURL: srv.URL})
	e := testEngine(t, api, filepath.Join(t.TempDir(), "token.json"))

	start := DeviceAuthPoll{DeviceCode: "D", Interval: 5 * time.Second}
	next, err := start.Step(e)
	require.NoError(t, err)
	require.IsType(t, DeviceAuthPoll{}, next)
	assert.Equal(t, 5*time.Second, next.(DeviceAuthPoll).Interval)
}

func TestDeviceAuthPollSlowDownDoublesInterval(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(calendarapi.PollErrorResponse{Error: calendarapi.ErrSlowDown})
	}))
	defer srv.Close()

	api := calendarapi.New(calendarapi.Config{PollURL: srv.URL})
	e := testEngine(t, api, filepath.Join(t.TempDir(), "token.json"))

	start := DeviceAuthPoll{DeviceCode: "D", Interval: 5 * time.Second}
	next, err := start.Step(e)
	require.NoError(t, err)
	require.IsType(t, DeviceAuthPoll{}, next)
	assert.Equal(t, 10*time.Second, next.(DeviceAuthPoll).Interval)
}

func TestDeviceAuthPollSuccessPersistsTokenAndMovesToReadFirstEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(calendarapi.PollResponse{
			AccessToken: "T", RefreshToken: "R", ExpiresIn: 3600, TokenType: calendarapi.TokenType,
		})
	}))
	defer srv.Close()

	tokenPath := filepath.Join(t.TempDir(), "token.json")
	api := calendarapi.New(calendarapi.Config{PollURL: srv.URL})
	e := testEngine(t, api, tokenPath)

	next, err := (DeviceAuthPoll{DeviceCode: "D", Interval: time.Millisecond}).Step(e)
	require.NoError(t, err)
	require.IsType(t, ReadFirstEvents{}, next)

	saved, err := os.ReadFile(tokenPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"0":"R"}`, string(saved))
}

func TestDeviceAuthPollAccessDeniedIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(calendarapi.PollErrorResponse{Error: calendarapi.ErrAccessDenied})
	}))
	defer srv.Close()

	api := calendarapi.New(calendarapi.Config{PollURL: srv.URL})
	e := testEngine(t, api, filepath.Join(t.TempDir(), "token.json"))

	next, err := (DeviceAuthPoll{DeviceCode: "D", Interval: time.Millisecond}).Step(e)
	require.NoError(t, err)
	assert.IsType(t, DisplayError{}, next)
}

func TestRefreshAuthTransportErrorEntersCachedDisplay(t *testing.T) {
	api := calendarapi.New(calendarapi.Config{PollURL: "http://127.0.0.1:1"})
	e := testEngine(t, api, filepath.Join(t.TempDir(), "token.json"))

	next, err := (RefreshAuth{RefreshToken: "R", PendingDate: startOfDay(time.Now())}).Step(e)
	require.NoError(t, err)
	assert.IsType(t, CachedDisplay{}, next)
}

func TestNewEnginePollTickDefaultsWhenUnset(t *testing.T) {
	e := machine_NewEngineForTest(t, 0)
	assert.Equal(t, defaultPollTick, e.pollTick())
}

func TestNewEnginePollTickHonorsConfiguredInterval(t *testing.T) {
	e := machine_NewEngineForTest(t, 50*time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, e.pollTick())
}

func machine_NewEngineForTest(t *testing.T, interval time.Duration) *Engine {
	t.Helper()
	api := calendarapi.New(calendarapi.Config{})
	return NewEngine(api, filepath.Join(t.TempDir(), "token.json"), nil, nil, interval)
}

func TestClampVPosStaysWithinBounds(t *testing.T) {
	assert.Equal(t, 0, clampVPos(-1, 10))
	assert.Equal(t, 10, clampVPos(100, 10))
	assert.Equal(t, 5, clampVPos(5, 10))
}

func TestDayRolloverDuringPagingDivertsToRefreshAuth(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(calendarapi.EventsResponse{Items: nil})
	}))
	defer srv.Close()

	api := calendarapi.New(calendarapi.Config{ListEventsURL: srv.URL})
	e := testEngine(t, api, filepath.Join(t.TempDir(), "token.json"))
	e.Clock = func() time.Time { return jan2 }

	next, err := (ReadFirstEvents{
		Creds:       AccessCredentials{AccessToken: "T"},
		RefreshedAt: RefreshedAt(jan1),
		RefreshType: Full,
		PendingDate: jan1,
		Today:       jan1,
	}).Step(e)
	require.NoError(t, err)
	require.IsType(t, RefreshAuth{}, next)
	assert.True(t, next.(RefreshAuth).PendingDate.Equal(jan2))
}

func testEvent(summary string, startHour int) calendarapi.Event {
	start := time.Date(2024, 1, 1, startHour, 0, 0, 0, time.UTC).Format(time.RFC3339)
	end := time.Date(2024, 1, 1, startHour+1, 0, 0, 0, time.UTC).Format(time.RFC3339)
	return calendarapi.Event{
		Summary: summary,
		Start:   calendarapi.EventDateTime{DateTime: &start},
		End:     calendarapi.EventDateTime{DateTime: &end},
	}
}

func TestPagingAccumulatesAcrossPagesThenEntersPollEvents(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			next := "p2"
			json.NewEncoder(w).Encode(calendarapi.EventsResponse{
				Items:         []calendarapi.Event{testEvent("A", 9), testEvent("B", 10)},
				NextPageToken: &next,
			})
			return
		}
		json.NewEncoder(w).Encode(calendarapi.EventsResponse{Items: []calendarapi.Event{testEvent("C", 11)}})
	}))
	defer srv.Close()

	today := startOfDay(time.Now())
	api := calendarapi.New(calendarapi.Config{ListEventsURL: srv.URL})
	e := testEngine(t, api, filepath.Join(t.TempDir(), "token.json"))

	next, err := (ReadFirstEvents{
		Creds:       AccessCredentials{AccessToken: "T"},
		RefreshedAt: RefreshedAt(time.Now()),
		RefreshType: Full,
		PendingDate: today,
		Today:       today,
	}).Step(e)
	require.NoError(t, err)
	require.IsType(t, PageEvents{}, next)

	final, err := next.(PageEvents).Step(e)
	require.NoError(t, err)
	require.IsType(t, PollEvents{}, final)
	assert.Len(t, final.(PollEvents).Events, 3)
	assert.Equal(t, 2, calls)
}
