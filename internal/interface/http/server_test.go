package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chronos-os/chronos/internal/application/command"
	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/internal/domain/history"
	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/chronos-os/chronos/internal/infrastructure/messaging"
	"github.com/chronos-os/chronos/internal/infrastructure/persistence/filestore"
	"github.com/chronos-os/chronos/internal/infrastructure/playback"
	"github.com/chronos-os/chronos/internal/infrastructure/scheduler"
	"github.com/chronos-os/chronos/internal/interface/http/handlers"
	"github.com/chronos-os/chronos/pkg/timeutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

type testEnv struct {
	ts         *httptest.Server
	store      *filestore.Store
	controller *playback.Controller
	bus        *messaging.InMemoryEventBus
}

type fakeJobs struct{}

func (fakeJobs) ListJobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{Name: "alarm_tick", Enabled: true, Schedule: "@every 1s"}}
}

type fakeHistory struct{ limit int }

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]history.Firing, error) {
	f.limit = limit
	return []history.Firing{{ID: 1, Kind: shared.EventAlarmRing, AlarmID: "a1"}}, nil
}

func newTestEnv(t *testing.T, mutate func(*Dependencies)) *testEnv {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := filestore.Open(fs, "/data/records.json", quiet())
	require.NoError(t, err)
	lib, err := playback.OpenLibrary(fs, "/data/sounds")
	require.NoError(t, err)

	controller := playback.NewController(playback.ControllerConfig{
		Sink: playback.NullSink{}, Sounds: lib, Clearer: store, Logger: quiet(),
	})
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: quiet()})
	broadcaster := messaging.NewBroadcaster(messaging.BroadcasterConfig{Logger: quiet()})
	clock := timeutil.NewFakeClock(time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC))

	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("store", func(context.Context) error { return nil })

	deps := Dependencies{
		Alarms: command.NewAlarmHandler(command.AlarmHandlerConfig{
			Store: store, Playback: controller, Publisher: bus, Clock: clock, Logger: quiet(),
		}),
		Tasks:         command.NewTaskHandler(store, quiet()),
		Sounds:        command.NewSoundHandler(lib, quiet()),
		SoundFiles:    lib,
		HealthChecker: checker,
		Jobs:          fakeJobs{},
		Events:        bus,
		Subscribers:   broadcaster,
		Clock:         clock,
		Version:       "test",
		Logger:        quiet(),
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv := NewServer(DefaultConfig(), deps)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = bus.Close() })

	return &testEnv{ts: ts, store: store, controller: controller, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env))
	}
	return resp, env
}

func TestServer_AlarmLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/alarms", map[string]any{"time": "07:00", "label": "wake"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, body.Success)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var created alarm.Alarm
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.Equal(t, "07:00", created.Time)
	assert.Equal(t, alarm.DefaultSound, created.Sound)

	resp, body = env.do(t, http.MethodGet, "/api/alarms", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, body.Meta.TotalCount)

	_, err := env.store.UpdateAlarm(created.ID, func(a *alarm.Alarm) error {
		return a.MarkFired(time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC))
	})
	require.NoError(t, err)
	a, err := env.store.GetAlarm(created.ID)
	require.NoError(t, err)
	require.True(t, env.controller.Start(a))

	resp, body = env.do(t, http.MethodPost, "/api/alarms/"+created.ID+"/dismiss", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dismissed alarm.Alarm
	require.NoError(t, json.Unmarshal(body.Data, &dismissed))
	assert.False(t, dismissed.Ringing)
	assert.False(t, dismissed.Active)
	assert.False(t, env.controller.IsPlaying(created.ID))

	resp, _ = env.do(t, http.MethodPost, "/api/alarms/"+created.ID+"/dismiss", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodPatch, "/api/alarms/"+created.ID, map[string]any{"active": true, "repeat": []string{"Fri", "Mon"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var patched alarm.Alarm
	require.NoError(t, json.Unmarshal(body.Data, &patched))
	assert.Equal(t, []string{"Mon", "Fri"}, patched.Repeat)
	assert.True(t, patched.Active)

	resp, _ = env.do(t, http.MethodDelete, "/api/alarms/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = env.do(t, http.MethodDelete, "/api/alarms/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, body.Error)
	assert.Equal(t, "not_found", body.Error.Code)
}

func TestServer_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/alarms", map[string]any{"time": "7am"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body.Error.Code)

	resp, body = env.do(t, http.MethodPost, "/api/tasks", map[string]any{"title": "x", "reminder": -5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", body.Error.Code)

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/api/tasks", strings.NewReader("{"))
	require.NoError(t, err)
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	resp, _ = env.do(t, http.MethodPatch, "/api/alarms/missing", map[string]any{"label": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_TaskCRUD(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodPost, "/api/tasks", map[string]any{"title": "Standup", "date": "2026-10-19", "time": "09:00"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID       string `json:"id"`
		Reminder int    `json:"reminder"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.Equal(t, 10, created.Reminder)

	resp, _ = env.do(t, http.MethodPatch, "/api/tasks/"+created.ID, map[string]any{"done": true})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/tasks", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, body.Meta.TotalCount)

	resp, _ = env.do(t, http.MethodDelete, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func upload(t *testing.T, url, name, filename string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url+"/api/sounds/upload?name="+name, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestServer_Sounds(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/sounds", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sounds []playback.SoundInfo
	require.NoError(t, json.Unmarshal(body.Data, &sounds))
	require.Len(t, sounds, len(playback.Builtins))

	assert.Equal(t, http.StatusConflict, upload(t, env.ts.URL, "Deep%20Horn", "horn.wav", []byte("x")).StatusCode)
	assert.Equal(t, http.StatusBadRequest, upload(t, env.ts.URL, "Tone", "tone.exe", []byte("x")).StatusCode)
	assert.Equal(t, http.StatusBadRequest, upload(t, env.ts.URL, "Broken", "broken.mp3", []byte("ID3")).StatusCode)
	assert.Equal(t, http.StatusBadRequest, upload(t, env.ts.URL, "Voice", "voice.m4a", []byte("x")).StatusCode)

	tone := playback.EncodeWAV(playback.DeviceFormat, make([]byte, 882))
	assert.Equal(t, http.StatusCreated, upload(t, env.ts.URL, "My%20Tone", "tone.wav", tone).StatusCode)
	assert.Equal(t, http.StatusConflict, upload(t, env.ts.URL, "my%20tone", "tone.wav", tone).StatusCode)

	audio, err := http.Get(env.ts.URL + "/api/sounds/audio/custom/my_tone.wav")
	require.NoError(t, err)
	data, _ := io.ReadAll(audio.Body)
	audio.Body.Close()
	assert.Equal(t, http.StatusOK, audio.StatusCode)
	assert.Equal(t, "audio/wav", audio.Header.Get("Content-Type"))
	assert.Equal(t, tone, data)

	builtin, err := http.Get(env.ts.URL + "/api/sounds/audio/builtin/classic_beep")
	require.NoError(t, err)
	builtin.Body.Close()
	assert.Equal(t, "audio/wav", builtin.Header.Get("Content-Type"))

	resp, _ = env.do(t, http.MethodDelete, "/api/sounds/Classic%20Beep", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, "/api/sounds/My%20Tone", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(body.Data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	require.Len(t, health.Jobs, 1)
	assert.Equal(t, "alarm_tick", health.Jobs[0].Name)
	require.NotNil(t, health.Events)
	assert.True(t, health.Checks.Healthy)
}

func TestServer_HealthDegraded(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) {
		c := handlers.NewCompositeHealthChecker("test")
		c.AddCheck("scheduler", handlers.NewRunningCheck(func() bool { return false }))
		d.HealthChecker = c
	})

	resp, body := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, body.Success)
}

func TestServer_WorldClock(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, body := env.do(t, http.MethodGet, "/api/worldclock", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []WorldClockEntry
	require.NoError(t, json.Unmarshal(body.Data, &entries))
	require.Len(t, entries, len(worldZones))
	assert.Equal(t, "Tokyo", entries[6].City)
	assert.Equal(t, "16:00:00", entries[6].Time)
	assert.Equal(t, "+0900", entries[6].Offset)
}

func TestServer_CalendarFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.do(t, http.MethodPost, "/api/alarms", map[string]any{
		"time": "08:00", "label": "Coffee", "repeat": []string{"Mon", "Tue"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err := http.Get(env.ts.URL + "/api/calendar.ics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/calendar"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	ics := string(raw)
	assert.Contains(t, ics, "SUMMARY:Coffee")
	assert.Contains(t, ics, "RRULE:FREQ=WEEKLY;BYDAY=MO,TU")
}

func TestServer_HistoryRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, _ := env.do(t, http.MethodGet, "/api/history", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	history := &fakeHistory{}
	env = newTestEnv(t, func(d *Dependencies) { d.History = history })
	resp, body := env.do(t, http.MethodGet, "/api/history?limit=5", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, history.limit)
	assert.Equal(t, 1, body.Meta.TotalCount)
}

func TestServer_CORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req, err := http.NewRequest(http.MethodOptions, env.ts.URL+"/api/alarms", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_RecoversFromPanics(t *testing.T) {
	srv := NewServer(DefaultConfig(), Dependencies{Logger: quiet()})
	srv.router.HandleFunc("GET /boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
