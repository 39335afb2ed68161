package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/pkg/realtime"
	"github.com/chronos-os/chronos/pkg/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshots(t *testing.T) {
	got := snapshots([]alarm.Alarm{
		{ID: "a", Ringing: true, Sound: "Deep Horn", Label: "gym"},
		{ID: "b"},
	})
	assert.Equal(t, []realtime.AlarmSnapshot{
		{ID: "a", Ringing: true, Sound: "Deep Horn", Label: "gym"},
		{ID: "b"},
	}, got)
}

func TestResyncAndDismissFromTerminal(t *testing.T) {
	dismissed := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/alarms", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, []map[string]any{
			{"id": "a1", "time": "07:00", "label": "wake", "sound": "Classic Beep", "active": true, "ringing": true},
		}, "", "")
	})
	mux.HandleFunc("POST /api/alarms/{id}/dismiss", func(w http.ResponseWriter, r *http.Request) {
		dismissed <- r.PathValue("id")
		writeEnvelope(w, http.StatusOK, map[string]any{"id": r.PathValue("id")}, "", "")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var buf bytes.Buffer
	fx := &terminalEffects{w: &buf}
	clock := timeutil.NewFakeClock(time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC))
	rec := realtime.NewReconciler(realtime.ReconcilerConfig{Effects: fx, Clock: clock, Logger: quiet()})
	api := newAPIClient(srv.URL)

	require.NoError(t, resync(context.Background(), api, rec))
	assert.True(t, rec.IsRinging("a1"))
	assert.Contains(t, buf.String(), "RINGING  a1  wake (Classic Beep)")

	readCommands(context.Background(), strings.NewReader("garbage\nd a1\n"), api, rec, fx)

	assert.False(t, rec.IsRinging("a1"))
	assert.Equal(t, "a1", <-dismissed)
	assert.Contains(t, buf.String(), "stopped  a1")
}

func TestPrintRelayed(t *testing.T) {
	var buf bytes.Buffer
	printRelayed(&buf, `{"instance_id":"node-1","event":{"event":"task_reminder","task_id":"t1","title":"Standup","at":"2026-10-19T07:00:00Z"}}`)
	printRelayed(&buf, `not json`)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `task=t1 title="Standup"  [node-1]`)
	assert.Equal(t, "?? not json", lines[1])
}

func TestPrintAlarms(t *testing.T) {
	var buf bytes.Buffer
	printAlarms(&buf, nil)
	assert.Equal(t, "no alarms\n", buf.String())

	buf.Reset()
	printAlarms(&buf, []alarm.Alarm{
		{ID: "a1", Time: "07:30", Label: "gym", Sound: "Deep Horn", Repeat: []string{"Mon", "Fri"}, Active: true},
		{ID: "a2", Time: "08:00", Sound: "Classic Beep", Ringing: true},
	})
	out := buf.String()
	assert.Contains(t, out, "Mon,Fri")
	assert.Contains(t, out, "once")
	assert.Contains(t, out, "RINGING")
}

func TestSplitDays(t *testing.T) {
	assert.Equal(t, []string{"Mon", "Wed"}, splitDays(" Mon, ,Wed "))
	assert.Nil(t, splitDays(""))
}
