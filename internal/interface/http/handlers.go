package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"
	_ "time/tzdata" // world clock zones without system zoneinfo

	"github.com/chronos-os/chronos/internal/application/command"
	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/chronos-os/chronos/internal/infrastructure/calendar"
	"github.com/chronos-os/chronos/internal/infrastructure/messaging"
	"github.com/chronos-os/chronos/internal/infrastructure/scheduler"
	"github.com/chronos-os/chronos/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain error kinds onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case shared.IsNotFound(err):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case shared.IsAlreadyExists(err):
		writeJSONError(w, http.StatusConflict, "conflict", err.Error())
	case shared.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, "validation_error", err.Error())
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", getRequestID(r.Context()),
			"error", err,
		)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "The request could not be completed")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", "Request body must be valid JSON")
		return false
	}
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "Chronos",
		"version": s.deps.Version,
		"endpoints": map[string]string{
			"health":   "/api/health",
			"alarms":   "/api/alarms",
			"tasks":    "/api/tasks",
			"sounds":   "/api/sounds",
			"realtime": "/ws",
		},
	})
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status      string                             `json:"status"`
	Version     string                             `json:"version"`
	PID         int                                `json:"pid"`
	Platform    string                             `json:"platform"`
	GoVersion   string                             `json:"go_version"`
	Uptime      string                             `json:"uptime"`
	Checks      *handlers.HealthStatus             `json:"checks,omitempty"`
	Jobs        []scheduler.JobInfo                `json:"jobs,omitempty"`
	Events      *messaging.EventBusMetricsSnapshot `json:"events,omitempty"`
	Subscribers int                                `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Version:   s.deps.Version,
		PID:       os.Getpid(),
		Platform:  runtime.GOOS,
		GoVersion: runtime.Version(),
		Uptime:    s.Uptime().Round(time.Second).String(),
	}

	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		resp.Checks = &status
		if !status.Healthy {
			resp.Status = "degraded"
		}
	}
	if s.deps.Jobs != nil {
		resp.Jobs = s.deps.Jobs.ListJobs()
	}
	if s.deps.Events != nil {
		snap := s.deps.Events.Metrics().Snapshot()
		resp.Events = &snap
	}
	if s.deps.Subscribers != nil {
		resp.Subscribers = s.deps.Subscribers.Count()
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// WorldClockEntry is one city of GET /api/worldclock.
type WorldClockEntry struct {
	City   string `json:"city"`
	TZ     string `json:"tz"`
	Time   string `json:"time"`
	Time12 string `json:"time12"`
	Date   string `json:"date"`
	Hour   int    `json:"hour"`
	IsDay  bool   `json:"is_day"`
	Offset string `json:"offset"`
}

var worldZones = []struct{ city, tz string }{
	{"New York", "America/New_York"},
	{"London", "Europe/London"},
	{"Paris", "Europe/Paris"},
	{"Dubai", "Asia/Dubai"},
	{"Mumbai", "Asia/Kolkata"},
	{"Singapore", "Asia/Singapore"},
	{"Tokyo", "Asia/Tokyo"},
	{"Sydney", "Australia/Sydney"},
	{"Los Angeles", "America/Los_Angeles"},
	{"São Paulo", "America/Sao_Paulo"},
	{"Cairo", "Africa/Cairo"},
	{"Moscow", "Europe/Moscow"},
}

func (s *Server) handleWorldClock(w http.ResponseWriter, r *http.Request) {
	now := s.deps.Clock.Now()
	out := make([]WorldClockEntry, 0, len(worldZones))
	for _, z := range worldZones {
		loc, err := time.LoadLocation(z.tz)
		if err != nil {
			continue
		}
		t := now.In(loc)
		out = append(out, WorldClockEntry{
			City:   z.city,
			TZ:     z.tz,
			Time:   t.Format("15:04:05"),
			Time12: t.Format("03:04:05 PM"),
			Date:   t.Format("Mon, Jan 02"),
			Hour:   t.Hour(),
			IsDay:  t.Hour() >= 6 && t.Hour() < 20,
			Offset: t.Format("-0700"),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	feed := calendar.Feed{Now: s.deps.Clock.Now()}
	if err := feed.Write(&buf, s.deps.Alarms.List(r.Context()), s.deps.Tasks.List(r.Context())); err != nil {
		s.logger.Error("calendar export failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "calendar export failed")
		return
	}
	w.Header().Set("Content-Type", calendar.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="chronos.ics"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// ══════════════════════════════════════════════════════════════════════════════
// ALARM HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type createAlarmRequest struct {
	Time   string   `json:"time"`
	Label  string   `json:"label"`
	Sound  string   `json:"sound"`
	Repeat []string `json:"repeat"`
	Active *bool    `json:"active"`
}

type updateAlarmRequest struct {
	Time   *string   `json:"time"`
	Label  *string   `json:"label"`
	Sound  *string   `json:"sound"`
	Repeat *[]string `json:"repeat"`
	Active *bool     `json:"active"`
}

func (s *Server) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	alarms := s.deps.Alarms.List(r.Context())
	writeJSONWithMeta(w, r, http.StatusOK, alarms, &ResponseMeta{TotalCount: len(alarms)})
}

func (s *Server) handleCreateAlarm(w http.ResponseWriter, r *http.Request) {
	var req createAlarmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.deps.Alarms.Create(r.Context(), command.CreateAlarmCommand{
		Time:   req.Time,
		Label:  req.Label,
		Sound:  req.Sound,
		Repeat: req.Repeat,
		Active: req.Active,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleUpdateAlarm(w http.ResponseWriter, r *http.Request) {
	var req updateAlarmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.deps.Alarms.Update(r.Context(), command.UpdateAlarmCommand{
		ID:     r.PathValue("id"),
		Time:   req.Time,
		Label:  req.Label,
		Sound:  req.Sound,
		Repeat: req.Repeat,
		Active: req.Active,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAlarm(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Alarms.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismissAlarm(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Alarms.Dismiss(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleTestAlarm(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Alarms.Test(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// TASK HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type createTaskRequest struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Reminder *int   `json:"reminder"`
	Color    string `json:"color"`
}

type updateTaskRequest struct {
	Title    *string `json:"title"`
	Date     *string `json:"date"`
	Time     *string `json:"time"`
	Reminder *int    `json:"reminder"`
	Done     *bool   `json:"done"`
	Color    *string `json:"color"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.deps.Tasks.List(r.Context())
	writeJSONWithMeta(w, r, http.StatusOK, tasks, &ResponseMeta{TotalCount: len(tasks)})
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.deps.Tasks.Create(r.Context(), command.CreateTaskCommand{
		Title:    req.Title,
		Date:     req.Date,
		Time:     req.Time,
		Reminder: req.Reminder,
		Color:    req.Color,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.deps.Tasks.Update(r.Context(), command.UpdateTaskCommand{
		ID:       r.PathValue("id"),
		Title:    req.Title,
		Date:     req.Date,
		Time:     req.Time,
		Reminder: req.Reminder,
		Done:     req.Done,
		Color:    req.Color,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tasks.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// SOUND HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleListSounds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sounds.List(r.Context()))
}

// handleUploadSound handles POST /api/sounds/upload?name=... with a
// multipart "file" field.
func (s *Server) handleUploadSound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.config.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Sound file too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid_upload", "Expected a multipart form with a file field")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_upload", "Missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_upload", "Could not read the uploaded file")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = r.FormValue("name")
	}

	info, err := s.deps.Sounds.Upload(r.Context(), name, header.Filename, data)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleDeleteSound(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sounds.Delete(r.Context(), r.PathValue("name")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var audioContentTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// handleSoundAudio serves the file behind a sound_ref.
func (s *Server) handleSoundAudio(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("kind") + "/" + r.PathValue("file")
	data, ext, err := s.deps.SoundFiles.Open(ref)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	ct, ok := audioContentTypes[ext]
	if !ok {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ══════════════════════════════════════════════════════════════════════════════
// HISTORY HANDLER
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	firings, err := s.deps.History.Recent(r.Context(), getQueryParamInt(r, "limit", 0))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSONWithMeta(w, r, http.StatusOK, firings, &ResponseMeta{TotalCount: len(firings)})
}
