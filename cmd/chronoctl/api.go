package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/internal/domain/history"
	"github.com/chronos-os/chronos/internal/domain/task"
	"github.com/chronos-os/chronos/internal/infrastructure/playback"
)

// apiClient talks to the daemon's REST API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// envelope is the daemon's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// apiError is a non-2xx answer.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// wsURL is the realtime endpoint for the configured server.
func (c *apiClient) wsURL() (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *apiClient) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &apiError{Status: resp.StatusCode}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		e := &apiError{Status: resp.StatusCode}
		if env.Error != nil {
			e.Code, e.Message = env.Error.Code, env.Error.Message
		}
		return e
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Alarms
// ──────────────────────────────────────────────────────────────────────────────

func (c *apiClient) ListAlarms(ctx context.Context) ([]alarm.Alarm, error) {
	var out []alarm.Alarm
	err := c.do(ctx, http.MethodGet, "/api/alarms", nil, &out)
	return out, err
}

func (c *apiClient) CreateAlarm(ctx context.Context, body map[string]any) (alarm.Alarm, error) {
	var out alarm.Alarm
	err := c.do(ctx, http.MethodPost, "/api/alarms", body, &out)
	return out, err
}

func (c *apiClient) UpdateAlarm(ctx context.Context, id string, body map[string]any) (alarm.Alarm, error) {
	var out alarm.Alarm
	err := c.do(ctx, http.MethodPatch, "/api/alarms/"+url.PathEscape(id), body, &out)
	return out, err
}

func (c *apiClient) DeleteAlarm(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/alarms/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) DismissAlarm(ctx context.Context, id string) (alarm.Alarm, error) {
	var out alarm.Alarm
	err := c.do(ctx, http.MethodPost, "/api/alarms/"+url.PathEscape(id)+"/dismiss", nil, &out)
	return out, err
}

func (c *apiClient) TestAlarm(ctx context.Context, id string) (map[string]string, error) {
	var out map[string]string
	err := c.do(ctx, http.MethodPost, "/api/alarms/"+url.PathEscape(id)+"/test", nil, &out)
	return out, err
}

// ──────────────────────────────────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────────────────────────────────

func (c *apiClient) ListTasks(ctx context.Context) ([]task.Task, error) {
	var out []task.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &out)
	return out, err
}

func (c *apiClient) CreateTask(ctx context.Context, body map[string]any) (task.Task, error) {
	var out task.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", body, &out)
	return out, err
}

func (c *apiClient) UpdateTask(ctx context.Context, id string, body map[string]any) (task.Task, error) {
	var out task.Task
	err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), body, &out)
	return out, err
}

func (c *apiClient) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

// ──────────────────────────────────────────────────────────────────────────────
// Sounds, history
// ──────────────────────────────────────────────────────────────────────────────

func (c *apiClient) ListSounds(ctx context.Context) ([]playback.SoundInfo, error) {
	var out []playback.SoundInfo
	err := c.do(ctx, http.MethodGet, "/api/sounds", nil, &out)
	return out, err
}

func (c *apiClient) UploadSound(ctx context.Context, name, path string) (playback.SoundInfo, error) {
	var out playback.SoundInfo

	data, err := os.ReadFile(path)
	if err != nil {
		return out, err
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return out, err
	}
	if _, err := fw.Write(data); err != nil {
		return out, err
	}
	if err := mw.Close(); err != nil {
		return out, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/api/sounds/upload?name="+url.QueryEscape(name), &buf)
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	err = c.send(req, &out)
	return out, err
}

func (c *apiClient) DeleteSound(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/api/sounds/"+url.PathEscape(name), nil, nil)
}

func (c *apiClient) History(ctx context.Context, limit int) ([]history.Firing, error) {
	var out []history.Firing
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/history?limit=%d", limit), nil, &out)
	return out, err
}

// Calendar fetches the iCalendar feed.
func (c *apiClient) Calendar(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/calendar.ics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
