package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/pkg/realtime"
	"github.com/urfave/cli"
)

// terminalEffects renders reconciler transitions as log lines.
type terminalEffects struct {
	mu   sync.Mutex
	w    io.Writer
	bell bool
}

func (t *terminalEffects) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "%s  ", time.Now().Format("15:04:05"))
	fmt.Fprintf(t.w, format, args...)
	fmt.Fprintln(t.w)
}

func (t *terminalEffects) StartRinging(r realtime.Ring) {
	label := r.Label
	if label == "" {
		label = "Alarm"
	}
	bell := ""
	if t.bell {
		bell = "\a"
	}
	t.printf("%sRINGING  %s  %s (%s)  dismiss with: d %s", bell, r.AlarmID, label, r.Sound, r.AlarmID)
}

func (t *terminalEffects) StopRinging(alarmID string) {
	t.printf("stopped  %s", alarmID)
}

func (t *terminalEffects) ShowReminder(r realtime.Reminder) {
	t.printf("REMINDER %s  %s", r.TaskID, r.Title)
}

func (t *terminalEffects) HideReminder(taskID string) {
	t.printf("expired  reminder %s", taskID)
}

func snapshots(alarms []alarm.Alarm) []realtime.AlarmSnapshot {
	out := make([]realtime.AlarmSnapshot, 0, len(alarms))
	for _, a := range alarms {
		out = append(out, realtime.AlarmSnapshot{
			ID:      a.ID,
			Ringing: a.Ringing,
			Sound:   a.Sound,
			Label:   a.Label,
		})
	}
	return out
}

// resync replaces the local ringing set with the server's view.
func resync(ctx context.Context, api *apiClient, rec *realtime.Reconciler) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	alarms, err := api.ListAlarms(ctx)
	if err != nil {
		return err
	}
	rec.Resync(snapshots(alarms))
	return nil
}

func watch(c *cli.Context) error {
	api := apiFrom(c)
	logger := loggerFrom(c)
	url, err := api.wsURL()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	effects := &terminalEffects{w: out, bell: c.Bool("bell")}
	rec := realtime.NewReconciler(realtime.ReconcilerConfig{Effects: effects, Logger: logger})
	defer rec.Close()

	client := realtime.NewClient(realtime.ClientConfig{
		URL: url,
		OnOpen: func() {
			if err := resync(ctx, api, rec); err != nil {
				logger.Warn("resync failed", "error", err)
			}
		},
		OnEvent: func(ev realtime.Event) { rec.Apply(ev) },
		OnStateChange: func(s realtime.State) {
			logger.Debug("connection state", "state", s)
		},
		Logger: logger,
	})
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	fmt.Fprintf(out, "watching %s (d <id> dismisses, ctrl-c quits)\n", url)
	go readCommands(ctx, os.Stdin, api, rec, effects)

	<-ctx.Done()
	return nil
}

// readCommands handles "d <id>" lines from the terminal. The local ring stops
// before the request is sent.
func readCommands(ctx context.Context, in io.Reader, api *apiClient, rec *realtime.Reconciler, fx *terminalEffects) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 || (fields[0] != "d" && fields[0] != "dismiss") {
			continue
		}
		id := fields[1]
		rec.Dismiss(id)

		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := api.DismissAlarm(reqCtx, id)
		cancel()
		if err != nil {
			fx.printf("dismiss %s failed: %v", id, err)
		}
	}
}
