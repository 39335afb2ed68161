package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/chronos-os/chronos/internal/domain/alarm"
	"github.com/chronos-os/chronos/internal/domain/history"
	"github.com/chronos-os/chronos/internal/domain/task"
	"github.com/chronos-os/chronos/internal/infrastructure/playback"
	"github.com/urfave/cli"
)

var out io.Writer = os.Stdout

// ──────────────────────────────────────────────────────────────────────────────
// Alarms
// ──────────────────────────────────────────────────────────────────────────────

func listAlarms(c *cli.Context) error {
	alarms, err := apiFrom(c).ListAlarms(context.Background())
	if err != nil {
		return err
	}
	printAlarms(out, alarms)
	return nil
}

func addAlarm(c *cli.Context) error {
	at, err := requireArg(c, "alarm time")
	if err != nil {
		return err
	}
	body := map[string]any{
		"time":   at,
		"label":  c.String("label"),
		"sound":  c.String("sound"),
		"repeat": splitDays(c.String("repeat")),
	}
	if c.Bool("inactive") {
		body["active"] = false
	}
	a, err := apiFrom(c).CreateAlarm(context.Background(), body)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created alarm %s at %s\n", a.ID, a.Time)
	return nil
}

func deleteAlarm(c *cli.Context) error {
	id, err := requireArg(c, "alarm id")
	if err != nil {
		return err
	}
	if err := apiFrom(c).DeleteAlarm(context.Background(), id); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted alarm %s\n", id)
	return nil
}

func setAlarmActive(active bool) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		id, err := requireArg(c, "alarm id")
		if err != nil {
			return err
		}
		a, err := apiFrom(c).UpdateAlarm(context.Background(), id, map[string]any{"active": active})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "alarm %s is %s\n", a.ID, onOff(a.Active))
		return nil
	}
}

func testAlarm(c *cli.Context) error {
	id, err := requireArg(c, "alarm id")
	if err != nil {
		return err
	}
	res, err := apiFrom(c).TestAlarm(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "playing %q on the daemon\n", res["sound"])
	return nil
}

func dismissAlarm(c *cli.Context) error {
	id, err := requireArg(c, "alarm id")
	if err != nil {
		return err
	}
	a, err := apiFrom(c).DismissAlarm(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "dismissed alarm %s (%s)\n", a.ID, onOff(a.Active))
	return nil
}

func printAlarms(w io.Writer, alarms []alarm.Alarm) {
	if len(alarms) == 0 {
		fmt.Fprintln(w, "no alarms")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tLABEL\tSOUND\tREPEAT\tSTATE")
	for _, a := range alarms {
		state := onOff(a.Active)
		if a.Ringing {
			state = "RINGING"
		}
		repeat := strings.Join(a.Repeat, ",")
		if repeat == "" {
			repeat = "once"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.ID, a.Time, a.Label, a.Sound, repeat, state)
	}
	tw.Flush()
}

func splitDays(s string) []string {
	var days []string
	for _, d := range strings.Split(s, ",") {
		if d = strings.TrimSpace(d); d != "" {
			days = append(days, d)
		}
	}
	return days
}

func onOff(active bool) string {
	if active {
		return "on"
	}
	return "off"
}

// ──────────────────────────────────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────────────────────────────────

func listTasks(c *cli.Context) error {
	tasks, err := apiFrom(c).ListTasks(context.Background())
	if err != nil {
		return err
	}
	printTasks(out, tasks)
	return nil
}

func addTask(c *cli.Context) error {
	title := strings.TrimSpace(strings.Join(c.Args(), " "))
	if title == "" {
		return cli.NewExitError("missing task title", 2)
	}
	body := map[string]any{
		"title":    title,
		"date":     c.String("date"),
		"time":     c.String("time"),
		"reminder": c.Int("reminder"),
		"color":    c.String("color"),
	}
	t, err := apiFrom(c).CreateTask(context.Background(), body)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created task %s\n", t.ID)
	return nil
}

func setTaskDone(done bool) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		id, err := requireArg(c, "task id")
		if err != nil {
			return err
		}
		t, err := apiFrom(c).UpdateTask(context.Background(), id, map[string]any{"done": done})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "task %s done=%t\n", t.ID, t.Done)
		return nil
	}
}

func deleteTask(c *cli.Context) error {
	id, err := requireArg(c, "task id")
	if err != nil {
		return err
	}
	if err := apiFrom(c).DeleteTask(context.Background(), id); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted task %s\n", id)
	return nil
}

func printTasks(w io.Writer, tasks []task.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "no tasks")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDUE\tREMINDER\tDONE\tTITLE")
	for _, t := range tasks {
		due := strings.TrimSpace(t.Date + " " + t.Time)
		if due == "" {
			due = "-"
		}
		done := " "
		if t.Done {
			done = "x"
		}
		fmt.Fprintf(tw, "%s\t%s\t%dm\t[%s]\t%s\n", t.ID, due, t.Reminder, done, t.Title)
	}
	tw.Flush()
}

// ──────────────────────────────────────────────────────────────────────────────
// Sounds, history
// ──────────────────────────────────────────────────────────────────────────────

func listSounds(c *cli.Context) error {
	sounds, err := apiFrom(c).ListSounds(context.Background())
	if err != nil {
		return err
	}
	printSounds(out, sounds)
	return nil
}

func uploadSound(c *cli.Context) error {
	path, err := requireArg(c, "sound file")
	if err != nil {
		return err
	}
	name := c.String("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	info, err := apiFrom(c).UploadSound(context.Background(), name, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "uploaded %q as %s\n", info.Name, info.Ref)
	return nil
}

func deleteSound(c *cli.Context) error {
	name := strings.TrimSpace(strings.Join(c.Args(), " "))
	if name == "" {
		return cli.NewExitError("missing sound name", 2)
	}
	if err := apiFrom(c).DeleteSound(context.Background(), name); err != nil {
		return err
	}
	fmt.Fprintf(out, "deleted sound %q\n", name)
	return nil
}

func printSounds(w io.Writer, sounds []playback.SoundInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tREF\tDESCRIPTION")
	for _, s := range sounds {
		kind := "builtin"
		if s.Custom {
			kind = "custom"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, kind, s.Ref, s.Description)
	}
	tw.Flush()
}

func showHistory(c *cli.Context) error {
	firings, err := apiFrom(c).History(context.Background(), c.Int("limit"))
	if err != nil {
		return err
	}
	printHistory(out, firings)
	return nil
}

func printHistory(w io.Writer, firings []history.Firing) {
	if len(firings) == 0 {
		fmt.Fprintln(w, "no firings recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tEVENT\tID\tDETAIL")
	for _, f := range firings {
		id, detail := f.AlarmID, f.Label
		if f.TaskID != "" {
			id, detail = f.TaskID, f.Title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.At.Local().Format("2006-01-02 15:04:05"), f.Kind, id, detail)
	}
	tw.Flush()
}

func exportCalendar(c *cli.Context) error {
	data, err := apiFrom(c).Calendar(context.Background())
	if err != nil {
		return err
	}
	if path := c.String("output"); path != "" {
		return os.WriteFile(path, data, 0o644)
	}
	_, err = out.Write(data)
	return err
}
