// Package main is chronoctl, the command line client for the chronos daemon.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "chronoctl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "chronoctl"
	app.HelpName = "chronoctl"
	app.Usage = "Manage alarms, tasks and sounds on a chronos daemon."
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "server, s",
			Value:  "http://localhost:8000",
			Usage:  "daemon base URL",
			EnvVar: "CHRONOS_SERVER",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "log connection details to stderr",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "alarms",
			Usage: "list and edit alarms",
			Subcommands: []cli.Command{
				{Name: "list", Aliases: []string{"ls"}, Usage: "list alarms", Action: listAlarms},
				{
					Name:      "add",
					Usage:     "create an alarm",
					ArgsUsage: "HH:MM",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "label, l", Usage: "alarm label"},
						cli.StringFlag{Name: "sound", Usage: "sound name (default: Classic Beep)"},
						cli.StringFlag{Name: "repeat, r", Usage: "weekdays, e.g. Mon,Wed,Fri"},
						cli.BoolFlag{Name: "inactive", Usage: "create the alarm switched off"},
					},
					Action: addAlarm,
				},
				{Name: "rm", Usage: "delete an alarm", ArgsUsage: "ID", Action: deleteAlarm},
				{Name: "enable", Usage: "switch an alarm on", ArgsUsage: "ID", Action: setAlarmActive(true)},
				{Name: "disable", Usage: "switch an alarm off", ArgsUsage: "ID", Action: setAlarmActive(false)},
				{Name: "test", Usage: "preview an alarm's sound", ArgsUsage: "ID", Action: testAlarm},
			},
		},
		{
			Name:      "dismiss",
			Usage:     "stop a ringing alarm",
			ArgsUsage: "ID",
			Action:    dismissAlarm,
		},
		{
			Name:  "tasks",
			Usage: "list and edit tasks",
			Subcommands: []cli.Command{
				{Name: "list", Aliases: []string{"ls"}, Usage: "list tasks", Action: listTasks},
				{
					Name:      "add",
					Usage:     "create a task",
					ArgsUsage: "TITLE",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "date, d", Usage: "due date YYYY-MM-DD"},
						cli.StringFlag{Name: "time, t", Usage: "due time HH:MM"},
						cli.IntFlag{Name: "reminder", Value: 10, Usage: "minutes before the due time"},
						cli.StringFlag{Name: "color", Usage: "display color"},
					},
					Action: addTask,
				},
				{Name: "done", Usage: "mark a task done", ArgsUsage: "ID", Action: setTaskDone(true)},
				{Name: "undo", Usage: "mark a task not done", ArgsUsage: "ID", Action: setTaskDone(false)},
				{Name: "rm", Usage: "delete a task", ArgsUsage: "ID", Action: deleteTask},
			},
		},
		{
			Name:  "sounds",
			Usage: "manage custom sounds",
			Subcommands: []cli.Command{
				{Name: "list", Aliases: []string{"ls"}, Usage: "list sounds", Action: listSounds},
				{
					Name:      "upload",
					Usage:     "upload a sound file",
					ArgsUsage: "FILE",
					Flags: []cli.Flag{
						cli.StringFlag{Name: "name, n", Usage: "display name (default: file name)"},
					},
					Action: uploadSound,
				},
				{Name: "rm", Usage: "delete a custom sound", ArgsUsage: "NAME", Action: deleteSound},
			},
		},
		{
			Name:  "history",
			Usage: "show recent firings (needs the daemon's database)",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "limit, n", Value: 20},
			},
			Action: showHistory,
		},
		{
			Name:  "calendar",
			Usage: "export alarms and tasks as iCalendar",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "output, o", Usage: "write to a file instead of stdout"},
			},
			Action: exportCalendar,
		},
		{
			Name:  "watch",
			Usage: "follow the realtime channel and show ringing alarms and reminders",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "bell", Usage: "ring the terminal bell on alarms"},
			},
			Action: watch,
		},
		{
			Name:  "relay-tail",
			Usage: "print events relayed through Redis",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "redis-url", Value: "redis://localhost:6379/0", EnvVar: "REDIS_URL"},
				cli.StringFlag{Name: "channel", Value: "chronos:events", EnvVar: "REDIS_CHANNEL"},
			},
			Action: relayTail,
		},
	}
	return app
}

func apiFrom(c *cli.Context) *apiClient {
	return newAPIClient(c.GlobalString("server"))
}

func loggerFrom(c *cli.Context) *slog.Logger {
	level := slog.LevelWarn
	if c.GlobalBool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func requireArg(c *cli.Context, what string) (string, error) {
	arg := c.Args().First()
	if arg == "" {
		return "", cli.NewExitError(fmt.Sprintf("missing %s; see chronoctl %s --help", what, c.Command.Name), 2)
	}
	return arg, nil
}
