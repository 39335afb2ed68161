package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/chronos-os/chronos/internal/infrastructure/messaging"
	"github.com/chronos-os/chronos/internal/infrastructure/persistence/redis"
	"github.com/urfave/cli"
)

func relayTail(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := redis.DefaultConfig()
	cfg.URL = c.String("redis-url")
	client, err := redis.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	channel := c.String("channel")
	msgs, err := client.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "tailing %s\n", channel)

	for msg := range msgs {
		printRelayed(out, msg.Payload)
	}
	return nil
}

func printRelayed(w io.Writer, payload string) {
	var env messaging.RelayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		fmt.Fprintf(w, "?? %s\n", payload)
		return
	}
	ev := env.Event
	switch {
	case ev.AlarmID != "":
		fmt.Fprintf(w, "%s  %-16s alarm=%s sound=%q label=%q  [%s]\n",
			ev.At.Local().Format("15:04:05"), ev.Type, ev.AlarmID, ev.Sound, ev.Label, env.InstanceID)
	default:
		fmt.Fprintf(w, "%s  %-16s task=%s title=%q  [%s]\n",
			ev.At.Local().Format("15:04:05"), ev.Type, ev.TaskID, ev.Title, env.InstanceID)
	}
}
