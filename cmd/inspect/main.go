// inspect connects to a running registryd fanout endpoint and prints the
// reconciled entries every time they change.
//
// Usage:
//
//	go run ./cmd/inspect -url ws://127.0.0.1:8790/ws
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/charleschow/game-registry/internal/core/reconcile"
	"github.com/charleschow/game-registry/internal/events"
	"github.com/charleschow/game-registry/internal/fanout"
	"github.com/charleschow/game-registry/internal/telemetry"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8790/ws", "registryd fanout URL")
	level := flag.String("log", "warn", "log level")
	flag.Parse()

	telemetry.Init(telemetry.ParseLogLevel(*level))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := events.NewBus()
	client := fanout.NewClient(*url, bus)
	bus.Subscribe(events.EventEntriesChanged, func(evt events.Event) error {
		entries, _ := evt.Payload.([]reconcile.Entry)
		printEntries(entries)
		return nil
	})
	bus.Subscribe(events.EventMembershipPruned, func(evt events.Event) error {
		fmt.Printf("pruned %s (%v)\n", evt.GameID, evt.Payload)
		entries, _ := client.Entries()
		printEntries(entries)
		return nil
	})

	client.ConnectWithRetry(ctx)
}

func printEntries(entries []reconcile.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GAME\tPLAYER\tJOINED\tSTATUS")
	for _, e := range entries {
		joined := "-"
		if t := e.JoinedTime(); !t.IsZero() {
			joined = humanize.Time(t)
		}
		st := "resolving"
		if e.Resolved() {
			st = string(e.Status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.GameID, e.PlayerID, joined, st)
	}
	w.Flush()
	fmt.Println()
}
