// Command pingctl sends pings and messages from a client that may be
// offline. Actions that cannot reach the server are journaled and replayed
// by "pingctl drain".
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketplace-backend/internal/app"
	"marketplace-backend/internal/client"
	"marketplace-backend/internal/config"
	"marketplace-backend/internal/offline"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printHelp()
		return nil
	}
	cmd, args := args[0], args[1:]

	flagSet := pflag.NewFlagSet("pingctl "+cmd, pflag.ContinueOnError)
	flagSet.String("config", "", "path to a config file")
	flagSet.String("server", "http://localhost:3001", "API base URL")
	flagSet.String("token", "", "access token")
	flagSet.String("queue", "offline-queue.cbor", "offline queue journal")
	flagSet.String("log-level", "warn", "debug, info, warn or error")
	listing := flagSet.String("listing", "", "listing id (ping)")
	receiver := flagSet.String("to", "", "listing owner (ping)")
	chat := flagSet.String("chat", "", "conversation id (send)")
	priority := flagSet.Int("priority", 0, "queue priority, higher drains first")
	watch := flagSet.Bool("watch", false, "keep draining until interrupted (drain)")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(flagSet)
	if err != nil {
		return err
	}
	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	api := client.New(cfg.Client)
	q, err := offline.Open(offline.NewFileJournal(cfg.Offline.QueuePath), api, offline.Options{
		MaxRetries: cfg.Offline.MaxRetries,
		Backoff: offline.Exponential{
			Base:   cfg.Offline.BaseBackoff,
			Max:    cfg.Offline.MaxBackoff,
			Jitter: cfg.Offline.Jitter,
		},
		Logger: log,
		OnFailure: func(f offline.Failure) {
			fmt.Fprintf(os.Stderr, "dropped %s %s: %v\n", f.Item.Action.Kind, f.Item.ID, f.Err)
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	text := strings.Join(flagSet.Args(), " ")
	switch cmd {
	case "ping", "send":
		sender, err := api.Sender()
		if err != nil {
			return err
		}
		a := offline.Action{Kind: offline.KindMessage, Sender: sender, ChatID: *chat, Text: text}
		if cmd == "ping" {
			if *listing == "" || *receiver == "" {
				return errors.New("ping needs --listing and --to")
			}
			a = offline.Action{Kind: offline.KindPing, Sender: sender, ListingID: *listing, Receiver: *receiver, Text: text}
		} else if *chat == "" {
			return errors.New("send needs --chat")
		}
		return submit(ctx, q, a, *priority)
	case "drain":
		if *watch {
			go api.WatchConnectivity(ctx, q.Monitor(), cfg.Offline.BaseBackoff)
			err := q.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		report, err := q.Drain(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("succeeded %d, failed %d, requeued %d, left %d\n", len(report.Succeeded), len(report.Failed), report.Requeued, q.Len())
		if report.Interrupted {
			fmt.Println("server unreachable, stopped early")
		}
		return nil
	case "status":
		return status(q)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func submit(ctx context.Context, q *offline.Queue, a offline.Action, priority int) error {
	queued, err := q.Submit(ctx, a, priority)
	if err != nil {
		return err
	}
	if queued {
		fmt.Println("queued, run \"pingctl drain\" once back online")
		return nil
	}
	fmt.Println("sent")
	return nil
}

func status(q *offline.Queue) error {
	items := q.Items()
	if len(items) == 0 {
		fmt.Println("queue is empty")
		return nil
	}
	for _, it := range items {
		target := it.Action.ChatID
		if it.Action.Kind == offline.KindPing {
			target = it.Action.ListingID + "/" + it.Action.Receiver
		}
		line := fmt.Sprintf("%s  %-7s %-20s prio=%d retries=%d next=%s",
			it.ID, it.Action.Kind, target, it.Priority, it.RetryCount, it.NextAttemptAt.Format(time.RFC3339))
		if it.LastError != "" {
			line += "  last error: " + it.LastError
		}
		fmt.Println(line)
	}
	return nil
}

func printHelp() {
	fmt.Fprint(os.Stderr, `pingctl: send pings and messages, queueing them while offline.

Usage:
  pingctl ping --listing L42 --to bob [flags] <message>
  pingctl send --chat <conversation id> [flags] <text>
  pingctl drain [--watch]
  pingctl status

Common flags:
  --server URL     API base URL
  --token TOKEN    access token (or CLIENT_TOKEN)
  --queue PATH     offline queue journal
`)
}
