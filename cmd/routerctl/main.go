/*
routerctl is a command line client for msgrouter: it publishes, subscribes,
invokes services and serves a simple echo service.
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/rickgao/msgrouter/internal/client"
	"github.com/rickgao/msgrouter/internal/message"
	"github.com/rickgao/msgrouter/internal/version"
)

func main() {
	app := &cli.App{
		Name:                   "routerctl",
		Usage:                  "Talk to a msgrouter instance from the command line",
		Version:                version.String(),
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "WebSocket `URL` of the router",
				Value:   "ws://localhost:8080/ws",
				EnvVars: []string{"MSGROUTER_URL"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log connection details",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "publish",
				Usage:     "Publish a JSON payload to a topic",
				ArgsUsage: "TOPIC PAYLOAD",
				Action:    runPublish,
			},
			{
				Name:      "subscribe",
				Usage:     "Print publications on the given topics until interrupted",
				ArgsUsage: "TOPIC...",
				Action:    runSubscribe,
			},
			{
				Name:      "invoke",
				Usage:     "Invoke a service and print its response",
				ArgsUsage: "SERVICE [PAYLOAD]",
				Action:    runInvoke,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:    "timeout",
						Aliases: []string{"t"},
						Usage:   "Give up after `DURATION`",
						Value:   10 * time.Second,
					},
				},
			},
			{
				Name:      "serve",
				Usage:     "Register an echo service until interrupted",
				ArgsUsage: "SERVICE",
				Action:    runServe,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// connect dials the router named by the global flags.
func connect(c *cli.Context) (*client.Client, error) {
	level := slog.LevelWarn
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	return client.Dial(ctx, client.DefaultConfig(c.String("url")), logger)
}

// payloadArg returns argument n as a payload. Payloads must be JSON.
func payloadArg(c *cli.Context, n int) (message.Buffer, error) {
	if c.NArg() <= n {
		return message.Buffer{}, nil
	}
	raw := c.Args().Get(n)
	if !json.Valid([]byte(raw)) {
		return message.Buffer{}, fmt.Errorf("payload is not valid JSON: %s", raw)
	}
	return message.BufferFromString(raw), nil
}

func runPublish(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: routerctl publish TOPIC PAYLOAD", 2)
	}
	payload, err := payloadArg(c, 1)
	if err != nil {
		return err
	}

	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	if err := cl.Publish(c.Args().First(), payload); err != nil {
		return err
	}
	// Close flushes the queued publication before the socket goes away.
	return nil
}

func runSubscribe(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("usage: routerctl subscribe TOPIC...", 2)
	}

	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	for _, topic := range c.Args().Slice() {
		_, err := cl.Subscribe(topic, func(t *message.Topic) {
			fmt.Printf("%s from %s: %s\n", t.Topic, t.SourceID, t.Payload.String())
		})
		if err != nil {
			return err
		}
	}
	log.Printf("Subscribed as %s. Use Ctrl-C to exit.", cl.ID())

	select {
	case <-c.Context.Done():
	case <-cl.Done():
		return client.ErrConnectionClosed
	}
	return nil
}

func runInvoke(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return cli.Exit("usage: routerctl invoke SERVICE [PAYLOAD]", 2)
	}
	payload, err := payloadArg(c, 1)
	if err != nil {
		return err
	}

	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	out, err := cl.Invoke(ctx, c.Args().First(), payload)
	if err != nil {
		return err
	}
	fmt.Println(out.String())
	return nil
}

func runServe(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: routerctl serve SERVICE", 2)
	}

	cl, err := connect(c)
	if err != nil {
		return err
	}
	defer cl.Close()

	reg, err := cl.RegisterService(c.Context, c.Args().First(), func(_ context.Context, inv *message.Invoke) (message.Buffer, error) {
		caller := ""
		if inv.Context != nil {
			caller = inv.Context.SourceID
		}
		log.Printf("%s invoked by %s: %s", inv.ServiceName, caller, inv.Payload.String())
		return inv.Payload, nil
	})
	if err != nil {
		return err
	}
	log.Printf("Serving %s as %s. Use Ctrl-C to exit.", reg.Name(), cl.ID())

	select {
	case <-c.Context.Done():
	case <-cl.Done():
		return client.ErrConnectionClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cl.UnregisterService(ctx, reg)
}
