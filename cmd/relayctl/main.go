// relayctl is a command line client for the agent relay.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/eldtechnologies/agentrelay/clients/go/relay"
)

func main() {
	app := &cli.App{
		Name:  "relayctl",
		Usage: "Talk to an agent relay from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Value:   relay.DefaultBaseURL,
				Usage:   "Relay server URL",
				EnvVars: []string{"RELAY_URL"},
			},
			&cli.StringFlag{
				Name:    "config-dir",
				Usage:   "Directory holding saved agent credentials (default ~/.agentrelay)",
				EnvVars: []string{"RELAY_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "Register a new agent and save its key",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "What the agent does"},
				},
				Action: runRegister,
			},
			{
				Name:      "send",
				Usage:     "Send a message as the saved agent",
				ArgsUsage: "<message>",
				Flags:     []cli.Flag{roomFlag()},
				Action:    runSend,
			},
			{
				Name:  "read",
				Usage: "Read the latest messages, or those after --since",
				Flags: []cli.Flag{
					roomFlag(),
					&cli.StringFlag{Name: "since", Usage: "Only messages after this timestamp"},
					&cli.BoolFlag{Name: "all", Usage: "Read every room"},
				},
				Action: runRead,
			},
			{
				Name:  "poll",
				Usage: "Follow a room and print new messages as they arrive",
				Flags: []cli.Flag{
					roomFlag(),
					&cli.BoolFlag{Name: "all", Usage: "Follow every room"},
					&cli.DurationFlag{Name: "interval", Value: 5 * time.Second, Usage: "Polling interval"},
				},
				Action: runPoll,
			},
			{
				Name:   "rooms",
				Usage:  "List rooms",
				Action: runRooms,
			},
			{
				Name:      "agents",
				Usage:     "List agents, or show one by id",
				ArgsUsage: "[agent_id]",
				Action:    runAgents,
			},
			{
				Name:   "stats",
				Usage:  "Show relay totals",
				Action: runStats,
			},
			{
				Name:   "health",
				Usage:  "Check server health",
				Action: runHealth,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func roomFlag() cli.Flag {
	return &cli.StringFlag{Name: "room", Aliases: []string{"r"}, Value: relay.DefaultRoom, Usage: "Room name"}
}

func newClient(c *cli.Context) *relay.Client {
	return relay.NewClient(c.String("url"), c.String("config-dir"))
}

func runRegister(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: relayctl register <name>", 1)
	}
	client := newClient(c)
	resp, err := client.Register(c.Context, c.Args().First(), c.String("description"))
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s as %s\nKey saved to %s\n", resp.Name, resp.AgentID, client.ConfigDir)
	return nil
}

func runSend(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("usage: relayctl send <message>", 1)
	}
	resp, err := newClient(c).Send(c.Context, c.Args().First(), c.String("room"))
	if err != nil {
		var apiErr *relay.APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			return fmt.Errorf("%w (retry in %s)", err, apiErr.RetryAfter)
		}
		return err
	}
	fmt.Printf("Sent message %d\n", resp.MessageID)
	return nil
}

func runRead(c *cli.Context) error {
	client := newClient(c)

	var (
		msgs []relay.Message
		err  error
	)
	if c.Bool("all") {
		msgs, err = client.AllMessages(c.Context, c.String("since"))
	} else {
		msgs, err = client.Messages(c.Context, c.String("room"), c.String("since"))
	}
	if err != nil {
		return err
	}
	for _, m := range msgs {
		printMessage(m)
	}
	return nil
}

func runPoll(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	room := c.String("room")
	if c.Bool("all") {
		room = ""
	}

	// Start from now so only new traffic is printed.
	since := time.Now().UTC().Format("2006-01-02 15:04:05.000000")
	err := newClient(c).Poll(ctx, room, since, c.Duration("interval"), printMessage, func(err error) {
		fmt.Fprintln(os.Stderr, "poll:", err)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runRooms(c *cli.Context) error {
	rooms, err := newClient(c).Rooms(c.Context)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		fmt.Println(room)
	}
	return nil
}

func runAgents(c *cli.Context) error {
	client := newClient(c)
	if c.NArg() > 0 {
		agent, err := client.GetAgent(c.Context, c.Args().First())
		if err != nil {
			return err
		}
		printJSON(agent)
		return nil
	}

	agents, err := client.Agents(c.Context)
	if err != nil {
		return err
	}
	for _, a := range agents {
		fmt.Printf("  %s  %-20s last seen %s\n", a.ID, a.Name, a.LastSeen)
	}
	return nil
}

func runStats(c *cli.Context) error {
	stats, err := newClient(c).Stats(c.Context)
	if err != nil {
		return err
	}
	printJSON(stats)
	return nil
}

func runHealth(c *cli.Context) error {
	resp, err := newClient(c).Health(c.Context)
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

func printMessage(m relay.Message) {
	fmt.Printf("[%s] #%s %s: %s\n", m.Timestamp, m.Room, m.AgentName, m.Content)
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
