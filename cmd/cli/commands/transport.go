package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/cmd/cli/client"
	"github.com/livekit/room-coordinator/pkg/service"
)

const replyTimeout = 5 * time.Second

var (
	TransportCommands = []*cli.Command{
		{
			Name:   "play-script",
			Usage:  "acts as the transport adapter of a room, sending a YAML list of transport messages",
			Action: playScript,
			Flags: []cli.Flag{
				roomFlag,
				wsHostFlag,
				&cli.StringFlag{
					Name:     "script",
					Usage:    "path to YAML list of transport messages",
					Required: true,
				},
				&cli.DurationFlag{
					Name:  "interval",
					Usage: "delay between messages",
					Value: 100 * time.Millisecond,
				},
				&cli.BoolFlag{
					Name:  "hold",
					Usage: "keep the session, and the room, open until interrupted",
				},
			},
		},
	}
)

func playScript(c *cli.Context) error {
	f, err := os.Open(c.String("script"))
	if err != nil {
		return err
	}
	messages, err := service.ReadTransportScript(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	conn, err := client.NewWebSocketConn(c.String("host"), "/transport", c.String("room"))
	if err != nil {
		return err
	}

	tc := client.NewClient(conn)
	replies := make(chan *service.ServerMessage, len(messages)+1)
	tc.OnReply = func(msg *service.ServerMessage) {
		replies <- msg
	}
	handleSignals(tc)

	runErr := make(chan error, 1)
	go func() {
		runErr <- tc.Run()
	}()

	if err := sendScript(tc, messages, c.Duration("interval"), replies); err != nil {
		tc.Stop()
		return err
	}
	logger.Infow("script sent", "messages", len(messages))

	if c.Bool("hold") {
		return <-runErr
	}
	tc.Stop()
	return nil
}

// sendScript sends messages in order. Joins wait for the server's reply, other messages are not acknowledged.
func sendScript(tc *client.Client, messages []*service.TransportMessage, interval time.Duration, replies <-chan *service.ServerMessage) error {
	for i, msg := range messages {
		if err := tc.SendMessage(msg); err != nil {
			return err
		}

		if msg.Type == service.MessageParticipantJoined {
			select {
			case reply := <-replies:
				if reply.Type == service.MessageError {
					tc.AppendLog("join rejected", "index", i, "error", reply.Error)
				}
			case <-tc.Done():
				return fmt.Errorf("connection closed at message %d", i)
			case <-time.After(replyTimeout):
				return fmt.Errorf("no reply to message %d", i)
			}
		}

		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-tc.Done():
				return fmt.Errorf("connection closed at message %d", i)
			}
		}
	}
	return nil
}
