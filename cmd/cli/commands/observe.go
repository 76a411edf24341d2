package commands

import (
	"bufio"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/cmd/cli/client"
)

var (
	ObserveCommands = []*cli.Command{
		{
			Name:   "observe",
			Usage:  "streams notifications of a room, press enter to pause and print the latest snapshot",
			Action: observeRoom,
			Flags: []cli.Flag{
				roomFlag,
				wsHostFlag,
			},
		},
	}
)

func observeRoom(c *cli.Context) error {
	host := c.String("host")
	logger.Infow("connecting to observe endpoint", "host", host)
	conn, err := client.NewWebSocketConn(host, "/observe", c.String("room"))
	if err != nil {
		return err
	}

	oc := client.NewClient(conn)
	handleSignals(oc)

	// start loop to detect input
	go func() {
		r := bufio.NewReader(os.Stdin)
		paused := false
		for {
			if _, _, err := r.ReadLine(); err != nil {
				return
			}
			if paused {
				oc.ResumeLogs()
			} else {
				// pause client output and print state
				oc.PauseLogs()
				PrintJSON(oc.Snapshot())
			}
			paused = !paused
		}
	}()

	return oc.Run()
}

func handleSignals(c *client.Client) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Infow("exit requested, shutting down", "signal", sig)
			c.Stop()
		case <-c.Done():
		}
	}()
}
