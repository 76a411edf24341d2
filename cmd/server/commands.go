package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/rtc"
	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/service"
)

const replayTimeout = 5 * time.Second

func replayScript(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return errors.Wrap(err, "get config")
	}

	messages, err := loadScript(c.String("script"))
	if err != nil {
		return err
	}

	start := time.Now()
	notifications, err := runReplay(c.Context, conf, messages)
	if err != nil {
		return err
	}
	printNotifications(os.Stdout, start, notifications)
	fmt.Printf("replayed %s messages into %s notifications\n",
		humanize.Comma(int64(len(messages))),
		humanize.Comma(int64(len(notifications))),
	)
	return nil
}

func loadScript(path string) ([]*service.TransportMessage, error) {
	body, err := config.GetConfigString(path, "")
	if err != nil {
		return nil, err
	}
	return service.ReadTransportScript(strings.NewReader(body))
}

// runReplay feeds messages to a fresh room and returns every notification it produced, in order.
// Rejected messages are printed and skipped.
func runReplay(ctx context.Context, conf *config.Config, messages []*service.TransportMessage) ([]types.Notification, error) {
	roomConf := conf.Room
	// a replay must not drop notifications
	roomConf.SubscriberQueueSize = len(messages) + 1
	roomConf.AutoCreate = true

	room := rtc.NewRoom(rtc.RoomParams{
		Name:  "replay",
		Audio: conf.Audio,
		Room:  roomConf,
	})
	defer room.Close()

	var (
		lock          sync.Mutex
		notifications []types.Notification
	)
	sub := room.Subscribe(func(n types.Notification) {
		lock.Lock()
		notifications = append(notifications, n)
		lock.Unlock()
	})

	session := service.NewTransportSession(room, conf.Audio)
	for i, msg := range messages {
		if err := session.Handle(msg); err != nil {
			fmt.Printf("message %d (%s) rejected: %v\n", i, msg.Type, err)
		}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, replayTimeout)
	defer cancel()
	if err := room.Sync(ctx); err != nil {
		return nil, err
	}

	last := room.Snapshot().Seq
	for sub.Delivered() < last {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "waiting for notifications")
		case <-time.After(10 * time.Millisecond):
		}
	}
	room.Unsubscribe(sub)

	lock.Lock()
	defer lock.Unlock()
	return notifications, nil
}

func printNotifications(w io.Writer, start time.Time, notifications []types.Notification) {
	table := tablewriter.NewWriter(w)
	table.SetRowLine(true)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{
		"Seq",
		"Cause",
		"Participant",
		"Primary",
		"Active",
		"Elapsed",
	})

	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT,
	})

	for _, n := range notifications {
		primary := string(n.PrimarySpeaker)
		if n.PrimarySpeakerChanged {
			primary += " *"
		}
		active := make([]string, 0, len(n.ActiveSpeakers))
		for _, id := range n.ActiveSpeakers {
			active = append(active, string(id))
		}
		table.Append([]string{
			humanize.Comma(int64(n.Seq)),
			n.Cause.String(),
			string(n.ParticipantID),
			primary,
			strings.Join(active, ", "),
			n.Time.Sub(start).Round(time.Millisecond).String(),
		})
	}

	table.Render()
}

func printPorts(c *cli.Context) error {
	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	tcpPorts := make([]string, 0)
	tcpPorts = append(tcpPorts, fmt.Sprintf("%d - HTTP service", conf.Port))
	if conf.PrometheusPort != 0 {
		tcpPorts = append(tcpPorts, fmt.Sprintf("%d - Prometheus", conf.PrometheusPort))
	}

	fmt.Println("TCP Ports")
	for _, p := range tcpPorts {
		fmt.Println(p)
	}
	return nil
}

func helpVerbose(c *cli.Context) error {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, false)
	if err != nil {
		return err
	}

	c.App.Flags = append(baseFlags, generatedFlags...)
	return cli.ShowAppHelp(c)
}
