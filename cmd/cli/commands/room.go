package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/livekit/room-coordinator/pkg/rtc/types"
	"github.com/livekit/room-coordinator/pkg/service"
)

var (
	RoomCommands = []*cli.Command{
		{
			Name:   "list-rooms",
			Usage:  "lists open rooms",
			Before: createClient,
			Action: listRooms,
			Flags: []cli.Flag{
				roomHostFlag,
			},
		},
		{
			Name:   "get-room",
			Usage:  "prints the snapshot of a room",
			Before: createClient,
			Action: getRoom,
			Flags: []cli.Flag{
				roomFlag,
				roomHostFlag,
			},
		},
	}

	httpClient *http.Client
)

func createClient(c *cli.Context) error {
	httpClient = &http.Client{Timeout: 10 * time.Second}
	return nil
}

func listRooms(c *cli.Context) error {
	var rooms []service.RoomInfo
	if err := getJSON(c.String("host")+"/rooms", &rooms); err != nil {
		return err
	}

	PrintJSON(rooms)
	return nil
}

func getRoom(c *cli.Context) error {
	var snapshot types.RoomSnapshot
	if err := getJSON(c.String("host")+"/rooms/"+url.PathEscape(c.String("room")), &snapshot); err != nil {
		return err
	}

	PrintJSON(&snapshot)
	return nil
}

func getJSON(u string, v interface{}) error {
	res, err := httpClient.Get(u)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed: %s", res.Status)
	}
	return json.NewDecoder(res.Body).Decode(v)
}
