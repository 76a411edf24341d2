package commands

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"
)

var (
	roomFlag = &cli.StringFlag{
		Name:     "room",
		Usage:    "name of the room",
		Required: true,
	}
	roomHostFlag = &cli.StringFlag{
		Name:  "host",
		Value: "http://localhost:7880",
	}
	wsHostFlag = &cli.StringFlag{
		Name:  "host",
		Value: "ws://localhost:7880",
	}
)

func PrintJSON(obj interface{}) {
	txt, _ := json.MarshalIndent(obj, "", "  ")
	fmt.Println(string(txt))
}
