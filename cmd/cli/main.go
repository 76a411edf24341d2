package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/cmd/cli/commands"
	"github.com/livekit/room-coordinator/version"
)

// command line util that drives and watches the coordinator
func main() {
	app := &cli.App{
		Name:    "roomcoord-cli",
		Version: version.Version,
	}

	app.Commands = append(app.Commands, commands.RoomCommands...)
	app.Commands = append(app.Commands, commands.ObserveCommands...)
	app.Commands = append(app.Commands, commands.TransportCommands...)

	logger.InitFromConfig(logger.Config{Level: "info"}, "roomcoord-cli")
	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
	}
}
