package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/livekit/protocol/logger"

	"github.com/livekit/room-coordinator/pkg/config"
	"github.com/livekit/room-coordinator/pkg/service"
	"github.com/livekit/room-coordinator/version"
)

var baseFlags = []cli.Flag{
	&cli.StringSliceFlag{
		Name:  "bind",
		Usage: "IP address to listen on, use flag multiple times to specify multiple addresses",
	},
	&cli.UintFlag{
		Name:  "port",
		Usage: "port of the HTTP service",
	},
	&cli.StringFlag{
		Name:  "config",
		Usage: "path to room coordinator config file",
	},
	&cli.StringFlag{
		Name:    "config-body",
		Usage:   "room coordinator config in YAML, typically passed in as an environment var in a container",
		EnvVars: []string{"ROOMCOORD_CONFIG"},
	},
	// debugging flags
	&cli.StringFlag{
		Name:  "memprofile",
		Usage: "write memory profile to `file`",
	},
	&cli.BoolFlag{
		Name:  "dev",
		Usage: "sets log-level to debug and binds to localhost",
	},
	&cli.BoolFlag{
		Name:   "disable-strict-config",
		Usage:  "disables strict config parsing",
		Hidden: true,
	},
}

func main() {
	generatedFlags, err := config.GenerateCLIFlags(baseFlags, true)
	if err != nil {
		fmt.Println(err)
	}

	app := &cli.App{
		Name:        "room-coordinator",
		Usage:       "Room session coordinator for conferencing UIs",
		Description: "run without subcommands to start the server",
		Flags:       append(baseFlags, generatedFlags...),
		Action:      startServer,
		Commands: []*cli.Command{
			{
				Name:   "replay",
				Usage:  "replays a scripted transport session and prints the resulting notifications",
				Action: replayScript,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "script",
						Usage:    "path to YAML list of transport messages",
						Required: true,
					},
				},
			},
			{
				Name:   "ports",
				Usage:  "print ports that server is configured to use",
				Action: printPorts,
			},
			{
				Name:   "help-verbose",
				Usage:  "prints app help, including all generated configuration flags",
				Action: helpVerbose,
			},
		},
		Version: version.Version,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	confString, err := config.GetConfigString(c.String("config"), c.String("config-body"))
	if err != nil {
		return nil, err
	}

	strictMode := true
	if c.Bool("disable-strict-config") {
		strictMode = false
	}

	conf, err := config.NewConfig(confString, strictMode, c, baseFlags)
	if err != nil {
		return nil, err
	}
	config.InitLoggerFromConfig(&conf.Logging)

	if c.String("config") == "" && c.String("config-body") == "" && conf.Development {
		logger.Infow("starting in development mode")
		// when dev mode and no config, we'll bind to localhost by default
		if conf.BindAddresses == nil {
			conf.BindAddresses = []string{
				"127.0.0.1",
				"::1",
			}
		}
	}
	return conf, nil
}

func startServer(c *cli.Context) error {
	memProfile := c.String("memprofile")

	conf, err := getConfig(c)
	if err != nil {
		return err
	}

	if memProfile != "" {
		if f, err := os.Create(memProfile); err != nil {
			return err
		} else {
			defer func() {
				// run memory profile at termination
				runtime.GC()
				_ = pprof.WriteHeapProfile(f)
				_ = f.Close()
			}()
		}
	}

	server, err := service.InitializeServer(conf)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		logger.Infow("exit requested, shutting down", "signal", sig)
		server.Stop(false)
		// a second signal forces shutdown
		sig = <-sigChan
		logger.Infow("forcing shutdown", "signal", sig)
		server.Stop(true)
	}()

	return server.Start()
}
