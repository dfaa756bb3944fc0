package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"

	"github.com/smblott-github/delivery/client"
	"github.com/smblott-github/delivery/instance"
	"github.com/smblott-github/delivery/server"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:      "delivery",
		Usage:     "deliver one command's output stream to one or more dynamically attaching clients",
		ArgsUsage: "command [arg ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Instance name; defaults to a checksum of the working directory.",
			},
			&cli.BoolFlag{
				Name:    "client",
				Aliases: []string{"c"},
				Usage:   "Client mode: connect to the server and run command with the stream as stdin (default: cat).",
			},
			&cli.BoolFlag{
				Name:    "restart",
				Aliases: []string{"r"},
				Usage:   "Ask the running server to restart its source command.",
			},
			&cli.BoolFlag{
				Name:    "world",
				Aliases: []string{"w"},
				Usage:   "Create the rendezvous socket world-writable.",
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Print the socket path and exit.",
			},
			&cli.IntFlag{
				Name:    "kill-signal",
				Aliases: []string{"t"},
				Usage:   "Signal number to send the source command when closing it (default: none).",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx *cli.Context) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	if !ctx.Bool("verbose") {
		logger = logger.WithOptions(zap.IncreaseLevel(zapcore.InfoLevel))
	}

	name := ctx.String("name")
	if name == "" {
		name, err = instance.DefaultName()
		if err != nil {
			return err
		}
	}
	paths := instance.NewPaths(name)
	fmt.Println(paths.Socket)

	if ctx.Bool("dry-run") {
		return nil
	}

	if ctx.Bool("restart") {
		if err := instance.SignalRestart(paths.PID); err != nil {
			return err
		}
		if !ctx.Bool("client") {
			return nil
		}
	}

	command := ctx.Args().Slice()

	if ctx.Bool("client") {
		c := &client.Client{
			Log:        logger.Named("client").Sugar(),
			SocketPath: paths.Socket,
		}
		err := c.Run(command)
		if exitErr, ok := err.(*exec.ExitError); ok {
			return cli.Exit("", exitErr.ExitCode())
		}
		return err
	}

	if len(command) == 0 {
		return cli.Exit("no source command given", 1)
	}

	srv, err := server.New(paths, command,
		server.WithLogger(logger),
		server.WithWorldWritable(ctx.Bool("world")),
		server.WithKillSignal(syscall.Signal(ctx.Int("kill-signal"))),
	)
	if err != nil {
		return err
	}
	return srv.Run()
}
