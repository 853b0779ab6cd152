package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/titan-mmo/titan/internal/config"
)

const (
	ServiceName      = "titan"
	ServiceNamespace = "titan-mmo"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Titan distributed game backend",
		Commands: []*cli.Command{
			siloCmd(),
			gatewayCmd(),
		},
	}

	return app.Run(os.Args)
}

func siloCmd() *cli.Command {
	return &cli.Command{
		Name:    "silo",
		Aliases: []string{"s"},
		Usage:   "Run a cell-hosting node (no client listeners)",
		Flags:   configFlags(),
		Action: func(c *cli.Context) error {
			return runApp(c, NewSiloApp)
		},
	}
}

func gatewayCmd() *cli.Command {
	return &cli.Command{
		Name:    "gateway",
		Aliases: []string{"g"},
		Usage:   "Run a node that also terminates client connections",
		Flags:   configFlags(),
		Action: func(c *cli.Context) error {
			return runApp(c, NewGatewayApp)
		},
	}
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "service_id",
			Usage: "Stable identifier for this service (overrides TITAN_CLUSTER_SERVICE_ID)",
		},
	}
}

func runApp(c *cli.Context, build func(*config.Config) *fx.App) error {
	flags := pflag.NewFlagSet(c.Command.Name, pflag.ContinueOnError)
	if v := c.String("service_id"); v != "" {
		flags.String("cluster.service_id", v, "")
		// Mark the flag as changed so viper ranks it above env and defaults.
		_ = flags.Set("cluster.service_id", v)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}

	app := build(cfg)
	if err := app.Start(c.Context); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("TITAN_SHUTTING_DOWN")
	return app.Stop(context.Background())
}
