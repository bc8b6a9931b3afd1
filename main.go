package main

import (
	"os"

	"github.com/oceanweave/cg2-isolator/pkg/cmd"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const usage = `cg2-isolator manages per-container cgroup v2 subtrees.
			   It creates the non-leaf/leaf cgroup pair for each container, enables
			   controllers along the hierarchy and delegates accounting to them.`

func main() {
	app := cli.NewApp()
	app.Name = "cg2-isolator"
	app.Usage = usage

	app.Commands = []cli.Command{
		cmd.CheckCommand,
		cmd.TreeCommand,
		cmd.DestroyCommand,
	}

	app.Before = func(context *cli.Context) error {
		// Log as JSON instead of the default ASCII formatter.
		log.SetFormatter(&log.JSONFormatter{})
		log.SetOutput(os.Stdout)
		log.SetLevel(log.DebugLevel)
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
