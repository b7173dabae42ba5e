package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/strahe/waltap/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:  "waltap",
		Usage: "Tail PostgreSQL logical replication and fan changes out to sinks",
		Commands: []*cli.Command{
			runCmd,
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("waltap exited with an error")
	}
}
