package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/strahe/waltap/internal/config"
	"github.com/strahe/waltap/internal/orchestrator"
	"github.com/strahe/waltap/internal/pgwire"
	"github.com/strahe/waltap/internal/replication"
	"github.com/strahe/waltap/internal/sink"
	"github.com/strahe/waltap/pkg/log"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Attach to a replication slot and stream decoded changes to the configured sinks",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "optional TOML config file, merged under CLI flags"},
		&cli.StringFlag{Name: "dsn", Usage: "PostgreSQL connection string"},
		&cli.StringFlag{Name: "slot-name", Value: config.Default.SlotName},
		&cli.StringFlag{Name: "publication-name", Value: config.Default.PublicationName},
		&cli.BoolFlag{Name: "create-slot", Usage: "create the replication slot if it does not exist"},
		&cli.StringFlag{Name: "start-lsn", Usage: "resume from this LSN instead of the slot's confirmed position"},
		&cli.StringFlag{Name: "format", Value: config.Default.Format, Usage: "json, json-pretty, text, debezium, feldera"},
		&cli.StringSliceFlag{Name: "target", Value: config.Default.Targets, Usage: "comma-separated: stdout, nats, feldera"},
		&cli.StringFlag{Name: "nats-server"},
		&cli.StringFlag{Name: "nats-stream", Value: config.Default.NatsStream},
		&cli.StringFlag{Name: "nats-subject-prefix", Value: config.Default.NatsSubjectPrefix},
		&cli.StringFlag{Name: "feldera-url"},
		&cli.StringFlag{Name: "feldera-pipeline"},
		&cli.StringFlag{Name: "feldera-api-key"},
		&cli.StringSliceFlag{Name: "feldera-tables"},
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn, error"},
		&cli.BoolFlag{Name: "log-json", Usage: "emit newline-delimited JSON logs instead of pretty console output"},
	},
	Action: func(ctx context.Context, c *cli.Command) error {
		level, err := zerolog.ParseLevel(c.String("log-level"))
		if err != nil {
			return fmt.Errorf("waltap: --log-level: %w", err)
		}
		log.Configure(os.Stderr, !c.Bool("log-json"), level)

		cfg, err := buildConfig(c)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg)
	},
}

func buildConfig(c *cli.Command) (config.Config, error) {
	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}

	if v := c.String("dsn"); v != "" {
		cfg.DSN = v
	}
	if v := c.String("slot-name"); v != "" && c.IsSet("slot-name") {
		cfg.SlotName = v
	}
	if v := c.String("publication-name"); v != "" && c.IsSet("publication-name") {
		cfg.PublicationName = v
	}
	if c.Bool("create-slot") {
		cfg.CreateSlot = true
	}
	if v := c.String("start-lsn"); v != "" {
		cfg.StartLSN = v
	}
	if v := c.String("format"); v != "" && c.IsSet("format") {
		cfg.Format = v
	}
	if v := c.StringSlice("target"); len(v) > 0 && c.IsSet("target") {
		cfg.Targets = v
	}
	if v := c.String("nats-server"); v != "" {
		cfg.NatsServer = v
	}
	if v := c.String("nats-stream"); v != "" && c.IsSet("nats-stream") {
		cfg.NatsStream = v
	}
	if v := c.String("nats-subject-prefix"); v != "" && c.IsSet("nats-subject-prefix") {
		cfg.NatsSubjectPrefix = v
	}
	if v := c.String("feldera-url"); v != "" {
		cfg.FelderaURL = v
	}
	if v := c.String("feldera-pipeline"); v != "" {
		cfg.FelderaPipeline = v
	}
	if v := c.String("feldera-api-key"); v != "" {
		cfg.FelderaAPIKey = v
	}
	if v := c.StringSlice("feldera-tables"); len(v) > 0 {
		cfg.FelderaTables = v
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config) error {
	cache := pgwire.NewCache()

	sinks, err := buildSinks(cfg, cache)
	if err != nil {
		return fmt.Errorf("waltap: building sinks: %w", err)
	}
	composite := sink.NewComposite(sinks...)
	defer func() {
		if err := composite.Close(); err != nil {
			log.Error().Err(err).Msg("error closing sinks")
		}
	}()

	orch := orchestrator.New(cache, composite)

	var startLSN pgwire.LSN
	if cfg.StartLSN != "" {
		startLSN, err = pgwire.ParseLSN(cfg.StartLSN)
		if err != nil {
			return fmt.Errorf("waltap: parsing --start-lsn: %w", err)
		}
	}

	stream, err := replication.Open(ctx, replication.Config{
		ConnString:      cfg.DSN,
		SlotName:        cfg.SlotName,
		PublicationName: cfg.PublicationName,
		CreateSlot:      cfg.CreateSlot,
		StartLSN:        startLSN,
	})
	if err != nil {
		return fmt.Errorf("waltap: opening replication stream: %w", err)
	}
	defer func() {
		if err := stream.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("error closing replication connection")
		}
	}()

	messages := make(chan replication.Message, 64)
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- stream.Run(ctx, messages)
	}()

	orchErr := make(chan error, 1)
	go func() {
		orchErr <- orch.Run(ctx, messages)
	}()

	select {
	case err := <-orchErr:
		return err
	case err := <-streamErr:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown requested, waiting for in-flight sink calls to finish")
		<-orchErr
		return nil
	}
}

func buildSinks(cfg config.Config, cache *pgwire.Cache) ([]sink.Sink, error) {
	sinks := make([]sink.Sink, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		switch target {
		case config.TargetStdout:
			sinks = append(sinks, sink.NewStdoutSink(sink.Format(cfg.Format), cache, cfg.AppName, cfg.Version, true))
		case config.TargetNats:
			bus, err := sink.NewBusSink(cfg.NatsServer, cfg.NatsStream, cfg.NatsSubjectPrefix, cache)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, bus)
		case config.TargetFeldera:
			sinks = append(sinks, sink.NewHTTPSink(sink.HTTPSinkConfig{
				BaseURL:       cfg.FelderaURL,
				Pipeline:      cfg.FelderaPipeline,
				APIKey:        cfg.FelderaAPIKey,
				AllowedTables: cfg.FelderaTables,
			}, cache))
		default:
			return nil, fmt.Errorf("waltap: unknown target %q", target)
		}
	}
	return sinks, nil
}
