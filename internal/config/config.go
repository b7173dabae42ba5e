// Package config holds the CLI/file configuration surface and its
// validation rules: which targets are selected, and which options
// each selected target requires.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
)

// Target names the sinks a run can fan out to.
const (
	TargetStdout  = "stdout"
	TargetNats    = "nats"
	TargetFeldera = "feldera"
)

var validTargets = []string{TargetStdout, TargetNats, TargetFeldera}

// Config is the full configuration surface from §6: format selection,
// target list, and each target's option group.
type Config struct {
	AppName string `toml:"app_name"`
	Version string `toml:"version"`

	Format  string   `toml:"format"`
	Targets []string `toml:"target"`

	NatsServer        string `toml:"nats_server"`
	NatsStream        string `toml:"nats_stream"`
	NatsSubjectPrefix string `toml:"nats_subject_prefix"`

	FelderaURL      string   `toml:"feldera_url"`
	FelderaPipeline string   `toml:"feldera_pipeline"`
	FelderaAPIKey   string   `toml:"feldera_api_key"`
	FelderaTables   []string `toml:"feldera_tables"`

	DSN             string `toml:"dsn"`
	SlotName        string `toml:"slot_name"`
	PublicationName string `toml:"publication_name"`
	CreateSlot      bool   `toml:"create_slot"`
	StartLSN        string `toml:"start_lsn"`
}

var Default = Config{
	AppName:           "waltap",
	Version:           "0.1.0",
	Format:            "json",
	Targets:           []string{TargetStdout},
	NatsStream:        "waltap",
	NatsSubjectPrefix: "waltap",
	SlotName:          "waltap_slot",
	PublicationName:   "waltap_pub",
}

var validFormats = []string{"json", "json-pretty", "text", "debezium", "feldera"}

// LoadFile merges an optional TOML file over Default. A missing path
// is not an error; callers pass an empty path to skip it.
func LoadFile(path string) (Config, error) {
	cfg := Default
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces "required iff target selected" and "unknown
// target token is fatal" per §6. It is the last gate before any sink
// is constructed.
func (c Config) Validate() error {
	if !lo.Contains(validFormats, c.Format) {
		return fmt.Errorf("config: unknown format %q (want one of %s)", c.Format, strings.Join(validFormats, ", "))
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("config: at least one target is required")
	}

	for _, t := range c.Targets {
		if !lo.Contains(validTargets, t) {
			return fmt.Errorf("config: unknown target %q (want one of %s)", t, strings.Join(validTargets, ", "))
		}
	}

	if lo.Contains(c.Targets, TargetNats) {
		missing := lo.Filter([]string{"nats_server", "nats_stream", "nats_subject_prefix"}, func(name string, _ int) bool {
			switch name {
			case "nats_server":
				return c.NatsServer == ""
			case "nats_stream":
				return c.NatsStream == ""
			default:
				return c.NatsSubjectPrefix == ""
			}
		})
		if len(missing) > 0 {
			return fmt.Errorf("config: nats target requires %s", strings.Join(missing, ", "))
		}
	}

	if lo.Contains(c.Targets, TargetFeldera) {
		var missing []string
		if c.FelderaURL == "" {
			missing = append(missing, "feldera_url")
		}
		if c.FelderaPipeline == "" {
			missing = append(missing, "feldera_pipeline")
		}
		if len(missing) > 0 {
			return fmt.Errorf("config: feldera target requires %s", strings.Join(missing, ", "))
		}
	}

	if c.DSN == "" {
		return fmt.Errorf("config: dsn is required")
	}
	return nil
}
