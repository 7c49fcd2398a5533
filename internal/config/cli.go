package config

import (
	"flag"
	"fmt"
	"io"
	"os"
)

// CLIFlags holds command-line overrides. Nil fields were not set.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	Transport  *string
	AgentURL   *string
	NatsURL    *string
	DSN        *string
}

// ParseFlags parses server flags. Only flags present in args are set.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("opspilot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath, port, logLevel, transport, agentURL, natsURL, dsn string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "path to YAML config (shorthand)")
	fs.StringVar(&port, "port", "", "HTTP port")
	fs.StringVar(&port, "p", "", "HTTP port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
	fs.StringVar(&transport, "transport", "", "engine channel transport: websocket|nats|loopback")
	fs.StringVar(&agentURL, "agent-url", "", "WebSocket URL of the remote agent")
	fs.StringVar(&natsURL, "nats-url", "", "NATS server URL")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, fmt.Errorf("parse flags: %w", err)
	}

	var f CLIFlags
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "config", "c":
			f.ConfigPath = &configPath
		case "port", "p":
			f.Port = &port
		case "log-level":
			f.LogLevel = &logLevel
		case "transport":
			f.Transport = &transport
		case "agent-url":
			f.AgentURL = &agentURL
		case "nats-url":
			f.NatsURL = &natsURL
		case "dsn":
			f.DSN = &dsn
		}
	})
	return f, nil
}

// LoadWithCLI loads the config with the hierarchy defaults < YAML < ENV < CLI
// and returns the YAML path that was used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if v := os.Getenv("OPSPILOT_CONFIG"); v != "" {
		path = v
	}
	if flags.ConfigPath != nil {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, f CLIFlags) {
	if f.Port != nil {
		cfg.Server.Port = *f.Port
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
	if f.Transport != nil {
		cfg.Channel.Transport = *f.Transport
	}
	if f.AgentURL != nil {
		cfg.Channel.AgentURL = *f.AgentURL
	}
	if f.NatsURL != nil {
		cfg.NATS.URL = *f.NatsURL
	}
	if f.DSN != nil {
		cfg.Postgres.DSN = *f.DSN
	}
}
