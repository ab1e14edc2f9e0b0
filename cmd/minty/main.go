package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/urfave/cli/v2"
	"go.sia.tech/minty/build"
	"go.sia.tech/minty/config"
	"go.sia.tech/minty/pin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

var (
	cfg = config.Config{
		Pin: config.Pin{
			PollInterval: pin.DefaultPollInterval,
			Timeout:      pin.DefaultTimeout,
		},
		IPFS: config.IPFS{
			ListenAddresses: []string{
				"/ip4/0.0.0.0/tcp/4001",
				"/ip6/::/tcp/4001",
				"/ip4/0.0.0.0/udp/4001/quic-v1",
				"/ip6/::/udp/4001/quic-v1",
			},
			DHTMode:   "client",
			Bootstrap: true,
		},
		API: config.API{
			Address: ":8081",
		},
		Log: config.Log{
			Level: "info",
		},
	}
)

// loadConfig loads minty.yml from the data directory. A missing file is not
// an error.
func loadConfig(dir string) error {
	configPath := filepath.Join(dir, "minty.yml")

	f, err := os.Open(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("failed to decode config file: %w", err)
	}
	return nil
}

// loadEnv loads .env from the data directory and applies MINTY_PINNING_*
// overrides to the pinning services.
func loadEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %q: %w", envPath, err)
	}

	var svc config.PinningService
	if err := envconfig.Process("MINTY_PINNING", &svc); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	} else if svc.Endpoint == "" && svc.AccessToken == "" {
		return nil
	}
	if svc.Name == "" {
		svc.Name = "default"
	}

	for i, existing := range cfg.Pinning {
		if existing.Name != svc.Name {
			continue
		}
		if svc.Endpoint != "" {
			existing.Endpoint = svc.Endpoint
		}
		if svc.AccessToken != "" {
			existing.AccessToken = svc.AccessToken
		}
		cfg.Pinning[i] = existing
		return nil
	}
	cfg.Pinning = append([]config.PinningService{svc}, cfg.Pinning...)
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid log level %q", s)
}

func main() {
	consoleCfg := zap.NewProductionEncoderConfig()
	consoleCfg.TimeKey = "" // prevent duplicate timestamps
	consoleCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	consoleCfg.EncodeDuration = zapcore.StringDurationEncoder
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCfg.StacktraceKey = ""
	consoleCfg.CallerKey = ""
	consoleEncoder := zapcore.NewConsoleEncoder(consoleCfg)

	// log to stderr so command output can be piped
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level)
	log := zap.New(consoleCore, zap.AddCaller())
	defer log.Sync()
	// redirect stdlib log to zap
	zap.RedirectStdLog(log.Named("stdlib"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	app := &cli.App{
		Name:    "minty",
		Usage:   "add content to IPFS and pin it to remote pinning services",
		Version: build.Version(),
		// metadata values may contain commas
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "dir",
				Value: ".",
				Usage: "directory to use for data",
			},
		},
		Before: func(c *cli.Context) error {
			dir := c.String("dir")
			if err := loadConfig(dir); err != nil {
				return err
			} else if err := loadEnv(dir); err != nil {
				return err
			}

			l, err := parseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			level.SetLevel(l)
			return nil
		},
		Commands: []*cli.Command{
			serveCmd(log),
			addCmd(log),
			pinCmd(log),
			getCmd(log),
			statusCmd(log),
			lsCmd(log),
			{
				Name:  "version",
				Usage: "Print version information.",
				Action: func(*cli.Context) error {
					fmt.Println("minty", build.Version())
					fmt.Println("Commit:", build.Commit())
					fmt.Println("Build Date:", build.Time().Format(time.RFC3339))
					return nil
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal("command failed", zap.Error(err))
	}
}
