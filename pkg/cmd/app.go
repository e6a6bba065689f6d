package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/anivanovic/gotrack/pkg/announce"
	"github.com/anivanovic/gotrack/pkg/logger"
	"github.com/anivanovic/gotrack/pkg/mux"
	"github.com/anivanovic/gotrack/pkg/printer"
	"github.com/anivanovic/gotrack/pkg/tracker"
)

type (
	AppConfig struct {
		Log struct {
			Level  string `mapstructure:"level"`
			Format string `mapstructure:"format"`
		} `mapstructure:"log"`
		Tracker struct {
			Timeout         time.Duration `mapstructure:"timeout"`
			MaxRetries      int           `mapstructure:"max_retries"`
			ConnectionIDTTL time.Duration `mapstructure:"connection_id_ttl"`
			NumWant         int32         `mapstructure:"num_want"`
			Port            uint16        `mapstructure:"port"`
		} `mapstructure:"tracker"`
		Mux struct {
			PollInterval time.Duration `mapstructure:"poll_interval"`
		} `mapstructure:"mux"`
		Announce struct {
			Attempts   uint          `mapstructure:"attempts"`
			RetryDelay time.Duration `mapstructure:"retry_delay"`
			Rate       float64       `mapstructure:"rate"`
			Burst      int           `mapstructure:"burst"`
		} `mapstructure:"announce"`
	}

	App struct {
		v       *viper.Viper
		cfgPath string
		rootCmd *cobra.Command
		out     io.Writer
		errOut  io.Writer
	}

	AppContext struct {
		log     *zap.Logger
		printer printer.Printer
		cfg     AppConfig
	}
)

func NewApp() *App {
	return newApp(os.Stdout, os.Stderr)
}

func newApp(out, errOut io.Writer) *App {
	rootCmd := &cobra.Command{
		Use:           "gotrack",
		Short:         "Announce torrents to UDP trackers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	app := &App{
		v:       viper.New(),
		rootCmd: rootCmd,
		out:     out,
		errOut:  errOut,
	}
	setDefaults(app.v)

	flags := rootCmd.PersistentFlags()
	flags.StringP("log-level", "l", "info", "App logging level ["+strings.Join(logger.Levels, ",")+"]")
	flags.String("log-format", "color", "Logging format ["+strings.Join(logger.Formats, ",")+"]")
	flags.StringVar(&app.cfgPath, "config", "", "Config file location")
	_ = app.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = app.v.BindPFlag("log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(NewAnnounceCommand(app))
	rootCmd.AddCommand(NewInspectCommand(app))
	rootCmd.AddCommand(NewBencodeCommand(app))
	rootCmd.AddCommand(NewVersionCommand())

	return app
}

func setDefaults(v *viper.Viper) {
	trackerCfg := tracker.DefaultConfig()
	announceCfg := announce.DefaultConfig()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("tracker.timeout", time.Second*5)
	v.SetDefault("tracker.max_retries", 3)
	v.SetDefault("tracker.connection_id_ttl", trackerCfg.ConnectionIDTTL)
	v.SetDefault("tracker.num_want", trackerCfg.NumWant)
	v.SetDefault("tracker.port", trackerCfg.Port)
	v.SetDefault("mux.poll_interval", mux.DefaultPollInterval)
	v.SetDefault("announce.attempts", announceCfg.Attempts)
	v.SetDefault("announce.retry_delay", announceCfg.RetryDelay)
	v.SetDefault("announce.rate", announceCfg.Rate)
	v.SetDefault("announce.burst", announceCfg.Burst)
}

func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

func (a *App) ExecuteContext(ctx context.Context, args ...string) error {
	a.rootCmd.SetArgs(args)
	return a.rootCmd.ExecuteContext(ctx)
}

func (a *App) initConfig() error {
	if a.cfgPath != "" {
		a.v.SetConfigFile(a.cfgPath)
	} else {
		a.v.AddConfigPath("$HOME")
		a.v.AddConfigPath(".")
		a.v.SetConfigName(".gotrack")
	}

	a.v.SetEnvPrefix("gotrack")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()
	a.v.SetConfigType("yaml")
	if err := a.v.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError

		// if we do not find configuration and we specified it
		isPathErr := errors.As(err, &cfgNotFound)
		if isPathErr && a.cfgPath != "" {
			return cfgNotFound
		}

		if !isPathErr {
			return err
		}
	}

	return nil
}

func (a *App) loadConfig() (AppConfig, error) {
	var cfg AppConfig
	if err := a.initConfig(); err != nil {
		return cfg, fmt.Errorf("could not resolve configuration: %w", err)
	}
	if err := a.v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("could not decode configuration: %w", err)
	}
	return cfg, nil
}

func (a *App) NewCmdRun(
	fn func(ctx context.Context, appCtx AppContext, args []string) error,
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		cfg, err := a.loadConfig()
		if err != nil {
			return err
		}
		l, err := logger.New(cfg.Log.Level, cfg.Log.Format, a.errOut)
		if err != nil {
			return err
		}
		defer func() { _ = l.Sync() }()

		appCtx := AppContext{
			log:     l,
			printer: printer.New(a.out, a.errOut),
			cfg:     cfg,
		}
		return fn(ctx, appCtx, args)
	}
}

func (c AppConfig) TrackerConfig() tracker.Config {
	cfg := tracker.DefaultConfig()
	cfg.Timeout = c.Tracker.Timeout
	cfg.MaxRetries = c.Tracker.MaxRetries
	cfg.ConnectionIDTTL = c.Tracker.ConnectionIDTTL
	cfg.NumWant = c.Tracker.NumWant
	cfg.Port = c.Tracker.Port
	return cfg
}

func (c AppConfig) AnnounceConfig() announce.Config {
	return announce.Config{
		Tracker:    c.TrackerConfig(),
		Attempts:   c.Announce.Attempts,
		RetryDelay: c.Announce.RetryDelay,
		Rate:       c.Announce.Rate,
		Burst:      c.Announce.Burst,
	}
}
