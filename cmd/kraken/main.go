package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/grantgumina/kraken/internal/api"
	"github.com/grantgumina/kraken/internal/credential"
	"github.com/grantgumina/kraken/internal/log"
	"github.com/grantgumina/kraken/internal/model"
)

var (
	userConfigPath string // /default/config/path/kraken on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagEnvFile        string // value of --env-file flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "kraken")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is kraken.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "dotenv file with KRAKEN_* overrides - default is .env in current directory if present")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initKraken

	newCmd.AddCommand(newJobCmd)
	showCmd.AddCommand(showJobsCmd)
	showCmd.AddCommand(showJobCmd)
	removeCmd.AddCommand(removeJobCmd)

	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	// the first signal cancels ctx, a second one gets the default behaviour
	context.AfterFunc(ctx, stop)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("kraken failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "kraken",
	Short:        "Run shell commands in the background and ship their output to a log service",
	SilenceUsage: true,
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "create a new resource",
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "show jobs and their logs",
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "remove a resource",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a kraken",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			_, _ = fmt.Fprintln(out, "kraken: version info not available")
			return
		}

		if configPath != "" {
			_, _ = fmt.Fprintf(out, "config: %s\n", configPath)
		}
		_, _ = fmt.Fprintf(out, "kraken: %s\n", info.Main.Version)
		_, _ = fmt.Fprintf(out, "go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				_, _ = fmt.Fprintf(out, "commit: %s\n", s.Value)
			case "vcs.time":
				_, _ = fmt.Fprintf(out, "date:   %s\n", s.Value)
			case "vcs.modified":
				_, _ = fmt.Fprintf(out, "dirty:  %s\n", s.Value)
			}
		}
	},
}

func initKraken(cmd *cobra.Command, _ []string) error {
	// the daemon gets its configuration from the job spec on stdin
	if cmd == daemonCmd {
		slog.SetDefault(log.New(os.Stderr, flagVerbose, log.FormatJSON))
		return nil
	}

	if err := loadEnvFile(); err != nil {
		return err
	}

	if envConfig, ok := os.LookupEnv("KRAKENCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "kraken.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "kraken.yaml")
		if err := storeDefaultConfig(configPath, config); err != nil {
			return err
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	if err := applyEnv(&config, os.LookupEnv); err != nil {
		return err
	}
	// --verbose has a precedence over config file
	if flagVerbose {
		config.Verbose = true
	}

	slog.SetDefault(log.New(os.Stderr, config.Verbose, config.LogFormat))
	slog.Debug("kraken run", "configPath", configPath)
	slog.Debug("kraken run", "config", config)
	return nil
}

func loadEnvFile() error {
	if flagEnvFile != "" {
		if err := godotenv.Load(flagEnvFile); err != nil {
			return fmt.Errorf("loading env file: %w", err)
		}
		return nil
	}
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// applyEnv overrides cfg from KRAKEN_* variables and validates the result.
func applyEnv(cfg *model.Config, lookup func(string) (string, bool)) error {
	if err := cfg.ApplyEnv(lookup); err != nil {
		return fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

func storeDefaultConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := model.StoreConfig(f, cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func credentials() (credential.Store, error) {
	return credential.New(config.Credentials)
}

// apiClient returns a client of the configured server, authenticated with
// the stored token unless anonymous is set.
func apiClient(anonymous bool) (*api.Client, error) {
	client, err := api.New(config.Server.URL.String(), config.Server.Timeout)
	if err != nil {
		return nil, err
	}
	if anonymous {
		return client, nil
	}
	store, err := credentials()
	if err != nil {
		return nil, err
	}
	token, err := store.Retrieve()
	if err != nil {
		return nil, err
	}
	return client.WithToken(token), nil
}
