package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facegate/internal/config"
	"github.com/andresmejia3/facegate/internal/logging"
	"github.com/andresmejia3/facegate/internal/store"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/andresmejia3/facegate/internal/worker"
	"github.com/spf13/cobra"
)

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// Cfg is the loaded configuration
	Cfg *config.Config

	configPath string
	dbURL      string
	logLevel   string
)

// Version is the application version.
const Version = "0.1.0"

// Commands carrying this annotation run without a database connection.
const noDBAnnotation = "facegate/no-db"

var rootCmd = &cobra.Command{
	Use:     "facegate",
	Short:   "Secure messaging server with face-verified login",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbURL != "" {
			Cfg.Database.URL = dbURL
		}
		if logLevel != "" {
			Cfg.Log.Level = logLevel
		}
		if err := Cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logging.Init(logging.Config{Level: Cfg.Log.Level, Format: Cfg.Log.Format})

		if cmd.Annotations[noDBAnnotation] == "true" {
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
}

// closeDB releases the pool opened by PersistentPreRunE, if any.
var closeDB = func() {
	if DB != nil {
		DB.Close()
		DB = nil
	}
}

// Execute runs the root command with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run executes the command tree and closes the database on every path, including failures.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer closeDB()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		reportError(os.Stderr, err)
	}
	return err
}

// shownError marks an error whose details were already printed with utils.ShowError.
type shownError struct{ err error }

func (e shownError) Error() string { return e.err.Error() }
func (e shownError) Unwrap() error { return e.err }

// showError prints the error box and returns err marked so Execute does not print it again.
func showError(context string, err error, workerLogs string) error {
	utils.ShowError(context, err, workerLogs)
	return shownError{err: err}
}

func reportError(w io.Writer, err error) {
	var shown shownError
	if errors.As(err, &shown) {
		return
	}
	fmt.Fprintln(w, err)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (default: facegate.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// newFaceClient builds the worker client from the loaded configuration.
func newFaceClient() (*worker.Client, error) {
	return worker.New(worker.Config{
		Command:       Cfg.Worker.Command,
		Args:          Cfg.Worker.Args,
		Env:           Cfg.Worker.Env,
		Timeout:       Cfg.Worker.Timeout,
		MaxConcurrent: Cfg.Worker.MaxConcurrent,
		Dimension:     Cfg.Worker.Dimension,
	})
}
