// Package cli defines the command line of the API server.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/code-runner-lcs/api-template-go/apperror"
	"github.com/code-runner-lcs/api-template-go/config"
	"github.com/code-runner-lcs/api-template-go/credential"
	"github.com/code-runner-lcs/api-template-go/db"
	"github.com/code-runner-lcs/api-template-go/logging"
	"github.com/code-runner-lcs/api-template-go/server"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// NewRootCmd builds the command tree. Running it without a subcommand
// serves the API.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "api",
		Short: "Authentication API server",
		Long: `Serves the HTTP API: account registration, login, password reset and
email confirmation, with every non-public route behind a session token.

Configuration is read from the environment and from a .env file in the
working directory when one exists.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadDotEnv()
		},
		RunE: runServe,
	}

	rootCmd.AddCommand(
		serveCmd(),
		migrateCmd(),
		hashPasswordCmd(),
	)
	return rootCmd
}

// Exit codes returned by Execute.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case apperror.Is(err, apperror.ConfigError):
		return exitConfigError
	default:
		return exitFailure
	}
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("failed to load .env file")
	}
}

// loadConfig reads the configuration and builds the logger it describes.
func loadConfig() (*config.AppConfig, *logrus.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Log, os.Stdout), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx, cfg, logger)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or revert the database schema",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(db.Up), string(db.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := db.ParseDirection(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled() {
				return fmt.Errorf("DB_NAME is not set, nothing to migrate")
			}

			pool, err := db.NewPool(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()
			sqlDB := db.OpenSQL(pool)
			defer sqlDB.Close()

			return db.RunMigrations(sqlDB, dir, logger)
		},
	}
}

func hashPasswordCmd() *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the bcrypt hash of a password",
		Long: `Print the bcrypt hash of a password, e.g. to seed an account by hand.
Without an argument the password is read from the terminal without echo.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordArg(cmd, args)
			if err != nil {
				return err
			}
			hasher, err := credential.NewHasher(cost, 1)
			if err != nil {
				return err
			}
			hash, err := hasher.Hash(cmd.Context(), password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", credential.DefaultCost, "bcrypt work factor")
	return cmd
}

func passwordArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password given and stdin is not a terminal")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}
