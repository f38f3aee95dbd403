package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/lynx/internal/api/auth"
	"github.com/good-yellow-bee/lynx/internal/storage"
	"github.com/good-yellow-bee/lynx/pkg/config"
)

// jwtSecretEnv names the environment variable holding the API signing key.
const jwtSecretEnv = "LYNX_JWT_SECRET"

var (
	configFile string
	grpcAddr   string
	httpAddr   string
	verbose    bool

	tokenUser string
	tokenTTL  time.Duration

	versionJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "lynx-server",
	Short: "Lynx Server - fleet monitoring hub",
	Long: `Lynx Server receives telemetry from agents, evaluates alert rules
against it and notifies the configured destinations.`,
	SilenceUsage: true,
	RunE:         runServer,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub (default command)",
	RunE:  runServer,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a user id",
	RunE:  runToken,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !versionJSON {
			fmt.Println(config.VersionString())
			return nil
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(config.GetBuildInfo())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&grpcAddr, "address", "a", "", "gRPC listen address")
	rootCmd.PersistentFlags().StringVar(&httpAddr, "http-address", "", "HTTP API listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "user id to embed in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print build information as JSON")

	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file when given and applies CLI overrides.
func loadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if grpcAddr != "" {
		cfg.Server.GRPCAddress = grpcAddr
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	cfg.Verbose = verbose
	return cfg, nil
}

// openStore opens and migrates the SQLite database, creating its directory.
func openStore(path string) (*storage.SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store := storage.NewSQLiteStorage(path)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.ClickHouse.Enabled {
		ch := storage.NewClickHouseStorage(clickHouseConfig(cfg), store.Systems())
		if err := ch.Open(); err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer ch.Close()
		if err := ch.Migrate(); err != nil {
			return fmt.Errorf("migrate clickhouse: %w", err)
		}
	}

	fmt.Printf("database migrated: %s\n", cfg.Database.Path)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	secret := os.Getenv(jwtSecretEnv)
	if secret == "" {
		return fmt.Errorf("%s environment variable is required", jwtSecretEnv)
	}

	token, err := auth.NewJWTService([]byte(secret), tokenTTL).GenerateToken(tokenUser)
	if err != nil {
		return fmt.Errorf("generate token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func clickHouseConfig(cfg *Config) *storage.ClickHouseConfig {
	return &storage.ClickHouseConfig{
		Addresses:     cfg.ClickHouse.Addresses,
		Database:      cfg.ClickHouse.Database,
		Username:      cfg.ClickHouse.Username,
		Password:      cfg.ClickHouse.Password,
		Compression:   cfg.ClickHouse.Compression,
		RetentionDays: cfg.ClickHouse.RetentionDays,
	}
}
