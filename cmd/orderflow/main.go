package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/carriermax/orderflow/internal/api"
	"github.com/carriermax/orderflow/internal/auth"
	"github.com/carriermax/orderflow/internal/catalog"
	"github.com/carriermax/orderflow/internal/flow"
	"github.com/carriermax/orderflow/internal/intent"
	"github.com/carriermax/orderflow/internal/purchase"
	"github.com/carriermax/orderflow/internal/store"
	"github.com/carriermax/orderflow/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for orderflow state data
	DefaultStateDir = "/var/lib/orderflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "orderflow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping orderflow with configured modules")
	if err := run(flags); err != nil {
		slog.Error("orderflow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("orderflow exited successfully")
}

func run(flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	tokens := auth.NewProvider(
		auth.NewHTTPTokenSource(*flags.tokenURL, *flags.clientID, *flags.clientSecret),
		auth.DefaultRefreshBuffer,
	)
	cat := catalog.NewHTTPCatalog(*flags.catalogURL, *flags.tenant, tokens)
	carrier := purchase.NewHTTPCarrierClient(*flags.carrierURL, *flags.tenant, tokens)
	orch := purchase.NewOrchestrator(carrier, cat)

	mgr := flow.NewContextManager(st, *flags.cartTTL)
	router := flow.NewRouter()

	var classifier intent.Classifier
	if *flags.openaiKey != "" {
		c, err := intent.NewOpenAIClassifier(*flags.openaiKey)
		if err != nil {
			return err
		}
		classifier = c
	} else {
		slog.Warn("No OpenAI API key configured; /route endpoint will be unavailable")
	}

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	srv := api.NewServer(mgr, router, orch, classifier, st, apiOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	APIAddr      string
	OpenAIKey    string
	Tenant       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	CatalogURL   string
	CarrierURL   string
	CartTTL      time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir     *string
	dbDSN        *string
	apiAddr      *string
	openaiKey    *string
	tenant       *string
	tokenURL     *string
	clientID     *string
	clientSecret *string
	catalogURL   *string
	carrierURL   *string
	cartTTL      *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("ORDERFLOW_STATE_DIR"),
		APIAddr:      os.Getenv("API_ADDR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		Tenant:       os.Getenv("CARRIER_TENANT"),
		TokenURL:     os.Getenv("CARRIER_TOKEN_URL"),
		ClientID:     os.Getenv("CARRIER_CLIENT_ID"),
		ClientSecret: os.Getenv("CARRIER_CLIENT_SECRET"),
		CatalogURL:   os.Getenv("CATALOG_BASE_URL"),
		CarrierURL:   os.Getenv("CARRIER_BASE_URL"),
		CartTTL:      util.ParseDurationEnv("CART_TTL", store.DefaultCartTTL),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ORDERFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"ORDERFLOW_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"CARRIER_TENANT", config.Tenant,
		"CARRIER_TOKEN_URL_SET", config.TokenURL != "",
		"CARRIER_CLIENT_ID_SET", config.ClientID != "",
		"CATALOG_BASE_URL", config.CatalogURL,
		"CARRIER_BASE_URL", config.CarrierURL,
		"CART_TTL", config.CartTTL)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for orderflow data (overrides $ORDERFLOW_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN for the session store (overrides $DATABASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for intent classification (overrides $OPENAI_API_KEY)"),
		tenant:       flag.String("tenant", config.Tenant, "carrier tenant identifier (overrides $CARRIER_TENANT)"),
		tokenURL:     flag.String("token-url", config.TokenURL, "carrier identity token endpoint (overrides $CARRIER_TOKEN_URL)"),
		clientID:     flag.String("client-id", config.ClientID, "carrier API client id (overrides $CARRIER_CLIENT_ID)"),
		clientSecret: flag.String("client-secret", config.ClientSecret, "carrier API client secret (overrides $CARRIER_CLIENT_SECRET)"),
		catalogURL:   flag.String("catalog-url", config.CatalogURL, "catalog service base URL (overrides $CATALOG_BASE_URL)"),
		carrierURL:   flag.String("carrier-url", config.CarrierURL, "carrier order API base URL (overrides $CARRIER_BASE_URL)"),
		cartTTL:      flag.Duration("cart-ttl", config.CartTTL, "cart time-to-live (overrides $CART_TTL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"openaiKeySet", *flags.openaiKey != "",
		"tenant", *flags.tenant,
		"catalogURL", *flags.catalogURL,
		"carrierURL", *flags.carrierURL,
		"cartTTL", *flags.cartTTL)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore constructs the session store from the resolved DSN
func buildStore(flags Flags) (store.Store, error) {
	opts := []store.Option{store.WithDSN(*flags.dbDSN), store.WithCartTTL(*flags.cartTTL)}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return store.NewPostgresStore(opts...)
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(opts...)
}
