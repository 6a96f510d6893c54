package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/TextCartHQ/TextCart/internal/api"
	"github.com/TextCartHQ/TextCart/internal/catalog"
	"github.com/TextCartHQ/TextCart/internal/clarify"
	"github.com/TextCartHQ/TextCart/internal/classify"
	"github.com/TextCartHQ/TextCart/internal/flow"
	"github.com/TextCartHQ/TextCart/internal/genai"
	"github.com/TextCartHQ/TextCart/internal/memory"
	"github.com/TextCartHQ/TextCart/internal/messaging"
	"github.com/TextCartHQ/TextCart/internal/models"
	"github.com/TextCartHQ/TextCart/internal/state"
	"github.com/TextCartHQ/TextCart/internal/store"
	"github.com/TextCartHQ/TextCart/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TextCart state data
	DefaultStateDir = "/var/lib/textcart"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "textcart.db"
	// DefaultTenant is used when no tenant routing is configured
	DefaultTenant = "default"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping TextCart with configured modules")
	if err := run(flags); err != nil {
		slog.Error("TextCart failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TextCart exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	APIAddr       string
	DefaultTenant string
	CatalogFile   string
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	apiAddr       *string
	defaultTenant *string
	catalogFile   *string
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
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("TEXTCART_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		APIAddr:       os.Getenv("API_ADDR"),
		DefaultTenant: os.Getenv("TEXTCART_DEFAULT_TENANT"),
		CatalogFile:   os.Getenv("TEXTCART_CATALOG_FILE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TEXTCART_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DefaultTenant == "" {
		config.DefaultTenant = DefaultTenant
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"TEXTCART_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TEXTCART_DEFAULT_TENANT", config.DefaultTenant,
		"TEXTCART_CATALOG_FILE", config.CatalogFile)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for TextCart data (overrides $TEXTCART_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN, PostgreSQL URL or SQLite path (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		defaultTenant: flag.String("default-tenant", config.DefaultTenant, "tenant for inbound messages without routing info (overrides $TEXTCART_DEFAULT_TENANT)"),
		catalogFile:   flag.String("catalog-file", config.CatalogFile, "JSON file with per-tenant product catalogs (overrides $TEXTCART_CATALOG_FILE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"defaultTenant", *flags.defaultTenant,
		"catalogFile", *flags.catalogFile)

	// Follow the state directory if it was moved and the DSN was derived from it
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// buildStore selects and opens the persistence backend for the DSN.
func buildStore(dsn string) (store.Store, store.DedupRepo, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		ps, err := store.NewPostgresStore(store.WithDSN(dsn))
		if err != nil {
			return nil, nil, err
		}
		return ps, ps, nil
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	ss, err := store.NewSQLiteStore(store.WithDSN(dsn))
	if err != nil {
		return nil, nil, err
	}
	return ss, ss, nil
}

// buildGenAI creates the AI client, or returns nil to run rules-only.
func buildGenAI(flags Flags) genai.ClientInterface {
	if util.ParseBoolEnv("TEXTCART_AI_DISABLED", false) {
		slog.Warn("AI explicitly disabled via TEXTCART_AI_DISABLED, running rules-only")
		return nil
	}
	if *flags.openaiKey == "" {
		slog.Warn("No OpenAI API key configured, AI classification and fallback replies disabled")
		return nil
	}
	client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		slog.Warn("Failed to create GenAI client, continuing rules-only", "error", err)
		return nil
	}
	return client
}

// buildCatalog loads the per-tenant catalog file when configured.
func buildCatalog(flags Flags) catalog.Catalog {
	if *flags.catalogFile == "" {
		slog.Warn("No catalog file configured, product lookups will miss")
		return catalog.NewInMemoryCatalog()
	}
	c, err := catalog.LoadFile(*flags.catalogFile)
	if err != nil {
		slog.Error("Failed to load catalog file, starting empty", "error", err, "path", *flags.catalogFile)
		return catalog.NewInMemoryCatalog()
	}
	return c
}

// buildMessaging selects the transport: Twilio when credentials are present,
// console logging otherwise.
func buildMessaging(flags Flags) (messaging.Service, *messaging.TwilioService) {
	if os.Getenv("TWILIO_ACCOUNT_SID") == "" {
		slog.Warn("No Twilio credentials configured, using console messaging")
		return messaging.NewConsoleService(), nil
	}
	ts, err := messaging.NewTwilioService(messaging.WithDefaultTenant(*flags.defaultTenant))
	if err != nil {
		slog.Warn("Failed to create Twilio service, using console messaging", "error", err)
		return messaging.NewConsoleService(), nil
	}
	return ts, ts
}

// run composes the modules and serves until interrupted.
func run(flags Flags) error {
	st, dedup, err := buildStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	gaClient := buildGenAI(flags)
	cat := buildCatalog(flags)
	cart := catalog.NewInMemoryCart()

	msgService, twilioService := buildMessaging(flags)

	aiTimeout := util.ParseDurationEnv("TEXTCART_AI_TIMEOUT", classify.DefaultAITimeout)
	memoryWindow := util.ParseIntEnv("TEXTCART_MEMORY_WINDOW", models.MemoryWindowSize)

	orchestrator := flow.NewOrchestrator(flow.Deps{
		Store:      st,
		Dedup:      dedup,
		States:     state.NewManager(st),
		Memory:     memory.NewStoreWithWindow(st, cart, memoryWindow),
		Classifier: classify.NewClassifierWithTimeout(gaClient, aiTimeout),
		Clarifier:  clarify.NewEngine(gaClient),
		Catalog:    cat,
		Cart:       cart,
		Sender:     msgService,
		GenAI:      gaClient,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Failed to stop messaging service", "error", err)
		}
	}()

	defaultTenant := *flags.defaultTenant
	dispatcher := messaging.NewDispatcher(msgService, func(ctx context.Context, msg messaging.InboundMessage) error {
		tenant := msg.TenantID
		if tenant == "" {
			tenant = defaultTenant
		}
		identifier, err := msgService.ValidateAndCanonicalizeRecipient(msg.From)
		if err != nil {
			slog.Warn("Dropping inbound message with invalid sender", "error", err, "from", msg.From)
			return nil
		}
		_, err = orchestrator.HandleInboundMessage(ctx, tenant, identifier, msg.MessageID, msg.Body)
		return err
	})
	dispatcher.Start(ctx)

	apiOpts := []api.Option{api.WithDefaultTenant(defaultTenant)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if twilioService != nil {
		apiOpts = append(apiOpts, api.WithProviderWebhook(twilioService.WebhookHandler))
	}

	server := api.NewServer(orchestrator, msgService, apiOpts...)
	return server.Run(ctx)
}
