package main

import (
	"os"
	"path/filepath"
	"testing"
)

func stringPtr(s string) *string { return &s }

func testFlags(dbDSN, catalogFile, openaiKey string) Flags {
	return Flags{
		stateDir:      stringPtr(filepath.Dir(dbDSN)),
		dbDSN:         stringPtr(dbDSN),
		openaiKey:     stringPtr(openaiKey),
		apiAddr:       stringPtr(""),
		defaultTenant: stringPtr(DefaultTenant),
		catalogFile:   stringPtr(catalogFile),
	}
}

func TestLoadEnvironmentConfigDefaults(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "TEXTCART_STATE_DIR", "TEXTCART_DEFAULT_TENANT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	config := loadEnvironmentConfig()
	if config.StateDir != DefaultStateDir {
		t.Errorf("expected default state dir %s, got %s", DefaultStateDir, config.StateDir)
	}
	if config.DefaultTenant != DefaultTenant {
		t.Errorf("expected default tenant %s, got %s", DefaultTenant, config.DefaultTenant)
	}
	want := filepath.Join(DefaultStateDir, DefaultDBFileName)
	if config.DatabaseURL != want {
		t.Errorf("expected SQLite default %s, got %s", want, config.DatabaseURL)
	}
}

func TestLoadEnvironmentConfigRespectsDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://user:pw@localhost/textcart")

	config := loadEnvironmentConfig()
	if config.DatabaseURL != "postgres://user:pw@localhost/textcart" {
		t.Errorf("expected DATABASE_URL preserved, got %s", config.DatabaseURL)
	}
}

func TestEnsureDirectoriesExist(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), "nested", "state")
	flags := testFlags(filepath.Join(stateDir, DefaultDBFileName), "", "")

	if err := ensureDirectoriesExist(flags); err != nil {
		t.Fatalf("ensureDirectoriesExist failed: %v", err)
	}
	info, err := os.Stat(stateDir)
	if err != nil || !info.IsDir() {
		t.Errorf("expected state directory to be created: %v", err)
	}
}

func TestEnsureDirectoriesExistSkipsPostgres(t *testing.T) {
	flags := testFlags("postgres://user:pw@localhost/textcart", "", "")
	if err := ensureDirectoriesExist(flags); err != nil {
		t.Errorf("expected no directory work for PostgreSQL DSN, got %v", err)
	}
}

func TestBuildStoreSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), DefaultDBFileName)

	st, dedup, err := buildStore(dbPath)
	if err != nil {
		t.Fatalf("buildStore failed: %v", err)
	}
	defer st.Close()
	if dedup == nil {
		t.Error("expected dedup repo from SQLite store")
	}

	conv, err := st.UpsertConversation("t1", "911234567890")
	if err != nil || conv == nil {
		t.Fatalf("expected working store: %v", err)
	}
}

func TestBuildGenAIWithoutKey(t *testing.T) {
	flags := testFlags("textcart.db", "", "")
	if client := buildGenAI(flags); client != nil {
		t.Error("expected nil client without an API key")
	}
}

func TestBuildCatalogFallsBackToEmpty(t *testing.T) {
	// Missing file falls back to an empty catalog rather than failing boot.
	flags := testFlags("textcart.db", filepath.Join(t.TempDir(), "missing.json"), "")
	if c := buildCatalog(flags); c == nil {
		t.Error("expected empty catalog fallback")
	}

	flags = testFlags("textcart.db", "", "")
	if c := buildCatalog(flags); c == nil {
		t.Error("expected empty catalog when unconfigured")
	}
}

func TestBuildMessagingWithoutCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	os.Unsetenv("TWILIO_ACCOUNT_SID")

	flags := testFlags("textcart.db", "", "")
	svc, twilio := buildMessaging(flags)
	if svc == nil {
		t.Fatal("expected a messaging service")
	}
	if twilio != nil {
		t.Error("expected no Twilio service without credentials")
	}
	_ = svc.Stop()
}
