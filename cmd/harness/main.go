package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	harness "github.com/digitalerp/oauth-harness"
	mcpharness "github.com/digitalerp/oauth-harness/mcp"
)

func main() {
	cfg, err := harness.FromEnv()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	store, cleanup, err := openStore()
	if err != nil {
		log.Fatalf("Store error: %v", err)
	}
	defer cleanup()

	mux := http.NewServeMux()

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    "oauth-harness",
		Version: "1.0.0",
	}, nil)

	hs, mcpHandler, err := mcpharness.WithHarness(mux, cfg, store, mcpServer)
	if err != nil {
		log.Fatalf("Harness setup failed: %v", err)
	}
	mux.Handle("/mcp", mcpHandler)

	hs.LogStartup()

	addr := ":" + getEnv("HARNESS_PORT", "8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Listening on %s", addr)

	certFile := os.Getenv("HTTPS_CERT_FILE")
	keyFile := os.Getenv("HTTPS_KEY_FILE")
	if certFile != "" && keyFile != "" {
		err = srv.ListenAndServeTLS(certFile, keyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// openStore selects the credential store backend: SQLite by default, a
// plain file store when HARNESS_STORE=file
func openStore() (harness.CredentialStore, func(), error) {
	if getEnv("HARNESS_STORE", "sqlite") == "file" {
		fs, err := harness.NewFileStore(getEnv("HARNESS_STORE_DIR", "credentials"))
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}

	db, err := sql.Open("sqlite", getEnv("HARNESS_DB", "harness.db"))
	if err != nil {
		return nil, nil, err
	}

	store := harness.NewSQLStore(db)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return store, func() { _ = db.Close() }, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
