package harness

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when no credential record exists for the
// requested owner and provider
var ErrNotFound = errors.New("credential record not found")

// ProviderCredentialRecord is one persisted credential bundle. At most one
// live record exists per (owner, provider); a second successful flow
// supersedes the first.
type ProviderCredentialRecord struct {
	OwnerUserID string          `json:"owner_user_id"`
	Provider    string          `json:"provider"`
	Payload     json.RawMessage `json:"payload"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CredentialStore is the only component allowed to mutate the durable
// credential store; all writes go through Upsert.
type CredentialStore interface {
	Upsert(ctx context.Context, ownerUserID, provider string, payload *TokenBundle) error
	Get(ctx context.Context, ownerUserID, provider string) (*ProviderCredentialRecord, error)
	List(ctx context.Context, ownerUserID string) ([]ProviderCredentialRecord, error)
}

// providerColumns maps provider names to their credential columns. The
// table keeps one row per application user with one column per provider
// holding that provider's bundle as an opaque JSON document. The map also
// guards against interpolating arbitrary strings into SQL.
var providerColumns = map[string]string{
	ProviderInstagram: "instagram",
	ProviderWhatsApp:  "whatsapp",
	ProviderFacebook:  "facebook",
	ProviderGoogle:    "google",
}

// SQLStore persists credential bundles in SQLite
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle. Call Init once to create the
// schema.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Init creates the credentials table if it does not exist
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS credentials (
			uid        TEXT PRIMARY KEY,
			instagram  TEXT,
			whatsapp   TEXT,
			facebook   TEXT,
			google     TEXT,
			updated_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create credentials table: %w", err)
	}
	return nil
}

// Upsert writes the provider bundle for the owner as a single atomic
// statement. ON CONFLICT replaces the earlier read-then-write sequence,
// which raced under concurrent flows for the same user.
func (s *SQLStore) Upsert(ctx context.Context, ownerUserID, provider string, payload *TokenBundle) error {
	column, ok := providerColumns[provider]
	if !ok {
		return fmt.Errorf("unknown provider: %s", provider)
	}

	doc, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO credentials (uid, %[1]s, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at`,
		column)

	if _, err := s.db.ExecContext(ctx, query, ownerUserID, string(doc), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to upsert %s credentials: %w", provider, err)
	}
	return nil
}

// Get returns the stored record for one owner and provider
func (s *SQLStore) Get(ctx context.Context, ownerUserID, provider string) (*ProviderCredentialRecord, error) {
	column, ok := providerColumns[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	query := fmt.Sprintf(`SELECT %s, updated_at FROM credentials WHERE uid = ?`, column)

	var doc sql.NullString
	var updatedAt string
	err := s.db.QueryRowContext(ctx, query, ownerUserID).Scan(&doc, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	if !doc.Valid || doc.String == "" {
		return nil, ErrNotFound
	}

	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("corrupt updated_at for %s: %w", ownerUserID, err)
	}

	return &ProviderCredentialRecord{
		OwnerUserID: ownerUserID,
		Provider:    provider,
		Payload:     json.RawMessage(doc.String),
		UpdatedAt:   ts,
	}, nil
}

// List returns all provider records stored for one owner
func (s *SQLStore) List(ctx context.Context, ownerUserID string) ([]ProviderCredentialRecord, error) {
	var records []ProviderCredentialRecord
	for provider := range providerColumns {
		rec, err := s.Get(ctx, ownerUserID, provider)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}

// FileStore is the local-storage deployment: one JSON document per
// (owner, provider) key, written whole. Overwrite is naturally idempotent,
// so no existing-record check is needed.
type FileStore struct {
	dir string
}

// NewFileStore creates the storage directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(ownerUserID, provider string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s_credentials.json", ownerUserID, provider))
}

// Upsert writes the bundle document for the key, replacing any previous one
func (s *FileStore) Upsert(ctx context.Context, ownerUserID, provider string, payload *TokenBundle) error {
	if _, ok := providerColumns[provider]; !ok {
		return fmt.Errorf("unknown provider: %s", provider)
	}

	record := ProviderCredentialRecord{
		OwnerUserID: ownerUserID,
		Provider:    provider,
		UpdatedAt:   time.Now().UTC(),
	}
	doc, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}
	record.Payload = doc

	out, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := os.WriteFile(s.path(ownerUserID, provider), out, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// Get reads the record for one owner and provider
func (s *FileStore) Get(ctx context.Context, ownerUserID, provider string) (*ProviderCredentialRecord, error) {
	data, err := os.ReadFile(s.path(ownerUserID, provider))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}

	var record ProviderCredentialRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("corrupt credential record: %w", err)
	}
	return &record, nil
}

// List returns all provider records stored for one owner
func (s *FileStore) List(ctx context.Context, ownerUserID string) ([]ProviderCredentialRecord, error) {
	var records []ProviderCredentialRecord
	for provider := range providerColumns {
		rec, err := s.Get(ctx, ownerUserID, provider)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, nil
}
