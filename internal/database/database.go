package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"kirimkan/internal/models"
	"kirimkan/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the persisted webhook configuration store. Absence of a
// row means "not configured" for that session.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	// Validate database path to prevent directory traversal
	if !filepath.IsAbs(dbPath) {
		if err := security.ValidateFilePath(dbPath); err != nil {
			return nil, fmt.Errorf("invalid database path: %w", err)
		}
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveWebhookConfig inserts or replaces the configuration for a session.
func (d *Database) SaveWebhookConfig(ctx context.Context, sessionID string, cfg models.WebhookConfig) error {
	urls, err := d.marshalURLs(cfg.CallbackURLs)
	if err != nil {
		return err
	}

	whitelist, err := json.Marshal(cfg.DomainWhitelist)
	if err != nil {
		return fmt.Errorf("failed to marshal domain whitelist: %w", err)
	}

	events, err := json.Marshal(cfg.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	_, err = d.db.ExecContext(ctx, upsertWebhookConfigQuery,
		sessionID, urls, boolToInt(cfg.Retry), string(whitelist), string(events))
	if err != nil {
		return fmt.Errorf("failed to save webhook config: %w", err)
	}
	return nil
}

// GetWebhookConfig returns the stored configuration for a session, or
// nil when none is stored.
func (d *Database) GetWebhookConfig(ctx context.Context, sessionID string) (*models.WebhookConfig, error) {
	var (
		urls      string
		retry     int
		whitelist string
		events    string
	)

	err := d.db.QueryRowContext(ctx, selectWebhookConfigQuery, sessionID).
		Scan(&urls, &retry, &whitelist, &events)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook config: %w", err)
	}

	return d.scanConfig(urls, retry, whitelist, events)
}

// ListWebhookConfigs returns all stored configurations keyed by session id.
func (d *Database) ListWebhookConfigs(ctx context.Context) (map[string]models.WebhookConfig, error) {
	rows, err := d.db.QueryContext(ctx, selectAllWebhookConfigsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]models.WebhookConfig)
	for rows.Next() {
		var (
			sessionID string
			urls      string
			retry     int
			whitelist string
			events    string
		)
		if err := rows.Scan(&sessionID, &urls, &retry, &whitelist, &events); err != nil {
			return nil, fmt.Errorf("failed to scan webhook config row: %w", err)
		}
		cfg, err := d.scanConfig(urls, retry, whitelist, events)
		if err != nil {
			return nil, err
		}
		result[sessionID] = *cfg
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhook configs: %w", err)
	}
	return result, nil
}

// DeleteWebhookConfig removes the configuration for a session. Deleting
// an absent row is not an error.
func (d *Database) DeleteWebhookConfig(ctx context.Context, sessionID string) error {
	if _, err := d.db.ExecContext(ctx, deleteWebhookConfigQuery, sessionID); err != nil {
		return fmt.Errorf("failed to delete webhook config: %w", err)
	}
	return nil
}

// marshalURLs serializes callback URLs, encrypting at rest when enabled.
// Callback URLs may embed bearer tokens or signing secrets in query
// parameters, so they get the same treatment secrets would.
func (d *Database) marshalURLs(urls []string) (string, error) {
	raw, err := json.Marshal(urls)
	if err != nil {
		return "", fmt.Errorf("failed to marshal callback URLs: %w", err)
	}

	encrypted, err := d.encryptor.EncryptIfEnabled(string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt callback URLs: %w", err)
	}
	return encrypted, nil
}

func (d *Database) scanConfig(urls string, retry int, whitelist, events string) (*models.WebhookConfig, error) {
	decrypted, err := d.encryptor.DecryptIfEnabled(urls)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt callback URLs: %w", err)
	}

	cfg := models.WebhookConfig{Retry: retry != 0}
	if err := json.Unmarshal([]byte(decrypted), &cfg.CallbackURLs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal callback URLs: %w", err)
	}
	if err := json.Unmarshal([]byte(whitelist), &cfg.DomainWhitelist); err != nil {
		return nil, fmt.Errorf("failed to unmarshal domain whitelist: %w", err)
	}
	if err := json.Unmarshal([]byte(events), &cfg.Events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events: %w", err)
	}
	return &cfg, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
