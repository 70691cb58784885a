package webhook

import (
	"context"

	"github.com/sirupsen/logrus"

	"kirimkan/internal/constants"
	"kirimkan/internal/database"
	"kirimkan/internal/errors"
	"kirimkan/internal/models"
	"kirimkan/internal/validation"
)

// Store manages per-session subscriber configuration on top of the
// persisted database. Sessions without a stored row get the default
// config, which subscribes to nothing.
type Store struct {
	db     *database.Database
	logger *logrus.Logger
}

func NewStore(db *database.Database, logger *logrus.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Get returns the configuration for a session, falling back to the
// default when nothing is stored.
func (s *Store) Get(ctx context.Context, sessionID string) (models.WebhookConfig, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return models.WebhookConfig{}, err
	}

	cfg, err := s.db.GetWebhookConfig(ctx, sessionID)
	if err != nil {
		return models.WebhookConfig{}, errors.NewDatabaseError("get webhook config", err)
	}
	if cfg == nil {
		return models.DefaultWebhookConfig(), nil
	}
	return *cfg, nil
}

// Set validates and persists a configuration. A nil config clears the
// stored row, restoring the default. A validation or persistence
// failure leaves any previously stored config untouched.
func (s *Store) Set(ctx context.Context, sessionID string, cfg *models.WebhookConfig) (models.WebhookConfig, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return models.WebhookConfig{}, err
	}

	if cfg == nil {
		return s.clear(ctx, sessionID)
	}

	normalized, err := normalizeConfig(*cfg)
	if err != nil {
		return models.WebhookConfig{}, err
	}

	if err := s.db.SaveWebhookConfig(ctx, sessionID, normalized); err != nil {
		return models.WebhookConfig{}, errors.NewDatabaseError("save webhook config", err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"urls":       len(normalized.CallbackURLs),
		"events":     normalized.Events,
	}).Info("Webhook config updated")
	return normalized, nil
}

// Clear removes the stored configuration for a session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return err
	}
	_, err := s.clear(ctx, sessionID)
	return err
}

func (s *Store) clear(ctx context.Context, sessionID string) (models.WebhookConfig, error) {
	if err := s.db.DeleteWebhookConfig(ctx, sessionID); err != nil {
		return models.WebhookConfig{}, errors.NewDatabaseError("delete webhook config", err)
	}
	s.logger.WithField("session_id", sessionID).Info("Webhook config cleared")
	return models.DefaultWebhookConfig(), nil
}

// List returns every stored configuration keyed by session id.
func (s *Store) List(ctx context.Context) (map[string]models.WebhookConfig, error) {
	configs, err := s.db.ListWebhookConfigs(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("list webhook configs", err)
	}
	return configs, nil
}

// normalizeConfig enforces the write-time invariants: at least one
// valid absolute callback URL, at least one recognized event type
// (unrecognized names are dropped, not rejected), and a non-empty
// whitelist (absent means allow all).
func normalizeConfig(cfg models.WebhookConfig) (models.WebhookConfig, error) {
	if len(cfg.CallbackURLs) == 0 {
		return models.WebhookConfig{}, errors.NewValidationError("callbackUrls", "at least one callback URL is required")
	}
	if len(cfg.CallbackURLs) > constants.MaxCallbackURLs {
		return models.WebhookConfig{}, errors.NewValidationError("callbackUrls",
			"too many callback URLs")
	}
	for _, u := range cfg.CallbackURLs {
		if err := validation.ValidateCallbackURL(u); err != nil {
			return models.WebhookConfig{}, err
		}
	}

	events := make([]string, 0, len(cfg.Events))
	for _, e := range cfg.Events {
		if models.IsKnownEventType(e) {
			events = append(events, e)
		}
	}
	if len(events) == 0 {
		return models.WebhookConfig{}, errors.NewValidationError("events", "at least one recognized event type is required")
	}
	cfg.Events = events

	if len(cfg.DomainWhitelist) == 0 {
		cfg.DomainWhitelist = []string{"*"}
	}

	return cfg, nil
}
