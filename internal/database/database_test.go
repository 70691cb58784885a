package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kirimkan/internal/models"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "kirimkan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("../../outside.db")
	assert.Error(t, err)
}

func TestWebhookConfig_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cfg := models.WebhookConfig{
		CallbackURLs:    []string{"https://hooks.example.com/wa", "https://backup.example.com/wa"},
		Retry:           true,
		DomainWhitelist: []string{"*.example.com"},
		Events:          []string{models.EventMessagesUpsert, models.EventCall},
	}

	require.NoError(t, db.SaveWebhookConfig(ctx, "alpha", cfg))

	got, err := db.GetWebhookConfig(ctx, "alpha")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg, *got)
}

func TestGetWebhookConfig_AbsentReturnsNil(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetWebhookConfig(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveWebhookConfig_Overwrites(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := models.WebhookConfig{
		CallbackURLs:    []string{"https://one.example.com/hook"},
		Retry:           true,
		DomainWhitelist: []string{"*"},
		Events:          []string{models.EventMessagesUpsert},
	}
	second := models.WebhookConfig{
		CallbackURLs:    []string{"https://two.example.com/hook"},
		Retry:           false,
		DomainWhitelist: []string{"two.example.com"},
		Events:          []string{models.EventCall},
	}

	require.NoError(t, db.SaveWebhookConfig(ctx, "alpha", first))
	require.NoError(t, db.SaveWebhookConfig(ctx, "alpha", second))

	got, err := db.GetWebhookConfig(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, second, *got)
}

func TestDeleteWebhookConfig(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	cfg := models.WebhookConfig{
		CallbackURLs:    []string{"https://hooks.example.com/wa"},
		Retry:           true,
		DomainWhitelist: []string{"*"},
		Events:          []string{models.EventMessagesUpsert},
	}
	require.NoError(t, db.SaveWebhookConfig(ctx, "alpha", cfg))
	require.NoError(t, db.DeleteWebhookConfig(ctx, "alpha"))

	got, err := db.GetWebhookConfig(ctx, "alpha")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an absent row is not an error
	assert.NoError(t, db.DeleteWebhookConfig(ctx, "alpha"))
}

func TestListWebhookConfigs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveWebhookConfig(ctx, "alpha", models.WebhookConfig{
		CallbackURLs:    []string{"https://a.example.com/hook"},
		Retry:           true,
		DomainWhitelist: []string{"*"},
		Events:          []string{models.EventMessagesUpsert},
	}))
	require.NoError(t, db.SaveWebhookConfig(ctx, "beta", models.WebhookConfig{
		CallbackURLs:    []string{"https://b.example.com/hook"},
		Retry:           false,
		DomainWhitelist: []string{"b.example.com"},
		Events:          []string{models.EventPresenceUpdate},
	}))

	all, err := db.ListWebhookConfigs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Contains(t, all, "alpha")
	assert.Contains(t, all, "beta")
	assert.False(t, all["beta"].Retry)
}
