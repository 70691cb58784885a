package database

// Webhook configuration queries
const (
	upsertWebhookConfigQuery = `
		INSERT INTO webhook_configs (
			session_id, callback_urls, retry, domain_whitelist, events, updated_at
		) VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			callback_urls = excluded.callback_urls,
			retry = excluded.retry,
			domain_whitelist = excluded.domain_whitelist,
			events = excluded.events,
			updated_at = CURRENT_TIMESTAMP
	`

	selectWebhookConfigQuery = `
		SELECT callback_urls, retry, domain_whitelist, events
		FROM webhook_configs
		WHERE session_id = ?
	`

	selectAllWebhookConfigsQuery = `
		SELECT session_id, callback_urls, retry, domain_whitelist, events
		FROM webhook_configs
		ORDER BY session_id
	`

	deleteWebhookConfigQuery = `
		DELETE FROM webhook_configs
		WHERE session_id = ?
	`
)

const schema = `
	CREATE TABLE IF NOT EXISTS webhook_configs (
		session_id       TEXT PRIMARY KEY,
		callback_urls    TEXT NOT NULL,
		retry            INTEGER NOT NULL DEFAULT 1,
		domain_whitelist TEXT NOT NULL,
		events           TEXT NOT NULL,
		created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`
