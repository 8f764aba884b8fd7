package persistence

import "context"

// ConfigRepository stores per-user configuration documents.
type ConfigRepository interface {
	SaveConfig(ctx context.Context, cfg BotConfig) error
	GetConfig(ctx context.Context, userID string) (BotConfig, error)
}

// CredentialRepository stores the single encrypted credential per user.
type CredentialRepository interface {
	SaveCredential(ctx context.Context, cred Credential) error
	GetCredential(ctx context.Context, userID string) (Credential, error)
}

// AttemptRepository maintains the append-only booking attempt ledger.
type AttemptRepository interface {
	AppendAttempt(ctx context.Context, attempt BookingAttempt) error
	// ListAttempts returns the user's ledger, newest first.
	ListAttempts(ctx context.Context, userID string, limit int) ([]BookingAttempt, error)
	// BookedDates returns the set of dates the user already holds a
	// verified booking for.
	BookedDates(ctx context.Context, userID string) (map[string]bool, error)
}
