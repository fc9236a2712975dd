package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// CredentialStore implements domain.CredentialStore using PostgreSQL.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a new CredentialStore backed by the given pool.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Get retrieves a user's credentials for one platform. A missing row maps to
// ErrCredentialsMissing so callers can distinguish it from infrastructure
// failures.
func (s *CredentialStore) Get(ctx context.Context, userID string, platform domain.Platform) (domain.Credential, error) {
	const query = `
		SELECT user_id, platform, api_key, api_secret, api_passphrase,
			private_key_pem, wallet_key, wallet_address, updated_at
		FROM credentials WHERE user_id = $1 AND platform = $2`

	var c domain.Credential
	var platformStr string
	err := s.pool.QueryRow(ctx, query, userID, string(platform)).Scan(
		&c.UserID, &platformStr, &c.APIKey, &c.APISecret, &c.APIPassphrase,
		&c.PrivateKeyPEM, &c.WalletKey, &c.WalletAddress, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Credential{}, domain.ErrCredentialsMissing
		}
		return domain.Credential{}, fmt.Errorf("postgres: get credentials for %s/%s: %w", userID, platform, err)
	}
	c.Platform = domain.Platform(platformStr)
	return c, nil
}

// Upsert inserts or replaces a user's platform credentials.
func (s *CredentialStore) Upsert(ctx context.Context, c domain.Credential) error {
	const query = `
		INSERT INTO credentials (
			user_id, platform, api_key, api_secret, api_passphrase,
			private_key_pem, wallet_key, wallet_address, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id, platform) DO UPDATE SET
			api_key         = EXCLUDED.api_key,
			api_secret      = EXCLUDED.api_secret,
			api_passphrase  = EXCLUDED.api_passphrase,
			private_key_pem = EXCLUDED.private_key_pem,
			wallet_key      = EXCLUDED.wallet_key,
			wallet_address  = EXCLUDED.wallet_address,
			updated_at      = NOW()`
	_, err := s.pool.Exec(ctx, query,
		c.UserID, string(c.Platform), c.APIKey, c.APISecret, c.APIPassphrase,
		c.PrivateKeyPEM, c.WalletKey, c.WalletAddress,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert credentials for %s/%s: %w", c.UserID, c.Platform, err)
	}
	return nil
}
