package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/crypto"
	"github.com/alanyoungcy/tradetrigger/internal/domain"
	"github.com/alanyoungcy/tradetrigger/internal/platform/kalshi"
	"github.com/alanyoungcy/tradetrigger/internal/platform/polymarket"
)

// polygonChainID is the EVM chain the Polymarket CLOB settles on.
const polygonChainID = 137

// PlatformEndpoints carries the per-platform API roots used when building
// trading clients.
type PlatformEndpoints struct {
	PolymarketClobURL string
	KalshiBaseURL     string
}

// CredentialService stores per-user trading credentials, encrypting wallet
// keys at rest, and builds platform trading clients from them. It implements
// domain.TradingClientFactory.
type CredentialService struct {
	store     domain.CredentialStore
	endpoints PlatformEndpoints
	// masterKey encrypts wallet private keys at rest; empty disables
	// encryption and keys are stored as given.
	masterKey string
	logger    *slog.Logger
}

// NewCredentialService creates a CredentialService.
func NewCredentialService(store domain.CredentialStore, endpoints PlatformEndpoints, masterKey string, logger *slog.Logger) *CredentialService {
	return &CredentialService{
		store:     store,
		endpoints: endpoints,
		masterKey: masterKey,
		logger:    logger.With("component", "credential_service"),
	}
}

// Save validates and persists a user's platform credentials. Polymarket
// wallet keys are encrypted before they reach the store when a master key is
// configured.
func (s *CredentialService) Save(ctx context.Context, cred domain.Credential) error {
	if !cred.Platform.Valid() {
		return fmt.Errorf("credential_service: unknown platform %q", cred.Platform)
	}

	switch cred.Platform {
	case domain.PlatformPolymarket:
		if cred.WalletKey == "" {
			return fmt.Errorf("credential_service: polymarket credentials need a wallet key")
		}
		// Derive the address before the key is sealed, so reads never need
		// to decrypt just to display it.
		signer, err := crypto.NewSigner(cred.WalletKey, polygonChainID)
		if err != nil {
			return fmt.Errorf("credential_service: invalid wallet key: %w", err)
		}
		cred.WalletAddress = signer.Address().Hex()

		if s.masterKey != "" {
			sealed, err := crypto.EncryptKey(cred.WalletKey, s.masterKey)
			if err != nil {
				return fmt.Errorf("credential_service: encrypt wallet key: %w", err)
			}
			cred.WalletKey = string(sealed)
		}

	case domain.PlatformKalshi:
		if cred.APIKey == "" || cred.PrivateKeyPEM == "" {
			return fmt.Errorf("credential_service: kalshi credentials need an API key id and RSA private key")
		}
	}

	cred.UpdatedAt = time.Now().UTC()
	if err := s.store.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("credential_service: save: %w", err)
	}
	s.logger.Info("credentials saved", "user_id", cred.UserID, "platform", string(cred.Platform))
	return nil
}

// Get resolves a user's credentials for a platform. The wallet key stays
// sealed; ClientFor unseals it only while building a client.
func (s *CredentialService) Get(ctx context.Context, userID string, platform domain.Platform) (domain.Credential, error) {
	return s.store.Get(ctx, userID, platform)
}

// ClientFor builds a trading client for the credential's platform.
func (s *CredentialService) ClientFor(ctx context.Context, cred domain.Credential) (domain.TradingClient, error) {
	switch cred.Platform {
	case domain.PlatformPolymarket:
		return s.polymarketClient(ctx, cred)
	case domain.PlatformKalshi:
		return s.kalshiClient(cred)
	default:
		return nil, fmt.Errorf("credential_service: no trading client for platform %q", cred.Platform)
	}
}

func (s *CredentialService) polymarketClient(ctx context.Context, cred domain.Credential) (domain.TradingClient, error) {
	walletKey, err := crypto.ResolveWalletKey(cred.WalletKey, s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("credential_service: unseal wallet key: %w", err)
	}

	signer, err := crypto.NewSigner(walletKey, polygonChainID)
	if err != nil {
		return nil, fmt.Errorf("credential_service: build signer: %w", err)
	}

	var hmacAuth *crypto.HMACAuth
	if cred.APIKey != "" {
		hmacAuth = &crypto.HMACAuth{
			Key:        cred.APIKey,
			Secret:     cred.APISecret,
			Passphrase: cred.APIPassphrase,
		}
	}

	client := polymarket.NewClobClient(s.endpoints.PolymarketClobURL, signer, hmacAuth, 0)
	if hmacAuth == nil {
		// No stored API key triple: derive one from a wallet signature.
		if err := client.DeriveAPIKey(ctx); err != nil {
			return nil, fmt.Errorf("credential_service: derive api key: %w", err)
		}
	}
	return client, nil
}

func (s *CredentialService) kalshiClient(cred domain.Credential) (domain.TradingClient, error) {
	client := kalshi.NewClient(s.endpoints.KalshiBaseURL, cred.APIKey)
	if err := client.SetRSAPrivateKey([]byte(cred.PrivateKeyPEM)); err != nil {
		return nil, fmt.Errorf("credential_service: load kalshi key: %w", err)
	}
	return client, nil
}

// Compile-time interface check.
var _ domain.TradingClientFactory = (*CredentialService)(nil)
