package domain

import "time"

// Credential holds one user's trading credentials for one platform. The
// fields are opaque to the core: each platform adapter knows which subset it
// needs (Kalshi uses APIKey + PrivateKeyPEM for RSA request signing,
// Polymarket uses the wallet key for EIP-712 order signatures plus the
// HMAC API key triple).
type Credential struct {
	UserID        string
	Platform      Platform
	APIKey        string
	APISecret     string
	APIPassphrase string
	PrivateKeyPEM string // Kalshi RSA key, PEM-encoded
	WalletKey     string // Polymarket wallet private key, hex (possibly encrypted at rest)
	WalletAddress string
	UpdatedAt     time.Time
}

// Position is a user's holding in one market: contract count and the USD
// cost basis paid to acquire it. Read by the ROI condition field.
type Position struct {
	UserID    string    `json:"userId"`
	MarketID  string    `json:"marketId"`
	Outcome   string    `json:"outcome,omitempty"`
	Shares    float64   `json:"shares"`
	CostBasis float64   `json:"costBasis"`
	UpdatedAt time.Time `json:"updatedAt"`
}
