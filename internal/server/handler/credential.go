package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradetrigger/internal/domain"
)

// CredentialService defines what the credential handler needs from the
// service layer. Save validates and seals the secrets before persisting.
type CredentialService interface {
	Save(ctx context.Context, cred domain.Credential) error
	Get(ctx context.Context, userID string, platform domain.Platform) (domain.Credential, error)
}

// CredentialHandler serves credential management endpoints. Secret material
// is write-only through this surface: responses never echo stored keys.
type CredentialHandler struct {
	credentials CredentialService
	logger      *slog.Logger
}

// NewCredentialHandler creates a CredentialHandler with the given service
// and logger.
func NewCredentialHandler(credentials CredentialService, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{
		credentials: credentials,
		logger:      logger,
	}
}

// saveCredentialRequest is the JSON body accepted by SaveCredential.
type saveCredentialRequest struct {
	UserID        string          `json:"userId"`
	Platform      domain.Platform `json:"platform"`
	APIKey        string          `json:"apiKey,omitempty"`
	APISecret     string          `json:"apiSecret,omitempty"`
	APIPassphrase string          `json:"apiPassphrase,omitempty"`
	PrivateKeyPEM string          `json:"privateKeyPem,omitempty"`
	WalletKey     string          `json:"walletKey,omitempty"`
}

// SaveCredential validates and stores one user's platform credentials.
// PUT /api/credentials
func (h *CredentialHandler) SaveCredential(w http.ResponseWriter, r *http.Request) {
	var req saveCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	cred := domain.Credential{
		UserID:        req.UserID,
		Platform:      req.Platform,
		APIKey:        req.APIKey,
		APISecret:     req.APISecret,
		APIPassphrase: req.APIPassphrase,
		PrivateKeyPEM: req.PrivateKeyPEM,
		WalletKey:     req.WalletKey,
		UpdatedAt:     time.Now().UTC(),
	}

	if err := h.credentials.Save(r.Context(), cred); err != nil {
		if errors.Is(err, domain.ErrInvalidOrder) || errors.Is(err, domain.ErrSigningFailed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: save credential failed",
			slog.String("user_id", req.UserID),
			slog.String("platform", string(req.Platform)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to save credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "saved",
		"platform": string(req.Platform),
	})
}

// credentialStatus reports whether a platform is configured for a user,
// without exposing the stored secrets.
type credentialStatus struct {
	Platform   domain.Platform `json:"platform"`
	Configured bool            `json:"configured"`
	UpdatedAt  *time.Time      `json:"updatedAt,omitempty"`
}

// ListCredentials reports which platforms a user has configured.
// GET /api/credentials?userId=u1
func (h *CredentialHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId query parameter required")
		return
	}

	statuses := make([]credentialStatus, 0, 2)
	for _, platform := range []domain.Platform{domain.PlatformPolymarket, domain.PlatformKalshi} {
		status := credentialStatus{Platform: platform}

		cred, err := h.credentials.Get(r.Context(), userID, platform)
		switch {
		case err == nil:
			status.Configured = true
			if !cred.UpdatedAt.IsZero() {
				at := cred.UpdatedAt
				status.UpdatedAt = &at
			}
		case errors.Is(err, domain.ErrCredentialsMissing), errors.Is(err, domain.ErrNotFound):
			// not configured
		default:
			h.logger.ErrorContext(r.Context(), "handler: credential lookup failed",
				slog.String("user_id", userID),
				slog.String("platform", string(platform)),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to check credentials")
			return
		}

		statuses = append(statuses, status)
	}

	writeJSON(w, http.StatusOK, map[string]any{"credentials": statuses})
}
