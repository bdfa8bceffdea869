// Package httpapi holds the auxiliary request/response endpoints around the
// relay: session issuance and deployment metadata.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/voxbridge/stt-relay/internal/auth"
	"github.com/voxbridge/stt-relay/internal/config"
	"github.com/voxbridge/stt-relay/internal/observability"
)

// TokenResponse is the session issuance payload
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Metadata describes the deployment, loaded from a static TOML file
type Metadata struct {
	Name      string   `toml:"name" json:"name"`
	Version   string   `toml:"version" json:"version"`
	Languages []string `toml:"languages" json:"languages"`
	Models    []string `toml:"models" json:"models"`
}

// TokenHandler issues a fresh session credential with the configured TTL
func TokenHandler(cfg *config.Config) http.HandlerFunc {
	logger := observability.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		token, err := auth.IssueToken(cfg.TokenSecret, cfg.TokenTTL, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to issue session credential")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{
			AccessToken: token,
			ExpiresIn:   int64(cfg.TokenTTL.Seconds()),
		})
	}
}

// MetadataHandler serves the static deployment metadata. The file is read
// once at startup, like the rest of the process configuration.
func MetadataHandler(path string) http.HandlerFunc {
	logger := observability.GetLogger()

	var meta Metadata
	if _, err := toml.DecodeFile(path, &meta); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Metadata file unavailable")
		return func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metadata unavailable", http.StatusInternalServerError)
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(meta)
	}
}
