package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voxbridge/stt-relay/internal/auth"
	"github.com/voxbridge/stt-relay/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		TokenSecret: "api-test-secret-0123456789abcdefgh",
		TokenTTL:    time.Hour,
	}
}

func TestTokenHandler(t *testing.T) {
	cfg := testConfig()
	handler := TokenHandler(cfg)

	req := httptest.NewRequest(http.MethodPost, "/v1/token", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var resp TokenResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.ExpiresIn != 3600 {
		t.Errorf("Expected expires_in 3600, got %d", resp.ExpiresIn)
	}

	// The issued credential must pass the connection-time validator
	header := auth.ProtocolPrefix + resp.AccessToken
	if _, err := auth.ValidateProtocolHeader(header, cfg.TokenSecret, time.Now()); err != nil {
		t.Errorf("Issued credential failed validation: %v", err)
	}
}

func TestTokenHandler_MethodNotAllowed(t *testing.T) {
	handler := TokenHandler(testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/token", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

func TestMetadataHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.toml")
	content := `
name = "stt-relay"
version = "1.0.0"
languages = ["en", "fr"]
models = ["nova-3", "nova-2"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write metadata file: %v", err)
	}

	handler := MetadataHandler(path)

	req := httptest.NewRequest(http.MethodGet, "/v1/metadata", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var meta Metadata
	if err := json.NewDecoder(rec.Body).Decode(&meta); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if meta.Name != "stt-relay" {
		t.Errorf("Expected name 'stt-relay', got %q", meta.Name)
	}
	if len(meta.Languages) != 2 || meta.Languages[0] != "en" {
		t.Errorf("Unexpected languages: %v", meta.Languages)
	}
	if len(meta.Models) != 2 || meta.Models[0] != "nova-3" {
		t.Errorf("Unexpected models: %v", meta.Models)
	}
}

func TestMetadataHandler_MissingFile(t *testing.T) {
	handler := MetadataHandler(filepath.Join(t.TempDir(), "does-not-exist.toml"))

	req := httptest.NewRequest(http.MethodGet, "/v1/metadata", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500 for missing metadata file, got %d", rec.Code)
	}
}
