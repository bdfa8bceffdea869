package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/stt-relay/internal/auth"
	"github.com/voxbridge/stt-relay/internal/config"
	"github.com/voxbridge/stt-relay/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Authorization happens via the session credential, not the origin
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// NewHandler returns the websocket relay endpoint. The session credential is
// validated before the upgrade; an unauthenticated client is rejected with
// 401 and no upstream connection is ever attempted for it.
func NewHandler(cfg *config.Config, registry *Registry) http.HandlerFunc {
	logger := observability.GetLogger()
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		matched, err := auth.ValidateProtocolHeader(
			r.Header.Get("Sec-WebSocket-Protocol"), cfg.TokenSecret, time.Now())
		if err != nil {
			observability.RecordAuthFailure()
			logger.Warn().Str("remote", r.RemoteAddr).Msg("Rejected unauthenticated upgrade")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		opts := OptionsFromQuery(r.URL.Query())
		target, err := BuildUpstreamURL(cfg.UpstreamURL, cfg.UpstreamAPIKey, opts)
		if err != nil {
			logger.Error().Err(err).Msg("Bad upstream endpoint configuration")
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Echo the matched protocol token back per negotiation convention
		conn, err := upgrader.Upgrade(w, r, http.Header{"Sec-WebSocket-Protocol": {matched}})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to upgrade connection")
			return
		}

		session := NewSession(conn, dialer, target, opts, registry.Remove)
		registry.Add(session)
		session.Run()
	}
}
