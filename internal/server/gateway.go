// Package server exposes the optional WebSocket gateway: the same relay
// protocol carried one message per text frame, for clients that cannot open
// a raw TCP connection.
package server

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Gateway upgrades HTTP requests to WebSocket sessions on a shared Relay.
// Gateway sessions are full group members alongside TCP clients.
type Gateway struct {
	relay    *Relay
	upgrader websocket.Upgrader
	origins  map[string]struct{}
	allowAll bool
}

// NewGateway creates a gateway serving relay. allowedOrigins is the browser
// origin allow-list; "*" allows every origin, and requests without an Origin
// header (non-browser clients) are always admitted.
func NewGateway(relay *Relay, allowedOrigins []string) *Gateway {
	g := &Gateway{relay: relay}
	g.origins, g.allowAll = normalizeOrigins(allowedOrigins)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// ServeWS handles WebSocket upgrade requests. The upgraded connection is
// served by the standard session state machine on the handler goroutine,
// which blocks until the session ends.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	g.relay.NewSession(newWSConn(conn)).Run()
}

// HealthHandler provides a plain-text health check endpoint.
func (g *Gateway) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "Enigma chat relay is running!")
}

// Routes configures and returns the gateway's ServeMux.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", g.HealthHandler)
	mux.HandleFunc("/ws", g.ServeWS)
	return mux
}

// NewGatewayServer creates the HTTP server hosting the gateway. The timeouts
// only bound the pre-upgrade HTTP exchange; hijacked WebSocket connections
// are governed by the session's own deadlines.
func NewGatewayServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		return true
	}

	normalized, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if g.allowAll {
		return true
	}
	if _, exists := g.origins[normalized]; exists {
		return true
	}

	log.Printf("Blocked WebSocket connection from disallowed origin: %q", originHeader)
	return false
}

func normalizeOrigins(origins []string) (map[string]struct{}, bool) {
	normalized := make(map[string]struct{}, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Printf("Ignoring invalid origin in configuration: %q", origin)
			continue
		}
		normalized[normalizedOrigin] = struct{}{}
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
