package main

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/enigma-chat/relay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fmt.Println("Starting Enigma chat relay...")

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		log.Fatal(err)
	}

	srv := server.NewServer(cfg)
	if err := srv.Listen(); err != nil {
		log.Fatal(err)
	}

	var gatewayServer *http.Server
	if cfg.WSAddr != "" {
		gateway := server.NewGateway(srv.Relay(), cfg.AllowedOrigins)
		gatewayServer = server.NewGatewayServer(cfg.WSAddr, gateway.Routes())
		go func() {
			log.Printf("WebSocket gateway listening on %s", cfg.WSAddr)
			if err := gatewayServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("WebSocket gateway error: %v", err)
			}
		}()
	}

	go srv.Serve()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if gatewayServer != nil {
		// Close rather than Shutdown: hijacked WebSocket connections are not
		// tracked by the HTTP server, so Close is what unblocks them.
		_ = gatewayServer.Close()
	}
	if err := srv.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Shutdown incomplete: %v", err)
	}
}
