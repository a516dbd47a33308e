// Command relay-server runs the chat relay: TCP, SSH and WebSocket line
// transports over a shared registry, group and topic routing core.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaychat/relay/pkg/server"
)

func main() {
	configPath := flag.String("config", "~/.relay/relay.toml", "path to config file")
	tcpPort := flag.Int("port", 0, "override TCP port from config")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	tomlConfig, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	config := tomlConfig.ToServerConfig()
	if *tcpPort != 0 {
		config.TCPPort = *tcpPort
	}

	srv, err := server.NewServer(config)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if *debug {
		srv.EnableDebugLogging()
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down...", sig)

	if err := srv.Stop(); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
}
