// ABOUTME: Entry point for the loopsync reference server
// ABOUTME: Parses CLI flags and serves the time reference and media player API
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/loopsync/loopsync-go/internal/server"
)

var (
	port     = flag.Int("port", 8927, "HTTP server port")
	name     = flag.String("name", "", "Server friendly name (default: hostname-loopsync-server)")
	password = flag.String("password", "", "Require this password on every request")
	logFile  = flag.String("log-file", "loopsync-server.log", "Log file path")
	debug    = flag.Bool("debug", false, "Enable debug logging")
	noMDNS   = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	noTUI    = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	if useTUI {
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	// Determine server name
	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-loopsync-server", hostname)
	}

	log.Printf("Starting loopsync server: %s on port %d", serverName, *port)
	if *debug {
		log.Printf("Debug logging enabled")
	}
	if *password == "" {
		log.Printf("No password set, every client is accepted")
	}
	log.Printf("Logging to: %s", *logFile)

	srv := server.New(server.Config{
		Port:       *port,
		Name:       serverName,
		Password:   *password,
		EnableMDNS: !*noMDNS,
		Debug:      *debug,
		UseTUI:     useTUI,
	})

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Printf("Server stopped")
}
