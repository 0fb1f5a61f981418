// ABOUTME: Entry point for the loopsync player
// ABOUTME: Parses CLI flags over the YAML config and starts the player application
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/loopsync/loopsync-go/internal/app"
	"github.com/loopsync/loopsync-go/internal/config"
	"github.com/loopsync/loopsync-go/internal/version"
)

var (
	configPath = flag.String("config", "loopsync.yaml", "YAML config file")
	serverURL  = flag.String("server", "", "Server url, e.g. http://10.0.0.5:8927 (skip mDNS)")
	password   = flag.String("password", "", "Server password")
	transport  = flag.String("transport", "", "Time reference transport: http or ws")
	clip       = flag.String("clip", "", "Clip to loop: local path or http(s) url")
	playerID   = flag.String("id", "", "Media player id on the server")
	name       = flag.String("name", "", "Player friendly name (default: hostname)")
	logFile    = flag.String("log-file", "loopsync-player.log", "Log file path")
	noTUI      = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("%s %s\n", version.Product, version.Version)
		return
	}

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		// Streaming logs mode: log to both stdout and file
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	settings, err := config.Load(*configPath)
	switch {
	case err == nil:
		log.Printf("Loaded config from %s", *configPath)
	case errors.Is(err, os.ErrNotExist):
		log.Printf("No config at %s, using defaults", *configPath)
	default:
		log.Fatalf("Failed to load config: %v", err)
	}

	applyFlags(settings)

	log.Printf("Starting %s %s: %s", version.Product, version.Version, settings.Player.Name)

	player := app.New(app.Config{
		Settings: settings,
		UseTUI:   useTUI,
	})

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received")
		player.Stop()
	}()

	if err := player.Start(); err != nil {
		player.Stop()
		log.Fatalf("Player error: %v", err)
	}

	player.Stop()
	log.Printf("Player stopped")
}

// applyFlags overrides config values with flags that were set
func applyFlags(settings *config.Config) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "server":
			settings.Server.URL = *serverURL
		case "password":
			settings.Server.Password = *password
		case "transport":
			settings.Server.Transport = *transport
		case "clip":
			settings.Player.Clip = *clip
		case "id":
			settings.Player.ID = *playerID
		case "name":
			settings.Player.Name = *name
		}
	})
}
