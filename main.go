package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qschat/chat"
)

func main() {
	config, err := loadConfig()
	if err != nil {
		log.Printf("Warning: could not load config file, using defaults: %v", err)
		config = NewDefaultConfig()
	}

	command := "start"
	args := os.Args[1:]
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "start":
		if err := parseStartArgs(config, args); err != nil {
			log.Fatalf("Error parsing start arguments: %v", err)
		}
		fmt.Printf("qschat v%d.%d.%d - secure LAN chat\n", VersionMajor, VersionMinor, VersionPatch)
		if err := runChat(config); err != nil {
			log.Fatalf("Failed to start: %v", err)
		}
	case "version":
		fmt.Printf("qschat v%d.%d.%d\n", VersionMajor, VersionMinor, VersionPatch)
	case "config":
		if err := createDefaultConfigFile(); err != nil {
			log.Fatalf("Failed to create config file: %v", err)
		}
		fmt.Println("Default configuration file created at ~/.qschat/config")
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func parseStartArgs(config *Config, args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	port := fs.Int("port", config.ListenPort, "TCP port to listen on")
	backend := fs.String("backend", config.KEMBackend, "key exchange backend (kyber768 or x25519)")
	inbound := fs.String("inbound", config.InboundDir, "directory for received files")
	idle := fs.Int("idle-timeout", config.IdleTimeoutSeconds, "seconds before a silent peer is dropped (0 = never)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	config.ListenPort = *port
	config.KEMBackend = *backend
	config.InboundDir = *inbound
	config.IdleTimeoutSeconds = *idle
	return ValidateConfig(config)
}

// runChat starts the server, installs signal handling and hands control to
// the interactive shell until it exits or a signal arrives.
func runChat(config *Config) error {
	logger := NewLogger(LogLevel(config.LogLevel))
	defer logger.Close()
	if config.LogFile != "" {
		if err := logger.SetFileOutput(config.LogFile); err != nil {
			return err
		}
	}

	shell := NewShell(config, logger)
	server, err := chat.NewServer(chat.Options{
		Backend:     config.KEMBackend,
		InboundDir:  config.InboundDir,
		IdleTimeout: time.Duration(config.IdleTimeoutSeconds) * time.Second,
		Sink:        shell,
		Logger:      logger.Component("chat"),
	})
	if err != nil {
		return err
	}
	shell.Attach(server)

	if err := server.Listen(config.ListenPort); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		server.Stop()
		os.Exit(0)
	}()

	fmt.Printf("Listening on port %d, received files go to %s\n", config.ListenPort, server.InboundDir())
	shell.Run()
	server.Stop()
	return nil
}

func printUsage() {
	fmt.Printf("qschat v%d.%d.%d - encrypted peer-to-peer chat for local networks\n", VersionMajor, VersionMinor, VersionPatch)
	fmt.Println("Usage:")
	fmt.Printf("  %s start [-port N] [-backend kyber768|x25519] [-inbound DIR] [-idle-timeout SECS]\n", os.Args[0])
	fmt.Printf("  %s config   - Write the default config file\n", os.Args[0])
	fmt.Printf("  %s version  - Show version\n", os.Args[0])
	fmt.Printf("  %s help     - Show this help\n", os.Args[0])
}
