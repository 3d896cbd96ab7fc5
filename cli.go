package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"qschat/chat"
)

// Shell is the interactive command loop. It is also the message sink: the
// chat core hands it decrypted payloads and it prints them above the prompt.
type Shell struct {
	server *chat.Server
	config *Config
	logger *Logger
	in     io.Reader
	out    io.Writer
}

// NewShell wires a shell to a server. Call this before Listen so the sink
// is in place for the first inbound connection.
func NewShell(config *Config, logger *Logger) *Shell {
	return &Shell{
		config: config,
		logger: logger,
		in:     os.Stdin,
		out:    os.Stdout,
	}
}

// Attach gives the shell its server once constructed.
func (sh *Shell) Attach(server *chat.Server) {
	sh.server = server
}

// OnMessageReceived implements chat.Sink.
func (sh *Shell) OnMessageReceived(peer, text string) {
	fmt.Fprintf(sh.out, "\r[%s] %s\n> ", peer, text)
}

// OnFileReceived implements chat.Sink.
func (sh *Shell) OnFileReceived(peer, filename string, data []byte) {
	fmt.Fprintf(sh.out, "\r[%s] sent file %s (%d bytes), saved under %s\n> ",
		peer, filename, len(data), sh.server.InboundDir())
}

// Run reads commands until quit or EOF.
func (sh *Shell) Run() {
	fmt.Fprintln(sh.out, "Type 'help' for commands.")
	scanner := bufio.NewScanner(sh.in)

	for {
		fmt.Fprint(sh.out, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !sh.dispatch(line) {
			return
		}
	}
}

// dispatch runs one command, returning false when the shell should exit.
func (sh *Shell) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "connect":
		sh.cmdConnect(args)
	case "msg":
		sh.cmdMessage(strings.TrimSpace(strings.TrimPrefix(line, "msg")))
	case "sendfile":
		sh.cmdSendFile(args)
	case "peers":
		sh.cmdPeers()
	case "status":
		fmt.Fprintf(sh.out, "Connected peers: %d\n", sh.server.Count())
	case "qr":
		sh.cmdQR()
	case "help":
		sh.printHelp()
	case "quit", "exit":
		return false
	default:
		fmt.Fprintf(sh.out, "Unknown command: %s (try 'help')\n", cmd)
	}
	return true
}

func (sh *Shell) cmdConnect(args []string) {
	var host string
	var port int
	var err error

	switch len(args) {
	case 1:
		host, port, err = parseInvite(args[0])
	case 2:
		host = args[0]
		port, err = strconv.Atoi(args[1])
	default:
		fmt.Fprintln(sh.out, "Usage: connect <host> <port>  or  connect <qschat://host:port>")
		return
	}
	if err != nil {
		fmt.Fprintf(sh.out, "Bad address: %v\n", err)
		return
	}

	peer, err := sh.server.Dial(host, port)
	if err != nil {
		fmt.Fprintf(sh.out, "Connection failed: %v\n", err)
		return
	}
	fmt.Fprintf(sh.out, "Secure connection established with %s\n", peer.Addr())
}

func (sh *Shell) cmdMessage(text string) {
	if text == "" {
		fmt.Fprintln(sh.out, "Usage: msg <text>")
		return
	}
	if sh.server.Count() == 0 {
		fmt.Fprintln(sh.out, "No connected peers.")
		return
	}
	ok := sh.server.Broadcast(text)
	fmt.Fprintf(sh.out, "Sent to %d peer(s)\n", ok)
}

func (sh *Shell) cmdSendFile(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(sh.out, "Usage: sendfile <path>")
		return
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(sh.out, "Cannot read file: %v\n", err)
		return
	}

	name := filepath.Base(args[0])
	sent := 0
	for _, p := range sh.server.Peers() {
		if err := p.SendFile(name, data); err != nil {
			sh.logger.Warnf("cli", "failed to send %s to %s: %v", name, p.Addr(), err)
			continue
		}
		sent++
	}
	fmt.Fprintf(sh.out, "Sent %s (%d bytes) to %d peer(s)\n", name, len(data), sent)
}

func (sh *Shell) cmdPeers() {
	peers := sh.server.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(sh.out, "No connected peers.")
		return
	}
	for _, p := range peers {
		fmt.Fprintf(sh.out, "- %s (%s)\n", p.Addr(), p.State())
	}
}

func (sh *Shell) cmdQR() {
	renderInviteQR(sh.out, Invite{
		Host: localIPv4(),
		Port: sh.config.ListenPort,
		KEM:  sh.config.KEMBackend,
	})
}

func (sh *Shell) printHelp() {
	fmt.Fprint(sh.out, `Commands:
  connect <host> <port>   Dial a peer (also accepts a qschat:// invite)
  msg <text>              Send an encrypted message to all peers
  sendfile <path>         Send a file to all peers
  peers                   List connected peers
  status                  Show connection count
  qr                      Show this node's pairing QR code
  help                    Show this help
  quit                    Close all connections and exit
`)
}
