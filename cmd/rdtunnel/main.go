// rdtunnel — CLI entry point.
//
// This tool opens an instruction tunnel to a remote-desktop gateway over a
// WebSocket, or over a WebRTC DataChannel negotiated through a WebSocket
// signaling endpoint. Instructions received are printed one per line as
// "opcode arg...", and lines typed on stdin in the same form are sent. Fields
// that are empty or contain whitespace are written as Go-style quoted strings.
//
// With no URL from flags or the config file it prompts interactively.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/rdtunnel/internal/config"
	"github.com/1ureka/rdtunnel/internal/protocol"
	"github.com/1ureka/rdtunnel/internal/signaling"
	"github.com/1ureka/rdtunnel/internal/transport"
	"github.com/1ureka/rdtunnel/internal/tunnel"
	"github.com/1ureka/rdtunnel/internal/util"
)

var version = "dev"

type rootOptions struct {
	configPath        string
	url               string
	token             string
	transport         string
	receiveTimeout    time.Duration
	unstableThreshold time.Duration
	keepalive         time.Duration
	statsInterval     time.Duration
	debug             bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "rdtunnel",
		Short:         "Instruction tunnel client for remote-desktop gateways",
		Long: `Instruction tunnel client for remote-desktop gateways.

Each line read from stdin is sent as one instruction, written as the opcode
followed by its arguments and separated by whitespace:

  key 65 1
  clipboard "hello world" ""

A field that is empty, contains whitespace, or starts with a double quote must
be quoted; quoted fields use Go string syntax, so \" and \n escapes work.
Received instructions are printed the same way.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.debug {
				util.EnableDebug()
			}
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts.statsInterval, os.Stdin)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", os.Getenv("RDTUNNEL_CONFIG"), "path to a YAML config file")
	flags.StringVar(&opts.url, "url", "", "gateway WebSocket URL (ws:// or wss://)")
	flags.StringVar(&opts.token, "token", "", "credential sent as the auth line")
	flags.StringVar(&opts.transport, "transport", string(config.TransportWebSocket), "transport: websocket or webrtc")
	flags.DurationVar(&opts.receiveTimeout, "receive-timeout", 0, "close after this long without any instruction (default 15s)")
	flags.DurationVar(&opts.unstableThreshold, "unstable-threshold", 0, "report UNSTABLE after this long without any instruction (default 1.5s)")
	flags.DurationVar(&opts.keepalive, "keepalive", 0, "keepalive ping interval (default 500ms)")
	flags.DurationVar(&opts.statsInterval, "stats-interval", 5*time.Second, "traffic report interval, 0 to disable")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	return cmd
}

// resolve loads the config file, applies flags that were set explicitly, and
// prompts for whatever is still missing.
func (o *rootOptions) resolve(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = o.url
	}
	if flags.Changed("token") {
		cfg.Token = o.token
	}
	if flags.Changed("transport") {
		cfg.Transport = config.TransportKind(o.transport)
	}
	if flags.Changed("receive-timeout") {
		cfg.ReceiveTimeout = o.receiveTimeout
	}
	if flags.Changed("unstable-threshold") {
		cfg.UnstableThreshold = o.unstableThreshold
	}
	if flags.Changed("keepalive") {
		cfg.KeepaliveInterval = o.keepalive
	}

	if cfg.URL == "" {
		pterm.Info.Println(fmt.Sprintf("rdtunnel — v%s", version))
		pterm.Println()
		cfg.URL = askURL()
		if cfg.Token == "" {
			cfg.Token = askToken()
		}
	} else {
		normalized, err := normalizeWSURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		cfg.URL = normalized
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// run drives one tunnel session until it closes. Ctrl+C or end of input
// disconnects gracefully; an abnormal close is returned as an error.
func run(parent context.Context, cfg *config.Config, statsInterval time.Duration, input io.Reader) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	tr, err := newTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to establish transport: %w", err)
	}

	tun, err := tunnel.New(tr, cfg.TunnelOptions()...)
	if err != nil {
		tr.Close()
		return err
	}

	closed := make(chan struct{})
	var failure error

	tun.OnStateChange(func(s tunnel.State) {
		switch s {
		case tunnel.StateOpen:
			util.LogInfo("tunnel open")
		case tunnel.StateUnstable:
			util.LogWarning("connection unstable: nothing received for a while")
		case tunnel.StateClosed:
			close(closed)
		}
	})
	tun.OnUUID(func(uuid string) {
		util.LogInfo("session %s", uuid)
	})
	tun.OnError(func(status protocol.Status) {
		failure = status
	})
	tun.OnInstruction(func(opcode string, args []string) {
		fmt.Println(formatLine(opcode, args))
	})

	util.LogInfo("connecting to %s over %s", cfg.URL, cfg.Transport)
	if err := tun.Connect(ctx, cfg.Token); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	if statsInterval > 0 {
		util.StartStatsReporter(ctx, statsInterval)
	}
	go pump(input, tun)

	<-closed
	if failure != nil {
		return fmt.Errorf("tunnel closed: %w", failure)
	}
	util.LogInfo("tunnel closed")
	return nil
}

// newTransport builds the configured transport. For WebRTC the DataChannel is
// negotiated first, so it is already open when the tunnel starts.
func newTransport(ctx context.Context, cfg *config.Config) (transport.Transport, error) {
	switch cfg.Transport {
	case config.TransportWebRTC:
		dc, err := signaling.Dial(ctx, cfg.URL, cfg.STUN())
		if err != nil {
			return nil, err
		}
		return dc, nil
	case config.TransportWebSocket:
		return transport.NewWebSocket(cfg.URL, nil), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// pump sends one instruction per input line and disconnects at end of input.
func pump(input io.Reader, tun *tunnel.Tunnel) {
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		fields, err := parseLine(scanner.Text())
		if err != nil {
			util.LogWarning("skipped input line: %v", err)
			continue
		}
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "" {
			util.LogWarning("skipped input line: empty opcode is reserved")
			continue
		}
		if !tun.Connected() {
			util.LogWarning("not connected, dropped %q", fields[0])
			continue
		}
		tun.SendInstruction(fields[0], fields[1:]...)
	}
	if err := scanner.Err(); err != nil {
		util.LogError("failed to read input: %v", err)
	}
	tun.Disconnect()
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// parseLine splits "opcode arg..." into fields on whitespace. A field
// starting with a double quote is a Go quoted string and may hold spaces or
// be empty. A blank line yields no fields.
func parseLine(line string) ([]string, error) {
	var fields []string
	rest := strings.TrimLeftFunc(line, unicode.IsSpace)
	for rest != "" {
		var field string
		if rest[0] == '"' {
			quoted, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return nil, fmt.Errorf("bad quoted field at %q", rest)
			}
			field, _ = strconv.Unquote(quoted)
			rest = rest[len(quoted):]
			if r, _ := utf8.DecodeRuneInString(rest); rest != "" && !unicode.IsSpace(r) {
				return nil, fmt.Errorf("missing space after %s", quoted)
			}
		} else {
			end := strings.IndexFunc(rest, unicode.IsSpace)
			if end < 0 {
				end = len(rest)
			}
			field, rest = rest[:end], rest[end:]
		}
		fields = append(fields, field)
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
	}
	return fields, nil
}

// formatLine is the inverse of parseLine for display.
func formatLine(opcode string, args []string) string {
	var b strings.Builder
	b.WriteString(quoteField(opcode))
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(quoteField(arg))
	}
	return b.String()
}

// quoteField quotes a field only when parseLine could not read it back bare.
func quoteField(field string) string {
	bare := field != "" && field[0] != '"' && !strings.ContainsFunc(field, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	})
	if bare {
		return field
	}
	return strconv.Quote(field)
}

// normalizeWSURL validates a gateway URL. A missing scheme defaults to wss;
// http and https are mapped to their WebSocket equivalents.
func normalizeWSURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.Contains(trimmed, "://") {
		trimmed = "wss://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	return u.String(), nil
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Gateway URL (e.g. wss://gateway.example/tunnel)").
			Show()

		wsURL, err := normalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askToken prompts for the credential without echoing it.
func askToken() string {
	token, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Token").
		WithMask("*").
		Show()
	pterm.Println()
	return strings.TrimSpace(token)
}
