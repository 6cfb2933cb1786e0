package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/1ureka/rdtunnel/internal/config"
	"github.com/1ureka/rdtunnel/internal/protocol"
	"github.com/1ureka/rdtunnel/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func TestNormalizeWSURL(t *testing.T) {
	testCases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "wss://gateway.example/tunnel", want: "wss://gateway.example/tunnel"},
		{raw: "ws://127.0.0.1:8080/tunnel?id=1", want: "ws://127.0.0.1:8080/tunnel?id=1"},
		{raw: "  gateway.example/tunnel  ", want: "wss://gateway.example/tunnel"},
		{raw: "http://localhost:8080", want: "ws://localhost:8080"},
		{raw: "https://gateway.example", want: "wss://gateway.example"},
		{raw: "ftp://gateway.example", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "wss://", wantErr: true},
	}

	for _, tc := range testCases {
		got, err := normalizeWSURL(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("normalizeWSURL(%q) = %q, want error", tc.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("normalizeWSURL(%q) failed: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("normalizeWSURL(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseLine(t *testing.T) {
	testCases := []struct {
		line   string
		fields []string
	}{
		{"key 65 1", []string{"key", "65", "1"}},
		{"  nop  ", []string{"nop"}},
		{"mouse\t10  20 1", []string{"mouse", "10", "20", "1"}},
		{`clipboard "hello world"`, []string{"clipboard", "hello world"}},
		{`name "" x`, []string{"name", "", "x"}},
		{`say "tab\there" "quote \" inside"`, []string{"say", "tab\there", `quote " inside`}},
		{`a"b c`, []string{`a"b`, "c"}},
		{"", nil},
		{"   \t ", nil},
	}

	for _, tc := range testCases {
		fields, err := parseLine(tc.line)
		if err != nil {
			t.Errorf("parseLine(%q) failed: %v", tc.line, err)
			continue
		}
		if !slices.Equal(fields, tc.fields) {
			t.Errorf("parseLine(%q) = %q, want %q", tc.line, fields, tc.fields)
		}
	}
}

func TestParseLineRejectsBadQuoting(t *testing.T) {
	for _, line := range []string{
		`say "unterminated`,
		`say "joined"tail`,
		`say "bad \q escape"`,
	} {
		if fields, err := parseLine(line); err == nil {
			t.Errorf("parseLine(%q) = %q, want error", line, fields)
		}
	}
}

// TestFormatLineRoundTrip verifies that every printed instruction reads back
// as the same fields, whatever its arguments hold.
func TestFormatLineRoundTrip(t *testing.T) {
	testCases := []struct {
		opcode string
		args   []string
		want   string
	}{
		{"key", []string{"65", "1"}, "key 65 1"},
		{"nop", nil, "nop"},
		{"clipboard", []string{"hello world"}, `clipboard "hello world"`},
		{"name", []string{"", "x"}, `name "" x`},
		{"say", []string{`"quoted"`}, `say "\"quoted\""`},
		{"say", []string{"line\nbreak"}, `say "line\nbreak"`},
		{"", []string{"ping", "1"}, `"" ping 1`},
	}

	for _, tc := range testCases {
		line := formatLine(tc.opcode, tc.args)
		if line != tc.want {
			t.Errorf("formatLine(%q, %q) = %q, want %q", tc.opcode, tc.args, line, tc.want)
		}
		fields, err := parseLine(line)
		if err != nil {
			t.Errorf("parseLine(%q) failed: %v", line, err)
			continue
		}
		want := append([]string{tc.opcode}, tc.args...)
		if !slices.Equal(fields, want) {
			t.Errorf("parseLine(formatLine(...)) = %q, want %q", fields, want)
		}
	}
}

// gateway is a loopback peer speaking the instruction protocol. It checks the
// auth line, assigns a session UUID, and reports every non-keepalive
// instruction it receives.
type gateway struct {
	url      string
	token    string
	received chan string
	uuids    chan string
}

func newGateway(t *testing.T, serve func(g *gateway, conn *websocket.Conn)) *gateway {
	t.Helper()

	g := &gateway{
		token:    "s3cret",
		received: make(chan string, 16),
		uuids:    make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(g, conn)
	}))
	t.Cleanup(srv.Close)

	g.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return g
}

// authenticate reads the auth line and announces a fresh session.
func (g *gateway) authenticate(conn *websocket.Conn) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	if string(data) != "auth "+g.token {
		return fmt.Errorf("unexpected auth line %q", data)
	}

	id := uuid.New().String()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.Encode(protocol.InternalOpcode, id))); err != nil {
		return err
	}
	g.uuids <- id
	return nil
}

func echoSession(g *gateway, conn *websocket.Conn) {
	if err := g.authenticate(conn); err != nil {
		return
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		instructions, err := protocol.Decode(string(data))
		if err != nil {
			return
		}
		for _, ins := range instructions {
			if ins.Internal() {
				continue
			}
			g.received <- formatLine(ins.Opcode, ins.Args)
		}
	}
}

func testConfig(g *gateway) *config.Config {
	cfg := config.Default()
	cfg.URL = g.url
	cfg.Token = g.token
	return cfg
}

// TestRunSendsInputLines drives a whole session against the loopback
// gateway: input lines become instructions and end of input disconnects.
func TestRunSendsInputLines(t *testing.T) {
	g := newGateway(t, echoSession)

	inputR, inputW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), testConfig(g), 0, inputR)
	}()

	select {
	case id := <-g.uuids:
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("gateway assigned invalid uuid %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("gateway never saw the auth line")
	}

	// Lines written before the tunnel processes the UUID are dropped, so
	// repeat until one arrives.
	deadline := time.After(5 * time.Second)
	for delivered := false; !delivered; {
		if _, err := io.WriteString(inputW, "key 65 1\n"); err != nil {
			t.Fatalf("write input: %v", err)
		}
		select {
		case got := <-g.received:
			if got != "key 65 1" {
				t.Fatalf("gateway received %q, want %q", got, "key 65 1")
			}
			delivered = true
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("instruction never reached the gateway")
		}
	}

	inputW.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v, want nil after end of input", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after end of input")
	}
}

// TestRunReportsExplicitStatus verifies that a gateway rejecting the session
// with a numeric close reason surfaces that status as the error.
func TestRunReportsExplicitStatus(t *testing.T) {
	g := newGateway(t, func(g *gateway, conn *websocket.Conn) {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		reason := fmt.Sprint(int(protocol.StatusClientUnauthorized))
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	})

	inputR, inputW := io.Pipe()
	defer inputW.Close()

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), testConfig(g), 0, inputR)
	}()

	select {
	case err := <-done:
		var status protocol.Status
		if !errors.As(err, &status) || status.Code != protocol.StatusClientUnauthorized {
			t.Fatalf("run returned %v, want CLIENT_UNAUTHORIZED", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the gateway closed")
	}
}
