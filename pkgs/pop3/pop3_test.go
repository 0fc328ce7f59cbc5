package pop3

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDial(t *testing.T) {
	srv := startScriptServer(t, script{
		Greeting: "+OK POP3 server ready",
		Replies: map[string][]string{
			"CAPA": {capaWithSASL},
			"AUTH": {"+OK Logged in"},
		},
	})
	host, port := splitHostPort(t, srv.addr)

	c, err := Dial(Config{
		Host:           host,
		Port:           port,
		Username:       "test",
		Token:          "bearer-token",
		AuthMechanisms: []string{"XOAUTH2"},
		Timeout:        5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer c.Close()

	if c.Mechanism() != "XOAUTH2" {
		t.Errorf("Mechanism() = %q, want XOAUTH2", c.Mechanism())
	}
	if !strings.HasPrefix(c.Banner(), "+OK") {
		t.Errorf("Banner() = %q", c.Banner())
	}
}

func TestConnectGreetingRefused(t *testing.T) {
	srv := startScriptServer(t, script{
		Greeting: "-ERR service unavailable",
	})

	_, err := dialScript(srv, Config{Username: "test", Password: "test"})
	if err == nil {
		t.Fatal("expected connect failure on negative greeting")
	}
}

func TestConnectTwice(t *testing.T) {
	srv := startScriptServer(t, script{})

	c := connectClient(t, srv, Config{Username: "test", Password: "test"})
	if err := c.Connect(); err == nil {
		t.Error("second Connect() must fail")
	}
}

func TestNoopIdempotent(t *testing.T) {
	srv := startScriptServer(t, script{})

	c := connectClient(t, srv, Config{Username: "test", Password: "test"})

	if err := c.Noop(); err != nil {
		t.Fatalf("first Noop() error: %v", err)
	}
	if err := c.Noop(); err != nil {
		t.Fatalf("second Noop() error: %v", err)
	}
}

func TestIsConnected(t *testing.T) {
	srv := startScriptServer(t, script{})

	c := connectClient(t, srv, Config{Username: "test", Password: "test"})
	if !c.IsConnected() {
		t.Error("IsConnected() = false on a healthy session")
	}

	c.Close()
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestIsConnectedProbeRefused(t *testing.T) {
	srv := startScriptServer(t, script{
		Replies: map[string][]string{
			"NOOP": {"-ERR"},
		},
	})

	c := connectClient(t, srv, Config{Username: "test", Password: "test"})
	if c.IsConnected() {
		t.Error("IsConnected() = true although the server refuses NOOP")
	}
}

func TestNoopNotConnected(t *testing.T) {
	srv := startScriptServer(t, script{})

	c := connectClient(t, srv, Config{Username: "test", Password: "test"})
	c.Close()

	if err := c.Noop(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Noop() after Close = %v, want ErrNotConnected", err)
	}
}

func TestCloseTwice(t *testing.T) {
	srv := startScriptServer(t, script{})

	c := connectClient(t, srv, Config{Username: "test", Password: "test"})
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestCloseSendsQuit(t *testing.T) {
	srv := startScriptServer(t, script{})

	c := connectClient(t, srv, Config{Username: "test", Password: "test"})
	c.Close()

	if n := srv.CountCommands("QUIT"); n != 1 {
		t.Errorf("QUIT sent %d times, want 1", n)
	}
}
