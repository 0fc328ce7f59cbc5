package pop3

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// ---------------------------------------------------------------------------
// Scripted POP3 mock server (raw TCP, RFC 1939)
//
// Server behavior is injected as data: each command word maps to an
// ordered sequence of canned replies consumed one at a time, so
// "first attempt fails, second succeeds" scenarios replay without
// hidden state. A reply may span several lines (join with \n); a reply
// line starting with "+ " is a SASL continuation prompt, after which
// the server reads one more client line and sends the next reply from
// the same sequence.
// ---------------------------------------------------------------------------

type script struct {
	// Greeting is the banner; empty means a bare "+OK".
	Greeting string
	// Replies maps an uppercase command word to its canned replies.
	// Commands without an entry (or with an exhausted sequence) get a
	// minimal default: USER/PASS/NOOP/QUIT succeed, everything else
	// is refused.
	Replies map[string][]string
}

type scriptServer struct {
	addr string

	mu   sync.Mutex
	recv []string
}

func startScriptServer(t *testing.T, sc script) *scriptServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	srv := &scriptServer{addr: ln.Addr().String()}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.handle(conn, sc)
		}
	}()

	return srv
}

// Received returns every client line the server has read, in order.
func (s *scriptServer) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.recv))
	copy(out, s.recv)
	return out
}

// CountCommands returns how many received lines start with the prefix.
func (s *scriptServer) CountCommands(prefix string) int {
	n := 0
	for _, line := range s.Received() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

func (s *scriptServer) record(line string) {
	s.mu.Lock()
	s.recv = append(s.recv, line)
	s.mu.Unlock()
}

func (s *scriptServer) handle(conn net.Conn, sc script) {
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	writeLine := func(l string) {
		fmt.Fprintf(rw, "%s\r\n", l)
		rw.Flush()
	}
	readLine := func() (string, bool) {
		line, err := rw.ReadString('\n')
		if err != nil {
			return "", false
		}
		line = strings.TrimRight(line, "\r\n")
		s.record(line)
		return line, true
	}

	// Per-connection copy of the reply sequences.
	queues := map[string][]string{}
	for k, v := range sc.Replies {
		queues[strings.ToUpper(k)] = append([]string(nil), v...)
	}
	next := func(cmd string) string {
		if q := queues[cmd]; len(q) > 0 {
			queues[cmd] = q[1:]
			return q[0]
		}
		switch cmd {
		case "USER", "NOOP", "QUIT":
			return "+OK"
		case "PASS":
			return "+OK Logged in"
		default:
			return "-ERR unknown command"
		}
	}

	greeting := sc.Greeting
	if greeting == "" {
		greeting = "+OK"
	}
	writeLine(greeting)

	for {
		line, ok := readLine()
		if !ok {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd := strings.ToUpper(fields[0])

		reply := next(cmd)
		for {
			for _, part := range strings.Split(reply, "\n") {
				writeLine(part)
			}
			if !strings.HasPrefix(reply, "+ ") {
				break
			}
			// Continuation prompt: consume the client's answer, then
			// emit the next reply from the same sequence.
			if _, ok := readLine(); !ok {
				return
			}
			reply = next(cmd)
		}

		if cmd == "QUIT" {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

// connectClient dials the scripted server and runs the full pipeline.
func connectClient(t *testing.T, srv *scriptServer, cfg Config) *Client {
	t.Helper()
	c, err := dialScript(srv, cfg)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func dialScript(srv *scriptServer, cfg Config) (*Client, error) {
	nc, err := net.Dial("tcp", srv.addr)
	if err != nil {
		return nil, err
	}
	c := NewClient(nc, cfg)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}
