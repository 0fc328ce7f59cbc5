package pop3

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"
)

// ProtocolError is a negative acknowledgment (-ERR) from the server.
// It carries the command keyword and the raw response line so callers
// can distinguish a server refusal from a transport failure.
type ProtocolError struct {
	// Command is the keyword of the command that was refused (e.g. "NOOP").
	Command string
	// Response is the raw response line (e.g. "-ERR no such message").
	Response string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("pop3: %s", e.Response)
	}
	return fmt.Sprintf("pop3: %s failed: %s", e.Command, e.Response)
}

const (
	respOK   = "+OK"
	respErr  = "-ERR"
	lineEnd  = "\r\n"
	dotEnd   = "."
	noRedact = ""
)

// conn is a raw line-oriented POP3 connection. Every exchange is a
// blocking round-trip bounded by the configured timeout.
type conn struct {
	nc      net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
	logger  *slog.Logger
}

func newConn(nc net.Conn, timeout time.Duration, logger *slog.Logger) *conn {
	return &conn{
		nc:      nc,
		r:       bufio.NewReader(nc),
		w:       bufio.NewWriter(nc),
		timeout: timeout,
		logger:  logger,
	}
}

// deadline arms the per-operation deadline. A zero timeout disables it.
func (c *conn) deadline() {
	if c.timeout > 0 {
		c.nc.SetDeadline(time.Now().Add(c.timeout))
	}
}

// writeLine sends one CRLF-terminated command line. redacted, when
// non-empty, is logged in place of the real line so credentials never
// reach the trace.
func (c *conn) writeLine(line, redacted string) error {
	c.deadline()
	if c.logger != nil {
		display := line
		if redacted != noRedact {
			display = redacted
		}
		c.logger.Debug("pop3 send", "line", display)
	}
	if _, err := c.w.WriteString(line + lineEnd); err != nil {
		return err
	}
	return c.w.Flush()
}

// readLine reads one response line with the trailing CRLF stripped.
func (c *conn) readLine() (string, error) {
	c.deadline()
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if c.logger != nil {
		c.logger.Debug("pop3 recv", "line", line)
	}
	return line, nil
}

// readMulti reads lines until the "." terminator, undoing byte-stuffing.
func (c *conn) readMulti() ([]string, error) {
	var lines []string
	for {
		line, err := c.readLine()
		if err != nil {
			return nil, err
		}
		if line == dotEnd {
			return lines, nil
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		lines = append(lines, line)
	}
}

// cmd sends a single-line command and parses the acknowledgment.
// On +OK it returns the trailing info text; on -ERR it returns a
// *ProtocolError naming the command keyword.
func (c *conn) cmd(format string, args ...interface{}) (string, error) {
	return c.cmdRedacted(noRedact, format, args...)
}

// cmdRedacted is cmd with a substitute line for the debug trace.
func (c *conn) cmdRedacted(redacted, format string, args ...interface{}) (string, error) {
	line := fmt.Sprintf(format, args...)
	if err := c.writeLine(line, redacted); err != nil {
		return "", err
	}
	resp, err := c.readLine()
	if err != nil {
		return "", err
	}
	info, err := parseResponse(resp)
	if perr, ok := err.(*ProtocolError); ok {
		perr.Command = commandWord(line)
	}
	return info, err
}

func (c *conn) close() error {
	return c.nc.Close()
}

// parseResponse splits a status line into its info text. -ERR yields a
// *ProtocolError; anything that is neither +OK nor -ERR is malformed.
func parseResponse(line string) (string, error) {
	switch {
	case line == respOK:
		return "", nil
	case strings.HasPrefix(line, respOK+" "):
		return line[len(respOK)+1:], nil
	case line == respErr || strings.HasPrefix(line, respErr+" "):
		return "", &ProtocolError{Response: line}
	default:
		return "", fmt.Errorf("pop3: unexpected response: %q", line)
	}
}

// commandWord returns the first token of a command line.
func commandWord(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}
