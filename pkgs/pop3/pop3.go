// Package pop3 implements the client side of POP3 connection
// establishment: greeting parsing, advisory capability discovery,
// mechanism selection across USER/PASS, APOP and SASL token exchanges,
// and a NOOP liveness gate for folder opens.
//
// One Client serves exactly one logical session. Callers must
// serialize access to a Client; use independent Clients for
// concurrent connections.
package pop3

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// ErrNotConnected is returned by operations that require a live,
// authenticated session.
var ErrNotConnected = errors.New("pop3: not connected")

// DefaultTimeout bounds each wire round-trip when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config holds the settings for one POP3 session.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// EnableAPOP allows challenge-response authentication when the
	// greeting carries a challenge token. Enabling it against a server
	// that never sends a token is harmless; the client falls back to
	// USER/PASS.
	EnableAPOP bool

	// AuthMechanisms lists accepted SASL mechanism names in preference
	// order (e.g. "XOAUTH2"). A mechanism is used only when the server
	// advertises it, unless DisableCapa is set.
	AuthMechanisms []string

	// Token is the opaque bearer credential for XOAUTH2.
	Token string

	// DisableCapa skips the CAPA query. Mechanisms listed in
	// AuthMechanisms are then assumed to be supported.
	DisableCapa bool

	// SkipOpenProbe disables the NOOP liveness probe before a folder
	// open. The default is to always probe.
	SkipOpenProbe bool

	// Timeout bounds every wire round-trip. Zero means DefaultTimeout.
	Timeout time.Duration

	// SSL enables implicit TLS when dialing.
	SSL bool
	// TLSConfig overrides the TLS client configuration for SSL.
	TLSConfig *tls.Config

	// Logger receives a protocol trace at debug level. Credentials are
	// redacted. Nil disables tracing.
	Logger *slog.Logger
}

// state tracks the session through the fixed connect pipeline.
type state int

const (
	stateNotConnected state = iota
	stateAuthorization
	stateTransaction
	stateClosed
)

// Client is a single POP3 session. It exclusively owns its transport
// from Connect until Close.
type Client struct {
	cfg  Config
	conn *conn

	state       state
	banner      string
	challenge   string
	caps        Capabilities
	capsQueried bool
	mech        mechanism
	saslMech    string
}

// NewClient wraps an established connection. The caller hands over
// ownership of nc; Connect must be called before any other operation.
func NewClient(nc net.Conn, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		cfg:  cfg,
		conn: newConn(nc, timeout, cfg.Logger),
		caps: Capabilities{},
	}
}

// Dial connects to the configured host, optionally over implicit TLS,
// and runs the connect pipeline to completion.
func Dial(cfg Config) (*Client, error) {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	var nc net.Conn
	var err error
	if cfg.SSL {
		tlsCfg := cfg.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{ServerName: cfg.Host}
		}
		nc, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
	} else {
		nc, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("pop3: connection to %s failed: %w", addr, err)
	}

	c := NewClient(nc, cfg)
	if err := c.Connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect runs the pipeline: greeting, capability discovery,
// authentication. On any terminal failure the transport is closed and
// the session ends in the closed state.
func (c *Client) Connect() error {
	if c.state != stateNotConnected {
		return errors.New("pop3: already connected")
	}

	greeting, err := c.conn.readLine()
	if err != nil {
		return c.fail(fmt.Errorf("pop3: reading greeting: %w", err))
	}
	if !isPositive(greeting) {
		return c.fail(fmt.Errorf("pop3: server refused connection: %q", greeting))
	}
	c.banner = greeting
	c.challenge = parseChallenge(greeting)
	c.state = stateAuthorization

	if !c.cfg.DisableCapa {
		if err := c.queryCapabilities(); err != nil {
			return c.fail(fmt.Errorf("pop3: capability query: %w", err))
		}
	}

	if err := c.authenticate(); err != nil {
		return c.fail(fmt.Errorf("pop3: authentication failed: %w", err))
	}
	c.state = stateTransaction

	if c.logger() != nil {
		c.logger().Debug("pop3 session established",
			"mechanism", c.Mechanism(),
			"capabilities", len(c.caps))
	}
	return nil
}

// Noop sends the liveness probe. It has no effect on mailbox state and
// is safe to call any number of times while connected.
func (c *Client) Noop() error {
	if c.state != stateTransaction {
		return ErrNotConnected
	}
	_, err := c.conn.cmd("NOOP")
	return err
}

// IsConnected reports whether the session is authenticated and the
// server still answers the liveness probe.
func (c *Client) IsConnected() bool {
	if c.state != stateTransaction {
		return false
	}
	return c.Noop() == nil
}

// Mechanism returns the name of the negotiated authentication
// mechanism, or "none" before authentication.
func (c *Client) Mechanism() string {
	if c.mech == mechSASL {
		return c.saslMech
	}
	return c.mech.String()
}

// Banner returns the raw server greeting.
func (c *Client) Banner() string {
	return c.banner
}

// Close ends the session. A live session is terminated with QUIT; the
// transport is closed regardless. Close is safe to call more than once.
func (c *Client) Close() error {
	if c.state == stateClosed {
		return nil
	}
	if c.state == stateTransaction {
		c.conn.cmd("QUIT") // best effort; the close below is what matters
	}
	c.state = stateClosed
	return c.conn.close()
}

// fail tears down the transport after an unrecoverable pipeline error.
func (c *Client) fail(err error) error {
	c.state = stateClosed
	c.conn.close()
	return err
}

func (c *Client) logger() *slog.Logger {
	return c.cfg.Logger
}
