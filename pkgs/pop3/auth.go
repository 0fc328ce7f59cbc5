package pop3

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
)

// mechanism identifies the authentication exchange the client drives.
type mechanism int

const (
	mechNone mechanism = iota
	mechPlain
	mechAPOP
	mechSASL
)

func (m mechanism) String() string {
	switch m {
	case mechPlain:
		return "USER/PASS"
	case mechAPOP:
		return "APOP"
	case mechSASL:
		return "SASL"
	default:
		return "none"
	}
}

// authenticate selects exactly one mechanism and drives it to a
// terminal outcome. On any error the connection is no longer usable;
// Connect tears it down.
func (c *Client) authenticate() error {
	mech, saslName := c.selectMechanism()
	c.mech = mech
	switch mech {
	case mechSASL:
		c.saslMech = saslName
		return c.authSASL(saslName)
	case mechAPOP:
		return c.authAPOP()
	default:
		return c.authPlain()
	}
}

// selectMechanism applies the selection policy, first match wins:
//
//  1. a configured SASL mechanism that the server advertised (or all
//     configured mechanisms, when the capability query was skipped);
//  2. APOP, when enabled and the greeting carried a challenge token —
//     a missing token silently falls through, it is never an error;
//  3. USER/PASS.
func (c *Client) selectMechanism() (mechanism, string) {
	for _, name := range c.cfg.AuthMechanisms {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if c.cfg.DisableCapa || c.caps.AdvertisesMechanism(name) {
			if _, ok := c.saslClientFor(name); ok {
				return mechSASL, name
			}
		}
	}
	if c.cfg.EnableAPOP && c.challenge != "" {
		return mechAPOP, ""
	}
	return mechPlain, ""
}

// saslClientFor builds the sasl.Client for a supported mechanism name.
func (c *Client) saslClientFor(name string) (sasl.Client, bool) {
	switch name {
	case "XOAUTH2":
		return newXOAuth2Client(c.cfg.Username, c.cfg.Token), true
	case sasl.Plain:
		return sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password), true
	default:
		return nil, false
	}
}

// authPlain runs the USER/PASS exchange. Either negative acknowledgment
// is a terminal authentication failure.
func (c *Client) authPlain() error {
	if _, err := c.conn.cmd("USER %s", c.cfg.Username); err != nil {
		return err
	}
	_, err := c.conn.cmdRedacted("PASS *", "PASS %s", c.cfg.Password)
	return err
}

// authAPOP sends APOP with the keyed digest of the greeting challenge.
// The digest is the lowercase hex MD5 of challenge+secret (RFC 1939),
// computed over the exact challenge bytes including brackets.
func (c *Client) authAPOP() error {
	if c.challenge == "" {
		// Selection already guards this; fall back rather than fail.
		return c.authPlain()
	}
	sum := md5.Sum([]byte(c.challenge + c.cfg.Password))
	digest := hex.EncodeToString(sum[:])
	_, err := c.conn.cmd("APOP %s %s", c.cfg.Username, digest)
	return err
}

// authSASL drives an AUTH exchange in the combined single-line format
// and, if the server refuses that exact form, retries exactly once in
// the split two-line format. A second refusal is terminal.
func (c *Client) authSASL(name string) error {
	client, ok := c.saslClientFor(name)
	if !ok {
		return fmt.Errorf("pop3: unsupported auth mechanism %q", name)
	}
	mech, ir, err := client.Start()
	if err != nil {
		return err
	}

	err = c.saslExchange(mech, ir, client, true)
	if err == nil {
		return nil
	}
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		// Transport failure; no fallback survives it.
		return err
	}
	if c.logger() != nil {
		c.logger().Debug("pop3 auth combined format refused, retrying split", "mechanism", mech)
	}

	client, _ = c.saslClientFor(name)
	mech, ir, err = client.Start()
	if err != nil {
		return err
	}
	return c.saslExchange(mech, ir, client, false)
}

// saslExchange performs one AUTH conversation. In the combined format
// the initial response rides on the AUTH line; in the split format the
// mechanism name goes alone and the initial response answers the first
// continuation prompt.
func (c *Client) saslExchange(mech string, ir []byte, client sasl.Client, combined bool) error {
	enc := base64.StdEncoding
	encoded := enc.EncodeToString(ir)

	if combined {
		if err := c.conn.writeLine("AUTH "+mech+" "+encoded, "AUTH "+mech+" *"); err != nil {
			return err
		}
	} else {
		if err := c.conn.writeLine("AUTH "+mech, noRedact); err != nil {
			return err
		}
	}

	pending := !combined
	for {
		line, err := c.conn.readLine()
		if err != nil {
			return err
		}
		if isPositive(line) {
			return nil
		}
		if strings.HasPrefix(line, respErr) {
			return &ProtocolError{Command: "AUTH " + mech, Response: line}
		}
		if !strings.HasPrefix(line, "+") {
			return fmt.Errorf("pop3: unexpected response: %q", line)
		}

		// Continuation prompt ("+ [b64]").
		var resp []byte
		if pending {
			resp, pending = ir, false
		} else {
			chal, decErr := enc.DecodeString(strings.TrimSpace(strings.TrimPrefix(line, "+")))
			if decErr != nil {
				chal = nil
			}
			resp, err = client.Next(chal)
			if err != nil {
				// Abort the exchange so the server returns to command state.
				c.conn.writeLine("*", noRedact)
				return err
			}
			if resp == nil {
				resp = []byte{}
			}
		}
		if err := c.conn.writeLine(enc.EncodeToString(resp), "*"); err != nil {
			return err
		}
	}
}

// xoauth2Client is a sasl.Client for the XOAUTH2 mechanism. On a
// post-credential challenge (the server's JSON error blob) it answers
// with an empty line once to collect the final -ERR, then gives up.
type xoauth2Client struct {
	username  string
	token     string
	responded bool
}

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (x *xoauth2Client) Start() (string, []byte, error) {
	ir := []byte("user=" + x.username + "\x01auth=Bearer " + x.token + "\x01\x01")
	return "XOAUTH2", ir, nil
}

func (x *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if x.responded {
		return nil, fmt.Errorf("pop3: unexpected XOAUTH2 challenge: %q", challenge)
	}
	x.responded = true
	return []byte{}, nil
}
