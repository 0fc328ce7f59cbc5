package pop3

import (
	"errors"
	"fmt"
	"strings"
)

// Folder is a view of the single POP3 mailbox. POP3 has exactly one
// folder, INBOX; any other name exists but can never be opened.
type Folder struct {
	client *Client
	name   string
	open   bool
}

// Folder returns a handle for the named folder. The handle is created
// closed; Open gates the transition on a liveness probe.
func (c *Client) Folder(name string) *Folder {
	return &Folder{client: c, name: name}
}

// Name returns the folder name as requested by the caller.
func (f *Folder) Name() string {
	return f.name
}

// Open transitions the folder to the open state.
//
// Before opening, the session is probed with NOOP (unless
// SkipOpenProbe is set). A server that accepted authentication but
// answers the probe negatively leaves the folder closed and Open
// returns nil: the caller observes a closed folder, not an error.
// Transport failures still surface.
func (f *Folder) Open() error {
	if f.open {
		return errors.New("pop3: folder already open")
	}
	if f.client.state != stateTransaction {
		return ErrNotConnected
	}
	if !strings.EqualFold(f.name, "INBOX") {
		return fmt.Errorf("pop3: no such folder %q", f.name)
	}

	if !f.client.cfg.SkipOpenProbe {
		if err := f.client.Noop(); err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) {
				if f.client.logger() != nil {
					f.client.logger().Debug("pop3 open probe refused, folder stays closed",
						"folder", f.name, "response", perr.Response)
				}
				return nil
			}
			return err
		}
	}

	f.open = true
	return nil
}

// IsOpen reports whether the folder is in the open state.
func (f *Folder) IsOpen() bool {
	return f.open
}

// Close returns the folder to the closed state. It never fails and
// does not touch the session; the session outlives its folders.
func (f *Folder) Close() {
	f.open = false
}
