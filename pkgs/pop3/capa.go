package pop3

import "strings"

// Capabilities maps uppercase capability names to their argument text,
// as advertised by CAPA (RFC 2449). An empty map is a valid terminal
// value meaning the server declined or does not implement CAPA.
type Capabilities map[string]string

// Has reports whether the named capability was advertised.
func (caps Capabilities) Has(name string) bool {
	_, ok := caps[strings.ToUpper(name)]
	return ok
}

// SASLMechanisms returns the mechanism names listed on the SASL
// capability line, uppercased, in advertised order.
func (caps Capabilities) SASLMechanisms() []string {
	args, ok := caps["SASL"]
	if !ok {
		return nil
	}
	fields := strings.Fields(args)
	mechs := make([]string, 0, len(fields))
	for _, f := range fields {
		mechs = append(mechs, strings.ToUpper(f))
	}
	return mechs
}

// AdvertisesMechanism reports whether mech appears on the SASL line.
func (caps Capabilities) AdvertisesMechanism(mech string) bool {
	mech = strings.ToUpper(mech)
	for _, m := range caps.SASLMechanisms() {
		if m == mech {
			return true
		}
	}
	return false
}

// queryCapabilities runs CAPA once and caches the result on the client.
//
// Capability discovery is advisory: a -ERR response, or a status line
// that is not a clean +OK, leaves the client with an empty set and no
// error. Only a transport failure propagates.
func (c *Client) queryCapabilities() error {
	if c.capsQueried {
		return nil
	}
	c.capsQueried = true
	c.caps = Capabilities{}

	if err := c.conn.writeLine("CAPA", noRedact); err != nil {
		return err
	}
	status, err := c.conn.readLine()
	if err != nil {
		return err
	}
	if !isPositive(status) {
		// Server rejected or garbled CAPA; carry on without extensions.
		return nil
	}

	lines, err := c.conn.readMulti()
	if err != nil {
		return err
	}
	for _, line := range lines {
		name, args, _ := strings.Cut(strings.TrimSpace(line), " ")
		if name == "" {
			continue
		}
		c.caps[strings.ToUpper(name)] = args
	}
	return nil
}

// Capabilities returns the capability set negotiated during Connect.
// The result is a copy; the session's own set is immutable once set.
func (c *Client) Capabilities() Capabilities {
	out := make(Capabilities, len(c.caps))
	for k, v := range c.caps {
		out[k] = v
	}
	return out
}
