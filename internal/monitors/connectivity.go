package monitors

import (
	"context"
	"net"
	"time"

	"github.com/fentz26/murmur/internal/models"
)

// Connectivity probes internet reachability by dialing a well-known
// endpoint. A failed dial is a conn_down observation, not a probe error:
// unreachability is exactly the state being watched.
type Connectivity struct {
	interval time.Duration
	address  string
	timeout  time.Duration
	dial     func(ctx context.Context, address string) error
}

// NewConnectivity creates the connectivity probe. address is the
// host:port dialed on each sample.
func NewConnectivity(interval time.Duration, address string, timeout time.Duration) *Connectivity {
	c := &Connectivity{
		interval: interval,
		address:  address,
		timeout:  timeout,
	}
	c.dial = c.tcpDial
	return c
}

func (c *Connectivity) Name() string {
	return "connectivity"
}

func (c *Connectivity) Interval() time.Duration {
	return c.interval
}

func (c *Connectivity) Sample(ctx context.Context) []models.Observation {
	kind := models.KindConnUp
	detail := ""
	if err := c.dial(ctx, c.address); err != nil {
		kind = models.KindConnDown
		detail = err.Error()
	}
	return []models.Observation{{
		Source:    c.Name(),
		Kind:      kind,
		Target:    c.address,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}}
}

func (c *Connectivity) tcpDial(ctx context.Context, address string) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
