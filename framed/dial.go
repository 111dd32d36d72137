package framed

import (
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"
)

var zeroTime time.Time

const (
	DefaultDialTimeout  = 3 * time.Second
	DefaultDialAttempts = 3
)

// Dialer connects to a remote peer, performs the handshake and wraps the
// result in a framed Conn. The zero value plus an Addr is usable.
type Dialer struct {
	Addr string

	// HandShaker upgrades the raw connection. Default is DefaultHandShaker.
	HandShaker HandShaker
	// HandshakeTimeout bounds the handshake, 0 means no deadline.
	HandshakeTimeout time.Duration
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
	// MaxAttempts is the number of connection attempts before giving up,
	// with capped exponential backoff between them.
	MaxAttempts int

	// Config configures the resulting framed Conn.
	Config *Config
}

// Dial connects with the default dialer settings.
func Dial(addr string) (*Conn, error) {
	d := &Dialer{Addr: addr}
	return d.Dial()
}

func (d *Dialer) Dial() (*Conn, error) {
	hs := d.HandShaker
	if hs == nil {
		hs = DefaultHandShaker
	}
	dialTimeout := d.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	attempts := d.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultDialAttempts
	}

	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(b.Duration())
		}

		conn, err := net.DialTimeout("tcp", d.Addr, dialTimeout)
		if err != nil {
			lastErr = err
			continue
		}

		if d.HandshakeTimeout > 0 {
			if err := conn.SetDeadline(time.Now().Add(d.HandshakeTimeout)); err != nil {
				_ = conn.Close()
				lastErr = err
				continue
			}
		}
		bc, err := hs.Handshake(conn)
		if err != nil {
			_ = conn.Close()
			lastErr = fmt.Errorf("handshake: %w", err)
			continue
		}
		if d.HandshakeTimeout > 0 {
			if err := bc.SetDeadline(zeroTime); err != nil {
				_ = bc.Close()
				lastErr = err
				continue
			}
		}

		return NewConn(bc, d.Config), nil
	}

	return nil, fmt.Errorf("dial %s: %w", d.Addr, lastErr)
}
