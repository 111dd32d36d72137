// Package framed adapts a buffered network connection into the transport
// contract expected by pipelib: length-prefixed frames on the way out,
// flushed when the flush strategy says so, and a continuous inbound frame
// stream with a configurable response boundary.
package framed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/lithdew/bytesutil"
	"github.com/valyala/bytebufferpool"

	"github.com/zhoujie0101/pipeconn/pipelib"
)

const frameHeaderSize = 4 // big-endian uint32 payload length

// DefaultMaxFrameSize caps inbound and outbound frame payloads.
const DefaultMaxFrameSize = 4 << 20 // 4 MiB

// ErrFrameTooLarge indicates a frame payload exceeds the configured maximum.
var ErrFrameTooLarge = errors.New("framed: frame exceeds maximum size")

// Config contains configuration options for a framed Conn.
type Config struct {
	// Terminal marks frames that end one logical response. nil means every
	// frame completes a response.
	Terminal func(frame []byte) bool
	// MaxFrameSize bounds frame payloads in both directions. Default is
	// DefaultMaxFrameSize.
	MaxFrameSize uint32
	// InboundBacklog is the capacity of the inbound frame channel.
	InboundBacklog int
}

// DefaultConfig returns the default framed connection configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxFrameSize:   DefaultMaxFrameSize,
		InboundBacklog: 16,
	}
}

// Conn frames byte-slice items over a BufferedConn. It implements
// pipelib.Conn[[]byte, []byte]; the serialized use of its write path is the
// Pipeline's job, Conn itself does not lock it.
type Conn struct {
	bc       BufferedConn
	terminal func(frame []byte) bool
	maxFrame uint32

	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
}

var _ pipelib.Conn[[]byte, []byte] = (*Conn)(nil)

// NewConn starts framing over bc. A nil config uses DefaultConfig. The
// inbound read pump runs until the connection is closed or fails.
func NewConn(bc BufferedConn, config *Config) *Conn {
	if config == nil {
		config = DefaultConfig()
	}
	terminal := config.Terminal
	if terminal == nil {
		terminal = func(_ []byte) bool { return true }
	}
	maxFrame := config.MaxFrameSize
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrameSize
	}
	backlog := config.InboundBacklog
	if backlog <= 0 {
		backlog = 16
	}

	c := &Conn{
		bc:       bc,
		terminal: terminal,
		maxFrame: maxFrame,
		inbound:  make(chan []byte, backlog),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Write drains items until the channel closes, writing each as one frame
// and flushing whenever the strategy signals. A nil strategy flushes once
// at the end of the sequence.
func (c *Conn) Write(ctx context.Context, items <-chan []byte, strategy pipelib.FlushStrategy[[]byte]) error {
	if strategy == nil {
		strategy = pipelib.FlushOnEnd[[]byte]()
	}
	out, flushes := strategy.Apply(ctx, items)

	for out != nil || flushes != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			if err := c.writeFrame(frame); err != nil {
				return err
			}
		case _, ok := <-flushes:
			if !ok {
				flushes = nil
				continue
			}
			if err := c.bc.Flush(); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
		}
	}
	return ctx.Err()
}

// Read returns the inbound frame stream. The channel is closed once the
// underlying connection fails or is closed.
func (c *Conn) Read() <-chan []byte { return c.inbound }

// IsTerminal reports whether frame ends one logical response.
func (c *Conn) IsTerminal(frame []byte) bool { return c.terminal(frame) }

func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.bc.Close()
	})
	return err
}

func (c *Conn) writeFrame(frame []byte) error {
	if uint64(len(frame)) > uint64(c.maxFrame) {
		return fmt.Errorf("write frame of %d bytes: %w", len(frame), ErrFrameTooLarge)
	}
	buf := bytebufferpool.Get()
	buf.B = bytesutil.AppendUint32BE(buf.B, uint32(len(frame)))
	buf.B = append(buf.B, frame...)
	_, err := c.bc.Write(buf.B)
	bytebufferpool.Put(buf)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop pumps inbound frames into the inbound channel until the
// connection ends, then closes the channel to report connection-level
// failure upstream.
func (c *Conn) readLoop() {
	defer close(c.inbound)

	header := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(c.bc, header); err != nil {
			return
		}
		size := bytesutil.Uint32BE(header)
		if size > c.maxFrame {
			return
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(c.bc, frame); err != nil {
			return
		}
		select {
		case c.inbound <- frame:
		case <-c.closed:
			return
		}
	}
}
