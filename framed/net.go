package framed

import (
	"bufio"
	"net"
)

const (
	DefaultReadBufferSize  = 4096
	DefaultWriteBufferSize = 4096
)

// BufferedConn is a connection whose writes are buffered until Flush is
// called.
type BufferedConn interface {
	net.Conn
	Flush() error
}

// HandShaker upgrades a raw connection into a BufferedConn, performing
// whatever session setup the deployment requires before framing starts.
type HandShaker interface {
	Handshake(conn net.Conn) (BufferedConn, error)
}

type HandShakerFunc func(conn net.Conn) (BufferedConn, error)

func (fn HandShakerFunc) Handshake(conn net.Conn) (BufferedConn, error) { return fn(conn) }

// DefaultHandShaker wraps the connection with default-sized buffers and
// performs no session setup.
var DefaultHandShaker HandShakerFunc = func(conn net.Conn) (BufferedConn, error) {
	return Buffered(conn, DefaultReadBufferSize, DefaultWriteBufferSize), nil
}

type bufferedConn struct {
	net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

// Buffered wraps conn with read/write buffers of the given sizes. Sizes
// <= 0 fall back to the defaults.
func Buffered(conn net.Conn, readSize, writeSize int) BufferedConn {
	if readSize <= 0 {
		readSize = DefaultReadBufferSize
	}
	if writeSize <= 0 {
		writeSize = DefaultWriteBufferSize
	}
	return &bufferedConn{
		Conn: conn,
		br:   bufio.NewReaderSize(conn, readSize),
		bw:   bufio.NewWriterSize(conn, writeSize),
	}
}

func (c *bufferedConn) Read(b []byte) (int, error)  { return c.br.Read(b) }
func (c *bufferedConn) Write(b []byte) (int, error) { return c.bw.Write(b) }
func (c *bufferedConn) Flush() error                { return c.bw.Flush() }
