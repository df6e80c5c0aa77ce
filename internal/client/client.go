// Package client dials a Netezza Performance Server host and drives the
// connection through the handshake package, returning a *Conn whose
// transport is ready for query traffic. It is deliberately thin: everything past the
// ready-for-query marker is simple-query plumbing, just enough to confirm
// the wire is still framed correctly.
package client

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nzconn/nzgo/internal/handshake"
	"github.com/nzconn/nzgo/internal/wire"
)

// DefaultPort is the Netezza Performance Server's conventional listen port.
const DefaultPort = 5480

// Config describes one connection attempt.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Options  string

	SecurityLevel handshake.SecurityLevel
	TLS           *handshake.TLSConfig

	AppName string
	Debug   bool

	DialTimeout time.Duration
	ReadTimeout time.Duration
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Conn is an established, authenticated NPS session. It owns the
// transport returned by the handshake and attaches its own byte reader
// seeded with whatever the handshake read ahead, so no bytes are lost.
type Conn struct {
	transport net.Conn
	reader    *wire.ByteReader
	result    *handshake.Result
}

// Connect dials cfg.Host:cfg.Port and runs the handshake to completion.
// The returned Conn's underlying transport is the TLS-upgraded connection
// when negotiation selected TLS.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.addr(), err)
	}

	d := handshake.NewDriver(raw, cfg.TLS, handshake.Options{
		AppName:     cfg.AppName,
		Debug:       cfg.Debug,
		ReadTimeout: cfg.ReadTimeout,
	})

	result, err := d.Startup(cfg.Database, cfg.SecurityLevel, cfg.User, cfg.Password, cfg.Options)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("handshake with %s: %w", cfg.addr(), err)
	}

	return &Conn{
		transport: result.Transport,
		reader:    wire.NewByteReaderWithBuffer(result.Transport, result.RemainingBuffer),
		result:    result,
	}, nil
}

// Result returns the negotiated session metadata: protocol versions and
// backend process identity.
func (c *Conn) Result() *handshake.Result {
	return c.result
}

// Close closes the underlying transport.
func (c *Conn) Close() error {
	return c.transport.Close()
}

// Ping sends a trivial simple query and discards the response, confirming
// the session is still alive and the wire is still framed correctly. It
// exists so callers and health probes have one well-defined post-handshake
// operation without pulling in a full query/result-set decoder.
func (c *Conn) Ping(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.transport.SetDeadline(deadline)
		defer c.transport.SetDeadline(time.Time{})
	}

	if err := c.sendSimpleQuery("select 1"); err != nil {
		return err
	}
	return c.drainToReadyForQuery()
}

// sendSimpleQuery writes a 'Q' simple-query message: msgType, int32 length
// (self-inclusive, excluding the type byte), null-terminated query text.
func (c *Conn) sendSimpleQuery(sql string) error {
	body := wire.NullTerminated(sql)
	length := int32(len(body) + 4)

	header := make([]byte, 5)
	header[0] = 'Q'
	binary.BigEndian.PutUint32(header[1:], uint32(length))

	if _, err := c.transport.Write(header); err != nil {
		return fmt.Errorf("writing query header: %w", err)
	}
	if _, err := c.transport.Write(body); err != nil {
		return fmt.Errorf("writing query body: %w", err)
	}
	return nil
}

// drainToReadyForQuery reads and discards messages until 'Z', surfacing
// an error if the server reports one. It does not decode row data; a
// caller that needs results should replace this with a real query path.
func (c *Conn) drainToReadyForQuery() error {
	for {
		msgType, err := c.reader.ReadExact(1)
		if err != nil {
			return fmt.Errorf("reading message type: %w", err)
		}

		lenBuf, err := c.reader.ReadExact(4)
		if err != nil {
			return fmt.Errorf("reading message length: %w", err)
		}
		length := binary.BigEndian.Uint32(lenBuf)
		if length < 4 {
			return fmt.Errorf("invalid message length %d for type %q", length, msgType[0])
		}

		body, err := c.reader.ReadExact(int(length - 4))
		if err != nil {
			return fmt.Errorf("reading message body: %w", err)
		}

		switch msgType[0] {
		case 'Z':
			return nil
		case 'E':
			return fmt.Errorf("server error: %s", body)
		}
	}
}
