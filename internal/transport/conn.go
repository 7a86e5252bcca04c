// Package transport is the duplex channel between the voice client and the
// remote avatar service, carried over a websocket.
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
	"github.com/GriffinCanCode/avatar-voice/internal/trace"
)

// Frame is one inbound websocket message.
type Frame struct {
	Binary bool
	Data   []byte
}

// Dialer opens channels to the remote service.
type Dialer struct {
	HTTPClient   *http.Client
	ReadLimit    int64
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

// NewDialer returns a dialer with the given read limit; zero keeps the default.
func NewDialer(readLimit int64) *Dialer {
	return &Dialer{
		ReadLimit:    readLimit,
		WriteTimeout: DefaultWriteTimeout,
		DialTimeout:  DefaultDialTimeout,
	}
}

// Dial performs the websocket handshake. Trace headers from ctx are sent along.
func (d *Dialer) Dial(ctx context.Context, url string) (*Conn, error) {
	dialTimeout := d.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, resp, err := websocket.Dial(dctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: trace.Headers(ctx),
	})
	if err != nil {
		ae := apperrors.Wrapf(err, apperrors.ConnectFailure, "dial %s", url)
		if resp != nil {
			ae = ae.WithMetadata("http_status", strconv.Itoa(resp.StatusCode))
		}
		return nil, ae
	}

	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	ws.SetReadLimit(limit)

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Conn{ws: ws, url: url, writeTimeout: writeTimeout}, nil
}

// Conn is an established channel. Writes are serialized; one goroutine may Read
// concurrently with writers.
type Conn struct {
	ws           *websocket.Conn
	url          string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// SendText writes one text control frame.
func (c *Conn) SendText(ctx context.Context, s string) error {
	return c.write(ctx, websocket.MessageText, []byte(s))
}

// SendBinary writes one binary frame.
func (c *Conn) SendBinary(ctx context.Context, p []byte) error {
	return c.write(ctx, websocket.MessageBinary, p)
}

func (c *Conn) write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	wctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, typ, p); err != nil {
		return apperrors.Wrapf(err, apperrors.ChannelError, "write %s frame", typ)
	}
	return nil
}

// Read blocks for the next frame. Close frames surface as errors; use
// IsNormalClose to tell an orderly close from a failure.
func (c *Conn) Read(ctx context.Context) (Frame, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return Frame{}, apperrors.Wrap(err, apperrors.ChannelError, "read frame")
	}
	return Frame{Binary: typ == websocket.MessageBinary, Data: data}, nil
}

// Close performs the closing handshake once. Later calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		err := c.ws.Close(websocket.StatusNormalClosure, "")
		if err != nil && !IsNormalClose(err) && !errors.Is(err, net.ErrClosed) {
			c.closeErr = apperrors.Wrap(err, apperrors.ChannelError, "close")
		}
	})
	return c.closeErr
}

// URL returns the dialed endpoint.
func (c *Conn) URL() string { return c.url }

// IsNormalClose reports whether err carries an orderly websocket close.
func IsNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
