package speech

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Bridge implements Transport by forwarding requests to a device (phone or
// browser) connected over WebSocket. One device is attached at a time; a new
// connection replaces the old one.
type Bridge struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	attached chan struct{} // closed when a device attaches
	pending  map[string]chan Response
	closed   bool

	writeMu sync.Mutex
}

// NewBridge creates a bridge; mount it as an http.Handler on the device endpoint
func NewBridge(logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:   logger,
		attached: make(chan struct{}),
		pending:  make(map[string]chan Response),
	}
}

// ServeHTTP upgrades the device connection and reads its responses until it disconnects
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("speech device upgrade failed", "error", err)
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		conn.Close()
		return
	}
	previous := b.conn
	b.conn = conn
	close(b.attached)
	b.attached = make(chan struct{})
	b.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	b.logger.Info("speech device connected", "remote", r.RemoteAddr)

	b.readLoop(conn)
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		var resp Response
		if err := conn.ReadJSON(&resp); err != nil {
			b.logger.Info("speech device disconnected", "error", err)
			break
		}
		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		if ok {
			delete(b.pending, resp.ID)
		}
		b.mu.Unlock()
		if ok {
			ch <- resp
		} else {
			b.logger.Warn("response for unknown request", "id", resp.ID)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != conn {
		return
	}
	b.conn = nil
	conn.Close()
	for id, ch := range b.pending {
		ch <- Response{ID: id, Error: &DeviceError{Code: "disconnected", Message: "device disconnected"}}
		delete(b.pending, id)
	}
}

// WaitForDevice blocks until a device is attached or ctx is done
func (b *Bridge) WaitForDevice(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrClosed
		}
		if b.conn != nil {
			b.mu.Unlock()
			return nil
		}
		attached := b.attached
		b.mu.Unlock()

		select {
		case <-attached:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Recognize asks the device to listen once
func (b *Bridge) Recognize(ctx context.Context, lang string) (string, error) {
	resp, err := b.call(ctx, Request{Method: MethodRecognize, Lang: lang})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Speak asks the device to play text and waits for playback to end
func (b *Bridge) Speak(ctx context.Context, text, lang string) error {
	_, err := b.call(ctx, Request{Method: MethodSpeak, Text: text, Lang: lang})
	return err
}

// Close detaches the device and fails pending requests
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.attached)

	if b.conn != nil {
		b.writeMu.Lock()
		b.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		b.writeMu.Unlock()
		b.conn.Close()
		b.conn = nil
	}
	for id, ch := range b.pending {
		ch <- Response{ID: id, Error: &DeviceError{Code: "closed", Message: "bridge closed"}}
		delete(b.pending, id)
	}
	b.logger.Info("speech bridge closed")
	return nil
}

func (b *Bridge) call(ctx context.Context, req Request) (Response, error) {
	req.ID = uuid.NewString()
	ch := make(chan Response, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Response{}, ErrClosed
	}
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return Response{}, ErrNotConnected
	}
	b.pending[req.ID] = ch
	b.mu.Unlock()

	if err := b.write(conn, req); err != nil {
		b.forget(req.ID)
		return Response{}, fmt.Errorf("failed to write %s request: %w", req.Method, err)
	}

	select {
	case resp := <-ch:
		return resp, resp.err()
	case <-ctx.Done():
		b.forget(req.ID)
		if err := b.write(conn, Request{ID: req.ID, Method: MethodCancel}); err != nil {
			b.logger.Debug("failed to send cancel", "id", req.ID, "error", err)
		}
		return Response{}, ctx.Err()
	}
}

func (b *Bridge) write(conn *websocket.Conn, req Request) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return conn.WriteJSON(req)
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (r Response) err() error {
	if r.Error == nil {
		return nil
	}
	switch r.Error.Code {
	case CodeNoSpeech:
		return fmt.Errorf("%w: %s", ErrNoSpeech, r.Error.Message)
	case CodePermissionDenied:
		return fmt.Errorf("%w: %s", ErrPermissionDenied, r.Error.Message)
	case CodeAborted:
		return fmt.Errorf("%w: %s", context.Canceled, r.Error.Message)
	case "disconnected":
		return ErrNotConnected
	case "closed":
		return ErrClosed
	default:
		return fmt.Errorf("speech device error %s: %s", r.Error.Code, r.Error.Message)
	}
}
