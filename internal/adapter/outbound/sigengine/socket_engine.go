// Package sigengine implements the SignatureEngine port over a local
// Unix-domain stream socket using newline-delimited JSON framing: one
// request line out, one response line back, reconnect on any failure.
package sigengine

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ladybird/contentsec/internal/port/outbound"
)

// maxResponseBytes bounds a single engine response read; the engine is
// expected to answer with short, single-line verdicts.
const maxResponseBytes = 4096

// wireRequest is the newline-terminated JSON request sent to the engine.
type wireRequest struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id"`
	Content   string `json:"content"`
}

// wireResponse is the newline-terminated JSON response read from the engine.
type wireResponse struct {
	Status string `json:"status"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// SocketEngine is a SignatureEngine backed by a Unix domain socket. A
// single connection is shared across calls -- the engine serialises
// requests internally -- so the mutex both orders in-flight requests and
// protects the connection handle from the worker pool's goroutines.
type SocketEngine struct {
	path string
	dial func(network, addr string) (net.Conn, error)

	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// New creates a SocketEngine for the given socket path. The connection is
// established lazily on first Scan call.
func New(socketPath string) *SocketEngine {
	return &SocketEngine{
		path:    socketPath,
		dial:    net.Dial,
		timeout: 10 * time.Second,
	}
}

// Compile-time interface check.
var _ outbound.SignatureEngine = (*SocketEngine)(nil)

func (e *SocketEngine) ensureConnectedLocked() error {
	if e.conn != nil {
		return nil
	}
	conn, err := e.dial("unix", e.path)
	if err != nil {
		return fmt.Errorf("dial signature engine socket: %w", err)
	}
	e.conn = conn
	e.reader = bufio.NewReaderSize(conn, maxResponseBytes)
	return nil
}

// Scan sends one JSON-lines request and reads one JSON-lines response. Any
// write, read, or parse failure is surfaced as an error; callers treat
// every error as fail-open. The connection is torn down on any error so
// the next call reconnects. A response that decodes is returned as-is,
// whatever its status; the caller interprets Status and Result.
func (e *SocketEngine) Scan(ctx context.Context, requestID string, content []byte) (outbound.EngineResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureConnectedLocked(); err != nil {
		return outbound.EngineResponse{}, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = e.conn.SetDeadline(deadline)
	} else {
		_ = e.conn.SetDeadline(time.Now().Add(e.timeout))
	}

	req := wireRequest{
		Action:    "scan_content",
		RequestID: requestID,
		Content:   base64.StdEncoding.EncodeToString(content),
	}
	line, err := json.Marshal(req)
	if err != nil {
		e.closeLocked()
		return outbound.EngineResponse{}, fmt.Errorf("marshal scan request: %w", err)
	}
	line = append(line, '\n')

	if _, err := e.conn.Write(line); err != nil {
		e.closeLocked()
		return outbound.EngineResponse{}, fmt.Errorf("write scan request: %w", err)
	}

	respLine, err := e.reader.ReadSlice('\n')
	if err != nil {
		e.closeLocked()
		return outbound.EngineResponse{}, fmt.Errorf("read scan response: %w", err)
	}
	if len(respLine) > maxResponseBytes {
		e.closeLocked()
		return outbound.EngineResponse{}, fmt.Errorf("scan response exceeds %d bytes", maxResponseBytes)
	}

	var resp wireResponse
	if err := json.Unmarshal(respLine, &resp); err != nil {
		e.closeLocked()
		return outbound.EngineResponse{}, fmt.Errorf("parse scan response: %w", err)
	}

	return outbound.EngineResponse{Status: resp.Status, Result: resp.Result, Error: resp.Error}, nil
}

// Reconnect tears down and re-establishes the connection immediately,
// instead of waiting for the next Scan call to discover it is stale.
func (e *SocketEngine) Reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
	return e.ensureConnectedLocked()
}

// Close releases the underlying connection.
func (e *SocketEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
	return nil
}

func (e *SocketEngine) closeLocked() {
	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
		e.reader = nil
	}
}
