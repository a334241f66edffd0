package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Proxy is a TCP reverse proxy that sits in front of a search cluster,
// applies governance rules to requests, and shadows traffic into the
// capture pipeline.
type Proxy struct {
	// Addr is the address to listen on (e.g., ":9200")
	Addr string

	// BackendAddr is the host:port of the proxied cluster
	BackendAddr string

	// Governance is the compiled rule set applied to every request
	Governance *GovernanceConfig

	// MaxRequestBytes caps request buffering on the live path.
	// Zero selects DefaultMaxCaptureBytes.
	MaxRequestBytes int

	// Capture receives records and events for every connection (optional).
	// When set, CaptureBuilder must be set too.
	Capture CaptureTarget

	// CaptureBuilder turns reconstructed messages into capture records
	CaptureBuilder *RecordBuilder

	// MaxCaptureBytes caps captured body size per message.
	// Zero selects DefaultMaxCaptureBytes.
	MaxCaptureBytes int

	// DialTimeout bounds backend connection establishment
	DialTimeout time.Duration

	// IdleTimeout closes connections with no traffic in either direction
	IdleTimeout time.Duration

	// Logger for proxy events
	Logger *slog.Logger

	// Metrics collects Prometheus metrics (optional)
	Metrics *Metrics

	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewProxy creates a new gateway proxy.
func NewProxy(addr, backendAddr string, governance *GovernanceConfig) *Proxy {
	return &Proxy{
		Addr:        addr,
		BackendAddr: backendAddr,
		Governance:  governance,
		DialTimeout: 10 * time.Second,
		Logger:      slog.Default(),
		conns:       make(map[net.Conn]struct{}),
	}
}

// ListenAndServe starts the proxy and blocks until Shutdown or a fatal
// listener error.
func (p *Proxy) ListenAndServe() error {
	listener, err := net.Listen("tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = listener.Close()
		return errors.New("proxy is shut down")
	}
	p.listener = listener
	p.mu.Unlock()

	p.Logger.Info("gateway listening", "addr", p.Addr, "backend", p.BackendAddr)

	for {
		conn, err := listener.Accept()
		if err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		p.mu.Lock()
		p.conns[conn] = struct{}{}
		p.mu.Unlock()

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handleConn(conn)
			p.mu.Lock()
			delete(p.conns, conn)
			p.mu.Unlock()
		}()
	}
}

// Shutdown stops accepting connections, closes active ones, and waits for
// workers to finish or the context to expire.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	if p.listener != nil {
		_ = p.listener.Close()
	}
	for conn := range p.conns {
		_ = conn.Close()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connState is everything one connection's worker owns: the backend leg,
// the interceptor, and the capture pipeline. Nothing in it is shared.
type connState struct {
	client  net.Conn
	backend net.Conn

	interceptor *Interceptor

	// capture is shared by both relay directions, so captureMu serializes
	// access to it. nil after a delivery failure.
	captureMu sync.Mutex
	capture   *ConnectionCapture

	closeOnce sync.Once
	log       *slog.Logger
}

// captureRead shadows client bytes into the capture pipeline.
func (st *connState) captureRead(p *Proxy, ts time.Time, chunk []byte) {
	st.captureMu.Lock()
	defer st.captureMu.Unlock()
	if st.capture == nil {
		return
	}
	if err := st.capture.ReadEvent(ts, chunk); err != nil {
		p.captureFailed(st, err)
	}
}

// captureWrite shadows backend bytes into the capture pipeline.
func (st *connState) captureWrite(p *Proxy, ts time.Time, chunk []byte) {
	st.captureMu.Lock()
	defer st.captureMu.Unlock()
	if st.capture == nil {
		return
	}
	if err := st.capture.WriteEvent(ts, chunk); err != nil {
		p.captureFailed(st, err)
	}
}

// captureClose finalizes and commits the capture pipeline.
func (st *connState) captureClose(ctx context.Context, p *Proxy) {
	st.captureMu.Lock()
	defer st.captureMu.Unlock()
	if st.capture == nil {
		return
	}
	if err := st.capture.Close(ctx); err != nil {
		st.log.Warn("capture close failed", "error", err)
		if p.Metrics != nil {
			p.Metrics.RecordCaptureError()
		}
	}
	st.capture = nil
}

func (p *Proxy) handleConn(client net.Conn) {
	if p.Metrics != nil {
		p.Metrics.IncActiveConns()
		defer p.Metrics.DecActiveConns()
	}
	log := p.Logger.With("client", client.RemoteAddr().String())

	backend, err := net.DialTimeout("tcp", p.BackendAddr, p.DialTimeout)
	if err != nil {
		log.Error("backend dial failed", "backend", p.BackendAddr, "error", err)
		if p.Metrics != nil {
			p.Metrics.RecordBackendError()
		}
		_, _ = client.Write(badGatewayResponse())
		_ = client.Close()
		return
	}

	st := &connState{
		client:      client,
		backend:     backend,
		interceptor: NewInterceptor(p.Governance, p.maxRequestBytes(), log, p.Metrics),
		log:         log,
	}
	if p.Capture != nil {
		st.capture = NewConnectionCapture(p.Capture, p.CaptureBuilder, p.MaxCaptureBytes, log)
		st.capture.Metrics = p.Metrics
		if err := st.capture.LifecycleEvent(EventConnect, time.Now(), client.LocalAddr(), client.RemoteAddr()); err != nil {
			p.captureFailed(st, err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.relayClientToBackend(st)
	}()
	go func() {
		defer wg.Done()
		p.relayBackendToClient(st)
	}()
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st.captureClose(ctx, p)
}

// relayClientToBackend reads client bytes, runs governance, and forwards.
// The read-decide-write cycle is sequential, so at most one message per
// connection is buffered awaiting a decision.
func (p *Proxy) relayClientToBackend(st *connState) {
	defer st.close()
	buf := make([]byte, 32*1024)
	for {
		if p.IdleTimeout > 0 {
			_ = st.client.SetReadDeadline(time.Now().Add(p.IdleTimeout))
		}
		n, err := st.client.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if p.Metrics != nil {
				p.Metrics.RecordBytes("in", n)
			}
			st.captureRead(p, time.Now(), chunk)

			verdict := st.interceptor.OnBytes(chunk)
			for _, msg := range verdict.Forward {
				if _, werr := st.backend.Write(msg); werr != nil {
					st.log.Warn("backend write failed", "error", werr)
					return
				}
			}
			if verdict.Rejection != nil {
				p.writeRejection(st, verdict.Rejection)
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// relayBackendToClient streams backend bytes back, shadowing them into the
// capture pipeline.
func (p *Proxy) relayBackendToClient(st *connState) {
	defer st.close()
	buf := make([]byte, 32*1024)
	for {
		if p.IdleTimeout > 0 {
			_ = st.backend.SetReadDeadline(time.Now().Add(p.IdleTimeout))
		}
		n, err := st.backend.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if p.Metrics != nil {
				p.Metrics.RecordBytes("out", n)
			}
			st.captureWrite(p, time.Now(), chunk)
			if _, werr := st.client.Write(chunk); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// writeRejection delivers the rejection response and tears the connection
// down. The rejected request never reached the backend, so closing avoids
// desync on a kept-alive connection.
func (p *Proxy) writeRejection(st *connState, response []byte) {
	st.captureWrite(p, time.Now(), response)
	if _, err := st.client.Write(response); err != nil {
		st.log.Warn("rejection write failed", "error", err)
	}
}

// captureFailed degrades capture for the rest of the connection. The live
// path carries on untouched.
func (p *Proxy) captureFailed(st *connState, err error) {
	st.log.Warn("capture delivery failed, disabling for connection", "error", err)
	if p.Metrics != nil {
		p.Metrics.RecordCaptureError()
	}
	st.capture = nil
}

func (p *Proxy) maxRequestBytes() int {
	if p.MaxRequestBytes > 0 {
		return p.MaxRequestBytes
	}
	return DefaultMaxCaptureBytes
}

// close shuts both legs down; safe to call from either relay goroutine.
func (st *connState) close() {
	st.closeOnce.Do(func() {
		_ = st.client.Close()
		_ = st.backend.Close()
	})
}

func badGatewayResponse() []byte {
	body := `{"error":{"type":"gateway_error","reason":"backend unavailable"},"status":502}`
	return []byte(fmt.Sprintf(
		"HTTP/1.1 502 Bad Gateway\r\nContent-Type: application/json; charset=UTF-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		len(body), body))
}
