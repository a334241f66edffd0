package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxCaptureBytes caps how much of a message body the capture
// pipeline buffers before truncating. 200 MiB.
const DefaultMaxCaptureBytes = 200 << 20

// RecordKind distinguishes the two capture record directions.
type RecordKind string

const (
	RecordRequest  RecordKind = "REQUEST"
	RecordResponse RecordKind = "RESPONSE"
)

// CaptureRecord is the structured view of one completed HTTP message,
// handed to capture targets and then discarded. Requests carry method, path
// and query parameters; responses carry status and reason. The requestId of
// a response matches the request that preceded it on the same connection.
type CaptureRecord struct {
	Kind        RecordKind `json:"kind"`
	RequestID   string     `json:"requestId"`
	UserID      string     `json:"userId,omitempty"`
	UserToken   string     `json:"userToken,omitempty"`
	TimestampMs int64      `json:"timestamp"`
	Method      string     `json:"method,omitempty"`
	Path        string     `json:"path,omitempty"`
	QueryParams url.Values `json:"queryParams,omitempty"`
	Headers     []Header   `json:"headers"`
	StatusCode  int        `json:"responseCode,omitempty"`
	Reason      string     `json:"responseReason,omitempty"`
	Body        string     `json:"body,omitempty"`
	Truncated   bool       `json:"truncated,omitempty"`
}

// EventKind enumerates connection-lifecycle and raw-byte capture events.
type EventKind string

const (
	EventBind       EventKind = "bind"
	EventConnect    EventKind = "connect"
	EventDisconnect EventKind = "disconnect"
	EventClose      EventKind = "close"
	EventFlush      EventKind = "flush"
	EventRead       EventKind = "read"
	EventWrite      EventKind = "write"
)

// ConnectionEvent mirrors one connection-level happening. Read and write
// events carry the raw bytes before any reconstruction or redaction.
type ConnectionEvent struct {
	Kind      EventKind
	Timestamp time.Time
	Data      []byte
	Local     net.Addr
	Remote    net.Addr
}

// CaptureTarget is a sink for capture output. Targets are constructed once
// per process, own their lifetime independently, and must tolerate
// concurrent calls from many connections.
//
// Delivery is best-effort: an error marks the connection's capture as
// degraded but never affects live traffic.
type CaptureTarget interface {
	// Record accepts one structured capture record.
	Record(rec *CaptureRecord) error

	// Event accepts a connection-lifecycle or raw-byte event.
	Event(ev ConnectionEvent) error

	// Commit flushes and resets the target's current logical batch. final
	// is true on the last commit before the connection goes away.
	Commit(ctx context.Context, final bool) error
}

// RecordBuilder turns reconstructed messages into capture records. Safe for
// concurrent use.
type RecordBuilder struct {
	keepResponseBody bool
	extractor        *IdentityExtractor
}

// NewRecordBuilder builds a RecordBuilder. When keepResponseBody is false,
// response records omit the body but still carry status and headers.
func NewRecordBuilder(keepResponseBody bool, extractor *IdentityExtractor) *RecordBuilder {
	return &RecordBuilder{keepResponseBody: keepResponseBody, extractor: extractor}
}

// Request builds the record for a completed request message.
func (b *RecordBuilder) Request(requestID string, ts time.Time, msg *Message) *CaptureRecord {
	return &CaptureRecord{
		Kind:        RecordRequest,
		RequestID:   requestID,
		UserID:      b.extractor.UserID(msg),
		UserToken:   b.extractor.UserToken(msg),
		TimestampMs: ts.UnixMilli(),
		Method:      msg.Method,
		Path:        msg.Path,
		QueryParams: msg.Query,
		Headers:     redactHeaders(msg.Headers),
		Body:        string(msg.Body),
		Truncated:   msg.Truncated,
	}
}

// Response builds the record for a completed response message.
func (b *RecordBuilder) Response(requestID string, ts time.Time, msg *Message) *CaptureRecord {
	rec := &CaptureRecord{
		Kind:        RecordResponse,
		RequestID:   requestID,
		UserToken:   b.extractor.UserToken(msg),
		TimestampMs: ts.UnixMilli(),
		Headers:     redactHeaders(msg.Headers),
		StatusCode:  msg.StatusCode,
		Reason:      msg.Reason,
	}
	if b.keepResponseBody {
		rec.Body = string(msg.Body)
		rec.Truncated = msg.Truncated
	}
	return rec
}

// redactHeaders drops credential-bearing headers from the captured list.
func redactHeaders(headers []Header) []Header {
	out := make([]Header, 0, len(headers))
	for _, h := range headers {
		switch {
		case strings.EqualFold(h.Name, "Authorization"),
			strings.EqualFold(h.Name, "Cookie"),
			strings.EqualFold(h.Name, "Set-Cookie"):
		default:
			out = append(out, h)
		}
	}
	return out
}

// ConnectionCapture is the shadow-path pipeline for one connection: two
// reconstructors, one per direction, feeding the record builder and a
// capture target. It is owned by the connection's worker and not safe for
// concurrent use.
type ConnectionCapture struct {
	// Metrics collects capture counters (optional).
	Metrics *Metrics

	target  CaptureTarget
	builder *RecordBuilder
	log     *slog.Logger

	reqRec  *Reconstructor
	respRec *Reconstructor

	// First-byte timestamps for the in-flight message in each direction.
	// Zero means no bytes seen since the last completed message.
	reqTS  time.Time
	respTS time.Time

	// requestID pairs a response with the request that preceded it.
	requestID string

	reqFailed  bool
	respFailed bool
}

// NewConnectionCapture builds the pipeline. maxContentBytes bounds body
// buffering per direction; zero or negative selects DefaultMaxCaptureBytes.
func NewConnectionCapture(target CaptureTarget, builder *RecordBuilder, maxContentBytes int, log *slog.Logger) *ConnectionCapture {
	if maxContentBytes <= 0 {
		maxContentBytes = DefaultMaxCaptureBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &ConnectionCapture{
		target:  target,
		builder: builder,
		log:     log,
		reqRec:  NewRequestReconstructor(maxContentBytes),
		respRec: NewResponseReconstructor(maxContentBytes),
	}
}

// ReadEvent captures client→backend bytes. The raw bytes reach the target
// first; completed requests follow as structured records.
func (c *ConnectionCapture) ReadEvent(ts time.Time, p []byte) error {
	if c.reqTS.IsZero() {
		c.reqTS = ts
	}
	if err := c.target.Event(ConnectionEvent{Kind: EventRead, Timestamp: ts, Data: p}); err != nil {
		return err
	}
	if c.reqFailed {
		return nil
	}

	msgs := c.reqRec.Feed(p)
	if err := c.reqRec.Err(); err != nil && !c.reqFailed {
		c.reqFailed = true
		c.log.Warn("request capture stream not parsable", "error", err)
	}
	for _, msg := range msgs {
		c.requestID = uuid.NewString()
		rec := c.builder.Request(c.requestID, c.reqTS, msg)
		// A later message completed by this chunk saw its first byte in
		// this chunk too.
		c.reqTS = ts
		if err := c.emit(rec); err != nil {
			return err
		}
	}
	if len(msgs) > 0 && !c.reqRec.Pending() {
		c.reqTS = time.Time{}
	}
	return nil
}

// emit hands one record to the target and counts it.
func (c *ConnectionCapture) emit(rec *CaptureRecord) error {
	if err := c.target.Record(rec); err != nil {
		return err
	}
	if c.Metrics != nil {
		c.Metrics.RecordCaptureRecord(rec.Kind)
		if rec.Truncated {
			c.Metrics.RecordCaptureTruncation()
		}
	}
	return nil
}

// WriteEvent captures backend→client bytes.
func (c *ConnectionCapture) WriteEvent(ts time.Time, p []byte) error {
	if c.respTS.IsZero() {
		c.respTS = ts
	}
	if err := c.target.Event(ConnectionEvent{Kind: EventWrite, Timestamp: ts, Data: p}); err != nil {
		return err
	}
	if c.respFailed {
		return nil
	}

	msgs := c.respRec.Feed(p)
	if err := c.respRec.Err(); err != nil && !c.respFailed {
		c.respFailed = true
		c.log.Warn("response capture stream not parsable", "error", err)
	}
	for _, msg := range msgs {
		if c.requestID == "" {
			// A response with no recorded request. The id doubles as a
			// document id downstream, so mint one rather than emit empty.
			c.requestID = uuid.NewString()
		}
		rec := c.builder.Response(c.requestID, c.respTS, msg)
		c.respTS = ts
		if err := c.emit(rec); err != nil {
			return err
		}
	}
	if len(msgs) > 0 && !c.respRec.Pending() {
		c.respTS = time.Time{}
	}
	return nil
}

// LifecycleEvent forwards a non-byte connection event to the target.
func (c *ConnectionCapture) LifecycleEvent(kind EventKind, ts time.Time, local, remote net.Addr) error {
	return c.target.Event(ConnectionEvent{Kind: kind, Timestamp: ts, Local: local, Remote: remote})
}

// Close finalizes body-until-close responses and commits the target. Called
// once when the connection goes away.
func (c *ConnectionCapture) Close(ctx context.Context) error {
	if !c.respFailed {
		if msg := c.respRec.Close(); msg != nil {
			if c.requestID == "" {
				c.requestID = uuid.NewString()
			}
			if c.respTS.IsZero() {
				c.respTS = time.Now()
			}
			rec := c.builder.Response(c.requestID, c.respTS, msg)
			c.respTS = time.Time{}
			if err := c.emit(rec); err != nil {
				return err
			}
		}
	}
	if err := c.target.Event(ConnectionEvent{Kind: EventClose, Timestamp: time.Now()}); err != nil {
		return err
	}
	return c.target.Commit(ctx, true)
}
