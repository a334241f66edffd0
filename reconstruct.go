package gateway

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// TruncationMarker is appended to a capture body that was cut short at the
// configured size cap.
const TruncationMarker = "...<TRUNCATED>"

// MessageKind selects the start-line grammar of a [Reconstructor].
type MessageKind int

const (
	// KindRequest reconstructs client-to-backend messages.
	KindRequest MessageKind = iota
	// KindResponse reconstructs backend-to-client messages.
	KindResponse
)

type reconstructState int

const (
	stateStartLine reconstructState = iota
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateTrailers
	stateBodyUntilClose
	stateFailed
)

// Reconstructor is an incremental HTTP/1.x message assembler. Bytes are fed
// in arbitrary slices as they arrive from the transport; a complete
// [Message] is emitted once the declared or chunked body has been fully
// received. The state machine is symmetric for requests and responses,
// differing only in the start-line grammar.
//
// A Reconstructor never blocks and performs no I/O. It is not safe for
// concurrent use; each connection direction owns its own instance.
type Reconstructor struct {
	kind  MessageKind
	limit int // max emitted body size; 0 = unbounded

	state     reconstructState
	buf       []byte
	raw       []byte // wire bytes since the last emitted message
	cur       *Message
	body      []byte
	truncated bool
	remaining int64
	err       error
}

// NewRequestReconstructor returns a reconstructor for request messages.
// limit bounds the emitted body size; bodies exceeding it are truncated and
// terminated with [TruncationMarker]. A limit of 0 means unbounded.
func NewRequestReconstructor(limit int) *Reconstructor {
	return newReconstructor(KindRequest, limit)
}

// NewResponseReconstructor returns a reconstructor for response messages.
func NewResponseReconstructor(limit int) *Reconstructor {
	return newReconstructor(KindResponse, limit)
}

func newReconstructor(kind MessageKind, limit int) *Reconstructor {
	if limit > 0 && limit < len(TruncationMarker) {
		limit = len(TruncationMarker)
	}
	return &Reconstructor{kind: kind, limit: limit}
}

// Err returns the parse error that moved the reconstructor into its terminal
// failed state, or nil. After a failure Feed consumes bytes without emitting.
func (r *Reconstructor) Err() error { return r.err }

// Unparsed returns the wire bytes accumulated since the last emitted
// message. On a parse failure these are the bytes that never made it into a
// message and must not be lost by a fail-open caller.
func (r *Reconstructor) Unparsed() []byte { return r.raw }

// Pending reports whether a partially received message is buffered.
func (r *Reconstructor) Pending() bool {
	return r.state != stateStartLine || len(r.buf) > 0
}

// Feed appends raw transport bytes and returns the messages completed by
// them, possibly none. Feed never blocks; it is purely a buffering
// transform.
func (r *Reconstructor) Feed(p []byte) []*Message {
	if r.state == stateFailed {
		return nil
	}
	r.buf = append(r.buf, p...)
	r.raw = append(r.raw, p...)

	var out []*Message
	for {
		switch r.state {
		case stateStartLine:
			line, ok := r.takeLine()
			if !ok {
				return out
			}
			if len(line) == 0 {
				// tolerate stray CRLF between messages
				continue
			}
			if err := r.parseStartLine(line); err != nil {
				r.fail(err)
				return out
			}
			r.state = stateHeaders

		case stateHeaders:
			line, ok := r.takeLine()
			if !ok {
				return out
			}
			if len(line) == 0 {
				if msg := r.beginBody(); msg != nil {
					out = append(out, msg)
				}
				continue
			}
			name, value, err := parseHeaderLine(line)
			if err != nil {
				r.fail(err)
				return out
			}
			r.cur.Headers = append(r.cur.Headers, Header{name, value})

		case stateBody:
			n := int64(len(r.buf))
			if n > r.remaining {
				n = r.remaining
			}
			r.appendBody(r.buf[:n])
			r.buf = r.buf[n:]
			r.remaining -= n
			if r.remaining > 0 {
				return out
			}
			out = append(out, r.finish())

		case stateChunkSize:
			line, ok := r.takeLine()
			if !ok {
				return out
			}
			size, err := parseChunkSize(line)
			if err != nil {
				r.fail(err)
				return out
			}
			if size == 0 {
				r.state = stateTrailers
				continue
			}
			r.remaining = size
			r.state = stateChunkData

		case stateChunkData:
			n := int64(len(r.buf))
			if n > r.remaining {
				n = r.remaining
			}
			r.appendBody(r.buf[:n])
			r.buf = r.buf[n:]
			r.remaining -= n
			if r.remaining > 0 {
				return out
			}
			r.state = stateChunkDataEnd

		case stateChunkDataEnd:
			if _, ok := r.takeLine(); !ok {
				return out
			}
			r.state = stateChunkSize

		case stateTrailers:
			line, ok := r.takeLine()
			if !ok {
				return out
			}
			if len(line) == 0 {
				out = append(out, r.finish())
			}

		case stateBodyUntilClose:
			r.appendBody(r.buf)
			r.buf = nil
			return out

		case stateFailed:
			return out
		}
	}
}

// Close finalizes a response whose body is delimited by connection close and
// returns it, or nil when nothing is pending.
func (r *Reconstructor) Close() *Message {
	if r.state != stateBodyUntilClose {
		return nil
	}
	return r.finish()
}

// fail moves to the terminal state. raw is kept so a fail-open caller can
// recover the bytes that never became a message.
func (r *Reconstructor) fail(err error) {
	r.err = err
	r.state = stateFailed
	r.buf = nil
	r.cur = nil
	r.body = nil
}

// takeLine extracts one line from the buffer, stripping the terminator.
// Bare LF is tolerated alongside CRLF.
func (r *Reconstructor) takeLine() ([]byte, bool) {
	i := bytes.IndexByte(r.buf, '\n')
	if i < 0 {
		return nil, false
	}
	line := r.buf[:i]
	r.buf = r.buf[i+1:]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line, true
}

func (r *Reconstructor) parseStartLine(line []byte) error {
	parts := strings.SplitN(string(line), " ", 3)
	if r.kind == KindRequest {
		if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
			return fmt.Errorf("malformed request line %q", line)
		}
		m := &Message{Method: parts[0], RequestURI: parts[1], Proto: parts[2]}
		if u, err := url.ParseRequestURI(parts[1]); err == nil {
			m.Path = u.Path
			m.Query = u.Query()
		} else {
			m.Path = parts[1]
		}
		r.cur = m
		return nil
	}

	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return fmt.Errorf("malformed status line %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("malformed status code %q", parts[1])
	}
	m := &Message{Proto: parts[0], StatusCode: code}
	if len(parts) == 3 {
		m.Reason = parts[2]
	}
	r.cur = m
	return nil
}

func parseHeaderLine(line []byte) (string, string, error) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return "", "", fmt.Errorf("malformed header line %q", line)
	}
	name := strings.TrimSpace(string(line[:i]))
	value := strings.TrimSpace(string(line[i+1:]))
	if name == "" {
		return "", "", fmt.Errorf("empty header name in %q", line)
	}
	return name, value, nil
}

func parseChunkSize(line []byte) (int64, error) {
	s := string(line)
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	size, err := strconv.ParseInt(s, 16, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("malformed chunk size %q", line)
	}
	return size, nil
}

// beginBody decides the body framing after the header block. It returns the
// finished message directly when there is no body to read.
func (r *Reconstructor) beginBody() *Message {
	if r.isChunked() {
		r.state = stateChunkSize
		return nil
	}

	length, hasLength := r.contentLength()
	if hasLength {
		if length == 0 {
			return r.finish()
		}
		r.remaining = length
		r.state = stateBody
		return nil
	}

	if r.kind == KindRequest {
		// a request without Content-Length or chunked framing has no body
		return r.finish()
	}
	if c := r.cur.StatusCode; c < 200 || c == 204 || c == 304 {
		return r.finish()
	}
	r.state = stateBodyUntilClose
	return nil
}

func (r *Reconstructor) isChunked() bool {
	for _, v := range r.cur.HeaderValues("Transfer-Encoding") {
		if strings.Contains(strings.ToLower(v), "chunked") {
			return true
		}
	}
	return false
}

// contentLength parses the Content-Length header. A malformed or negative
// value is tolerated as "no body": capture correctness is best-effort and
// the live path fails open.
func (r *Reconstructor) contentLength() (int64, bool) {
	v := r.cur.HeaderValue("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return 0, true
	}
	return n, true
}

// appendBody accumulates body bytes, honoring the size cap. Bytes beyond
// the cap are consumed but dropped; the marker is appended at finish.
func (r *Reconstructor) appendBody(p []byte) {
	if r.limit <= 0 {
		r.body = append(r.body, p...)
		return
	}
	if len(r.body)+len(p) <= r.limit {
		r.body = append(r.body, p...)
		return
	}
	keep := r.limit - len(TruncationMarker)
	if len(r.body) > keep {
		r.body = r.body[:keep]
	} else if room := keep - len(r.body); room > 0 {
		r.body = append(r.body, p[:room]...)
	}
	r.truncated = true
}

func (r *Reconstructor) finish() *Message {
	msg := r.cur
	msg.Body = r.body
	if r.truncated {
		msg.Body = append(msg.Body, TruncationMarker...)
		msg.Truncated = true
	}

	r.cur = nil
	r.body = nil
	r.truncated = false
	r.remaining = 0
	r.raw = append(r.raw[:0:0], r.buf...)
	r.state = stateStartLine
	return msg
}
