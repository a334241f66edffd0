package gateway

import (
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// bypassField is the top-level request-body field carrying the bypass
// secret. It is stripped from every forwarded body whether or not its value
// matches.
const bypassField = "bypassKey"

// ConfiguredRule pairs a rule with the name it was configured under, for
// logging and metrics.
type ConfiguredRule struct {
	Name string
	Rule Rule
}

// GovernanceConfig is the compiled rule set shared read-only by every
// connection.
type GovernanceConfig struct {
	// Rules are evaluated in order; the first rejection wins.
	Rules []ConfiguredRule

	// BypassKey is the secret that skips rule evaluation when a request
	// body carries it. Empty disables the bypass entirely.
	BypassKey string

	// DisableAll short-circuits evaluation for every request.
	DisableAll bool
}

// Verdict is the interceptor's instruction to the connection loop for one
// batch of client bytes.
type Verdict struct {
	// Forward holds the wire bytes to relay to the backend, one entry per
	// completed message, in arrival order.
	Forward [][]byte

	// Rejection, when non-nil, is a complete HTTP response to write to the
	// client. The connection must be closed after writing it: the request
	// was never forwarded, and closing avoids desync from a half-consumed
	// exchange on a kept-alive connection.
	Rejection []byte
}

// Interceptor runs the governance rule set against the client→backend byte
// stream of one connection. It owns a request reconstructor and is not safe
// for concurrent use; every connection gets its own.
type Interceptor struct {
	cfg     *GovernanceConfig
	rec     *Reconstructor
	log     *slog.Logger
	metrics *Metrics // optional

	rejected bool
}

// NewInterceptor builds the per-connection interceptor. maxRequestBytes
// bounds request buffering; metrics may be nil.
func NewInterceptor(cfg *GovernanceConfig, maxRequestBytes int, log *slog.Logger, metrics *Metrics) *Interceptor {
	if log == nil {
		log = slog.Default()
	}
	return &Interceptor{
		cfg:     cfg,
		rec:     NewRequestReconstructor(maxRequestBytes),
		log:     log,
		metrics: metrics,
	}
}

// OnBytes feeds client bytes and returns what to do with them. After a
// rejection verdict the interceptor is spent and further input is dropped.
func (ic *Interceptor) OnBytes(p []byte) Verdict {
	if ic.rejected {
		return Verdict{}
	}
	if ic.rec.Err() != nil {
		// The stream stopped parsing as HTTP earlier. Governance cannot
		// classify it, so it passes through untouched.
		return Verdict{Forward: [][]byte{p}}
	}

	msgs := ic.rec.Feed(p)

	var v Verdict
	for _, msg := range msgs {
		forward, rejection := ic.decide(msg)
		if rejection != nil {
			ic.rejected = true
			v.Rejection = rejection
			return v
		}
		v.Forward = append(v.Forward, forward)
	}

	if err := ic.rec.Err(); err != nil {
		// The stream stopped parsing as HTTP. Forward everything buffered
		// since the last complete message, including bytes from earlier
		// reads, so nothing is lost.
		ic.log.Warn("request stream not parsable, passing through", "error", err)
		if raw := ic.rec.Unparsed(); len(raw) > 0 {
			v.Forward = append(v.Forward, raw)
		}
	}
	return v
}

// decide strips the bypass field, evaluates rules, and returns either the
// wire bytes to forward or a rejection response.
func (ic *Interceptor) decide(msg *Message) (forward, rejection []byte) {
	msg, bypassValue, bypassPresent := stripBypassKey(msg)

	switch {
	case ic.cfg.DisableAll:
	case bypassPresent && ic.cfg.BypassKey != "" && bypassValue == ic.cfg.BypassKey:
		ic.log.Debug("bypass key matched, skipping rules",
			"method", msg.Method, "path", msg.Path)
		if ic.metrics != nil {
			ic.metrics.RecordBypass()
		}
	case msg.Truncated:
		// The body was cut at the buffering cap, so no rule can see the
		// full request. Fail open.
		ic.log.Warn("request body truncated at buffer cap, skipping rules",
			"method", msg.Method, "path", msg.Path)
	default:
		for _, cr := range ic.cfg.Rules {
			outcome := cr.Rule.Evaluate(msg)
			if !outcome.Rejected {
				continue
			}
			ic.log.Info("request rejected",
				"rule", cr.Name,
				"status", outcome.StatusCode,
				"reason", outcome.Message,
				"method", msg.Method,
				"path", msg.Path)
			if ic.metrics != nil {
				ic.metrics.RecordRejection(cr.Name)
			}
			return nil, rejectionResponse(outcome)
		}
	}

	if ic.metrics != nil {
		ic.metrics.RecordForwarded()
	}
	// Chunked framing was consumed during reconstruction, so every message
	// is re-serialized with an explicit Content-Length.
	return msg.WithBody(msg.Body).Bytes(), nil
}

// stripBypassKey removes the bypass field from a JSON object body. The
// value is only reported when it is a scalar; the field is removed whenever
// it is present, whatever its shape.
func stripBypassKey(msg *Message) (*Message, string, bool) {
	if len(msg.Body) == 0 || !gjson.ValidBytes(msg.Body) {
		return msg, "", false
	}
	root := gjson.ParseBytes(msg.Body)
	if !root.IsObject() {
		return msg, "", false
	}
	field := objMember(root, bypassField)
	if !field.Exists() {
		return msg, "", false
	}

	stripped, err := sjson.DeleteBytes(msg.Body, bypassField)
	if err != nil {
		return msg, "", false
	}
	value := ""
	present := false
	if !field.IsObject() && !field.IsArray() {
		value = scalarText(field)
		present = true
	}
	return msg.WithBody(stripped), value, present
}
