package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/vetdesk/internal/config"
	"github.com/pitabwire/vetdesk/model"
)

type loggerKey struct{}

// NewLogger builds the JSON logger written to stdout. Every line carries the
// service name and build version.
//
// Levels:
//   - error: audit journal down, panics, 5xx answers
//   - warn:  case service errors, partial bulk deletes, truncated exports
//   - info:  requests, deletes, restores, exports, login and logout
//   - debug: superseded fetches, debounced searches, redacted case service payloads
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("observability: log_level: %w", err)
	}
	return newLogger(level, zapcore.Lock(os.Stdout)), nil
}

func newLogger(level zapcore.Level, out zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), out, level)
	return zap.New(core, zap.AddCaller(), zap.ErrorOutput(zapcore.Lock(os.Stderr))).With(
		zap.String("service", ServiceName),
		zap.String("version", Version),
	)
}

// WithLogger stores a request scoped logger in ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// RequestLogger returns the logger stored in ctx, or fallback, tagged with
// the panel session and correlation of the request when ctx carries one.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := fallback
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		logger = l
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}
	fields := []zap.Field{
		SessionField(rctx.SessionID),
		zap.String("correlation_id", rctx.CorrelationID),
	}
	if rctx.Subject != "" {
		fields = append(fields, zap.String("subject", rctx.Subject))
	}
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}

// SessionField names the panel session a line belongs to.
func SessionField(id string) zap.Field { return zap.String("session_id", id) }

// CaseField names the case a line is about.
func CaseField(id int64) zap.Field { return zap.Int64("case_id", id) }

// GenerationField is the case list fetch generation.
func GenerationField(gen uint64) zap.Field { return zap.Uint64("fetch_generation", gen) }

// PageField is the case list page a fetch asked for.
func PageField(page int) zap.Field { return zap.Int("page", page) }

const redacted = "[REDACTED]"

// sensitiveKeys are payload keys whose values never reach a log line.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"new_password":  true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"authorization": true,
	"secret":        true,
}

// RedactPayload renders a case service request body for debug logging with
// credentials masked. JSON bodies are masked by object key at any depth, form
// bodies by field name. Multipart uploads are logged by size only.
func RedactPayload(contentType string, body []byte) zap.Field {
	const key = "payload"
	if len(body) == 0 {
		return zap.Skip()
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/json":
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return zap.String(key, fmt.Sprintf("<invalid json, %d bytes>", len(body)))
		}
		return zap.Any(key, redactJSON(v))
	case mediaType == "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return zap.String(key, fmt.Sprintf("<invalid form, %d bytes>", len(body)))
		}
		for k := range form {
			if sensitiveKeys[strings.ToLower(k)] {
				form[k] = []string{redacted}
			}
		}
		return zap.String(key, form.Encode())
	case strings.HasPrefix(mediaType, "multipart/"):
		return zap.String(key, fmt.Sprintf("<multipart, %d bytes>", len(body)))
	}
	return zap.String(key, fmt.Sprintf("<%s, %d bytes>", mediaType, len(body)))
}

func redactJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if sensitiveKeys[strings.ToLower(k)] {
				out[k] = redacted
				continue
			}
			out[k] = redactJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactJSON(val)
		}
		return out
	}
	return v
}
