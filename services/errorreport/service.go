package errorreport

import (
	"context"
	"encoding/json"
	"time"

	"appraisal-fulfillment/pkg/config"
	"appraisal-fulfillment/pkg/gen"
	"appraisal-fulfillment/services/ledger"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("errorreport.service", fx.Provide(NewService))

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityError    Severity = "ERROR"
	SeverityWarning  Severity = "WARNING"
)

const defaultResolution = "OPEN"

// Entry is one error-log row.
type Entry struct {
	Timestamp        time.Time
	Severity         Severity
	ScriptName       string
	ErrorCode        string
	Message          string
	StackTrace       string
	UserID           string
	RequestID        string
	Endpoint         string
	Context          map[string]interface{}
	ResolutionStatus string
	AssignedTo       string
	ReferenceLink    string
	ResolutionLink   string
}

// RowAppender is the error-log sink.
type RowAppender interface {
	AppendErrorRow(ctx context.Context, row []interface{}) error
}

// Reporter writes error-log rows and falls back to the process log when the
// sink is unavailable. It never returns an error and never panics.
type Reporter struct {
	sink    RowAppender
	ids     gen.IDGenerator
	env     string
	timeout time.Duration
}

type Params struct {
	fx.In
	Config *config.Config
	Store  *ledger.Store
	IDs    gen.IDGenerator
}

func NewService(p Params) *Reporter {
	return NewReporter(p.Store, p.IDs, p.Config.AppEnv)
}

func NewReporter(sink RowAppender, ids gen.IDGenerator, env string) *Reporter {
	return &Reporter{sink: sink, ids: ids, env: env, timeout: 15 * time.Second}
}

func (r *Reporter) Report(ctx context.Context, e Entry) {
	r.fill(&e)

	defer func() {
		if rec := recover(); rec != nil {
			zap.L().Error("error reporter panicked", zap.Any("panic", rec))
			r.local(e, nil)
		}
	}()

	if r.sink == nil {
		r.local(e, nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.sink.AppendErrorRow(ctx, e.row(r.env)); err != nil {
		r.local(e, err)
	}
}

func (r *Reporter) fill(e *Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityError
	}
	if e.ResolutionStatus == "" {
		e.ResolutionStatus = defaultResolution
	}
	if e.RequestID == "" && r.ids != nil {
		e.RequestID = r.ids.NewID()
	}
}

func (e Entry) contextJSON() string {
	if len(e.Context) == 0 {
		return ""
	}
	raw, err := json.Marshal(e.Context)
	if err != nil {
		return err.Error()
	}
	return string(raw)
}

func (e Entry) row(env string) []interface{} {
	return []interface{}{
		e.Timestamp.Format(ledger.DateLayout),
		string(e.Severity),
		e.ScriptName,
		e.ErrorCode,
		e.Message,
		e.StackTrace,
		e.UserID,
		e.RequestID,
		env,
		e.Endpoint,
		e.contextJSON(),
		e.ResolutionStatus,
		e.AssignedTo,
		e.ReferenceLink,
		e.ResolutionLink,
	}
}

// local writes the entry to the process log with the same fields as the row.
func (r *Reporter) local(e Entry, sinkErr error) {
	fields := []zap.Field{
		zap.Time("timestamp", e.Timestamp),
		zap.String("severity", string(e.Severity)),
		zap.String("script", e.ScriptName),
		zap.String("error_code", e.ErrorCode),
		zap.String("error_message", e.Message),
		zap.String("stack", e.StackTrace),
		zap.String("user_id", e.UserID),
		zap.String("request_id", e.RequestID),
		zap.String("environment", r.env),
		zap.String("endpoint", e.Endpoint),
		zap.String("context", e.contextJSON()),
		zap.String("resolution_status", e.ResolutionStatus),
	}
	if sinkErr != nil {
		fields = append(fields, zap.NamedError("sink_error", sinkErr))
	}
	zap.L().Error("error log entry (local fallback)", fields...)
}
