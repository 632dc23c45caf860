// Package pipeline turns one user message into an Outcome: generate intent
// and SQL, short-circuit conversational turns, guard, execute, audit.
//
// Process never fails. Every stage error is folded into a fallback Outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/querydesk/querydesk/internal/audit"
	"github.com/querydesk/querydesk/internal/completion"
	"github.com/querydesk/querydesk/internal/dataset"
	"github.com/querydesk/querydesk/internal/guard"
	"github.com/querydesk/querydesk/internal/metrics"
	"github.com/querydesk/querydesk/internal/observability"
	"github.com/querydesk/querydesk/internal/query"
)

const (
	ReplyGenerateFailed = "I'm having trouble understanding that right now. Please try again."
	ReplyRejectedPrefix = "I cannot execute that request safely. "
	ReplyExecuteFailed  = "I encountered a database issue while looking that up."

	EmotionNeutral    = "neutral"
	EmotionUrgent     = "urgent"
	EmotionFrustrated = "frustrated"

	IntentUnknown = "UNKNOWN"
)

// Sink counter and latency window names.
const (
	MetricRequests        = "requests"
	MetricGenerateFailure = "generate.failure"
	MetricConversational  = "conversational"
	MetricGuardRejected   = "guard.rejected"
	MetricExecuteSuccess  = "execute.success"
	MetricExecuteFailure  = "execute.failure"
	MetricAuditFailure    = "audit.failure"
	MetricGenerateLatency = "generate.latency_ms"
	MetricGuardLatency    = "guard.latency_ms"
	MetricExecuteLatency  = "execute.latency_ms"
)

const (
	defaultGenerateTimeout = 30 * time.Second
	defaultExecuteTimeout  = 10 * time.Second
	auditTimeout           = 5 * time.Second
)

type Kind string

const (
	KindConversational Kind = "conversational"
	KindExecuted       Kind = "executed"
	KindGenerateFailed Kind = "generate_failed"
	KindRejected       Kind = "rejected"
	KindExecuteFailed  Kind = "execute_failed"
)

// Generator produces the structured model answer for a message.
type Generator interface {
	Generate(ctx context.Context, message string, datasetID dataset.ID) (completion.IntentResult, error)
}

type Request struct {
	Message   string
	DatasetID dataset.ID
	// Subject identifies the caller in audit entries. Optional.
	Subject string
}

// Outcome is the result of one turn. Data is never nil.
type Outcome struct {
	Reply   string      `json:"reply"`
	Emotion string      `json:"emotion"`
	Intent  string      `json:"intent"`
	SQL     string      `json:"sql,omitempty"`
	Data    []query.Row `json:"data"`
	Kind    Kind        `json:"-"`
}

type Config struct {
	GenerateTimeout time.Duration
	ExecuteTimeout  time.Duration
}

type Dependencies struct {
	Generator Generator
	Executor  query.Executor
	Recorder  audit.Recorder
	Sink      *metrics.Sink
	Logger    *slog.Logger
}

type Service struct {
	generator Generator
	executor  query.Executor
	recorder  audit.Recorder
	sink      *metrics.Sink
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if deps.Recorder == nil {
		deps.Recorder = audit.NewMemoryLog()
	}
	if deps.Sink == nil {
		deps.Sink = metrics.NewSink()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = defaultExecuteTimeout
	}
	return &Service{
		generator: deps.Generator,
		executor:  deps.Executor,
		recorder:  deps.Recorder,
		sink:      deps.Sink,
		logger:    deps.Logger,
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

func (s *Service) Sink() *metrics.Sink {
	return s.sink
}

func (s *Service) Process(ctx context.Context, req Request) Outcome {
	start := s.now()
	if req.DatasetID == "" {
		req.DatasetID = dataset.Default
	}
	s.sink.Increment(MetricRequests)

	logger := observability.WithTrace(ctx, s.logger).With(slog.String("dataset", string(req.DatasetID)))
	outcome := s.process(ctx, logger, req)

	elapsed := s.now().Sub(start)
	observability.ObservePipelineOutcome(req.DatasetID, string(outcome.Kind), elapsed)
	logger.InfoContext(ctx, "pipeline_turn",
		slog.String("kind", string(outcome.Kind)),
		slog.String("intent", outcome.Intent),
		slog.String("emotion", outcome.Emotion),
		slog.Int("rows", len(outcome.Data)),
		slog.String("duration", elapsed.String()),
	)
	return outcome
}

func (s *Service) process(ctx context.Context, logger *slog.Logger, req Request) Outcome {
	result, err := s.generate(ctx, req)
	if err != nil {
		s.sink.Increment(MetricGenerateFailure)
		logger.WarnContext(ctx, "pipeline_generate_failed", slog.String("error", err.Error()))
		return Outcome{
			Reply:   ReplyGenerateFailed,
			Emotion: EmotionNeutral,
			Intent:  IntentUnknown,
			Data:    []query.Row{},
			Kind:    KindGenerateFailed,
		}
	}

	ds, _ := dataset.Lookup(req.DatasetID)
	if isConversational(result, ds) {
		s.sink.Increment(MetricConversational)
		return Outcome{
			Reply:   result.Reply,
			Emotion: result.Emotion,
			Intent:  result.Intent,
			Data:    []query.Row{},
			Kind:    KindConversational,
		}
	}

	guardStart := s.now()
	guarded, err := guard.Validate(result.SQL, ds.Allowlist(), ds.Aliases())
	s.sink.RecordLatency(MetricGuardLatency, millis(s.now().Sub(guardStart)))
	if err != nil {
		reason := err.Error()
		var unsafe *guard.UnsafeQueryError
		if errors.As(err, &unsafe) {
			reason = unsafe.Reason
		}
		s.sink.Increment(MetricGuardRejected)
		logger.WarnContext(ctx, "pipeline_guard_rejected",
			slog.String("reason", reason),
			slog.String("sql_fingerprint", observability.Fingerprint(result.SQL)),
		)
		s.appendAudit(ctx, logger, audit.Entry{
			DatasetID:       string(req.DatasetID),
			Subject:         req.Subject,
			QueryText:       result.SQL,
			Intent:          result.Intent,
			IsRejected:      true,
			RejectionReason: reason,
		})
		return Outcome{
			Reply:   ReplyRejectedPrefix + reason,
			Emotion: EmotionUrgent,
			Intent:  result.Intent,
			Data:    []query.Row{},
			Kind:    KindRejected,
		}
	}

	rows, err := s.execute(ctx, req.DatasetID, guarded)
	if err != nil {
		s.sink.Increment(MetricExecuteFailure)
		logger.ErrorContext(ctx, "pipeline_execute_failed",
			slog.String("error", observability.Mask(err.Error())),
			slog.String("sql_fingerprint", observability.Fingerprint(guarded.SQL())),
		)
		return Outcome{
			Reply:   ReplyExecuteFailed,
			Emotion: EmotionFrustrated,
			Intent:  result.Intent,
			Data:    []query.Row{},
			Kind:    KindExecuteFailed,
		}
	}
	if rows == nil {
		rows = []query.Row{}
	}

	s.sink.Increment(MetricExecuteSuccess)
	s.appendAudit(ctx, logger, audit.Entry{
		DatasetID: string(req.DatasetID),
		Subject:   req.Subject,
		QueryText: guarded.SQL(),
		Intent:    result.Intent,
	})
	return Outcome{
		Reply:   result.Reply,
		Emotion: result.Emotion,
		Intent:  result.Intent,
		SQL:     guarded.SQL(),
		Data:    rows,
		Kind:    KindExecuted,
	}
}

func (s *Service) generate(ctx context.Context, req Request) (completion.IntentResult, error) {
	if _, ok := dataset.Lookup(req.DatasetID); !ok {
		return completion.IntentResult{}, fmt.Errorf("dataset %q: %w", req.DatasetID, completion.ErrUnknownDataset)
	}
	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	start := s.now()
	result, err := s.generator.Generate(genCtx, req.Message, req.DatasetID)
	s.sink.RecordLatency(MetricGenerateLatency, millis(s.now().Sub(start)))
	return result, err
}

func (s *Service) execute(ctx context.Context, datasetID dataset.ID, guarded guard.Query) ([]query.Row, error) {
	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecuteTimeout)
	defer cancel()

	start := s.now()
	rows, err := s.executor.Execute(execCtx, query.Request{Dataset: datasetID, Query: guarded})
	s.sink.RecordLatency(MetricExecuteLatency, millis(s.now().Sub(start)))
	return rows, err
}

// appendAudit records entry even when the caller has gone away. Failures are
// logged and counted only.
func (s *Service) appendAudit(ctx context.Context, logger *slog.Logger, entry audit.Entry) {
	entry.Timestamp = s.now().UTC()
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.recorder.Append(auditCtx, entry); err != nil {
		s.sink.Increment(MetricAuditFailure)
		logger.ErrorContext(ctx, "pipeline_audit_failed",
			slog.String("error", observability.Mask(err.Error())),
			slog.Bool("rejected", entry.IsRejected),
		)
	}
}

var whitespace = regexp.MustCompile(`\s+`)

// isConversational reports whether the turn needs no query: empty SQL, one
// of the placeholder statements models emit, or an intent the dataset marks
// as needing none.
func isConversational(result completion.IntentResult, ds dataset.Dataset) bool {
	if ds.IsNoQueryIntent(result.Intent) {
		return true
	}
	normalized := strings.TrimSpace(result.SQL)
	normalized = strings.TrimSpace(strings.TrimRight(normalized, "; \t\r\n"))
	normalized = strings.ToUpper(whitespace.ReplaceAllString(normalized, " "))
	switch normalized {
	case "", "SELECT", "SELECT ...", "SELECT 1":
		return true
	default:
		return false
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
