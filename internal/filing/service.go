package filing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/efile/internal/ack"
	"github.com/yourorg/efile/internal/mef"
	"github.com/yourorg/efile/internal/signing"
	"github.com/yourorg/efile/internal/submission"
)

const tracerName = "github.com/yourorg/efile/internal/filing"

// Submitter is the filing endpoint as seen by the orchestrator.
type Submitter interface {
	Submit(ctx context.Context, signed signing.SignedDocument, meta submission.Meta) (ack.Record, error)
	CheckStatus(ctx context.Context, q submission.StatusQuery) (submission.StatusReport, error)
}

// ReceiptRenderer turns a stored record into a printable receipt.
type ReceiptRenderer interface {
	Render(ctx context.Context, rec ack.Record) ([]byte, error)
}

// Deps are the pipeline components. All are required.
type Deps struct {
	Builder   mef.Builder
	Validator mef.Validator
	Signer    *signing.Signer
	Client    Submitter
	Store     ack.Store
}

// Request is one filing attempt. TaxYear falls back to Return.TaxYear.
type Request struct {
	Return   mef.TaxReturn `json:"return"`
	TaxYear  int           `json:"taxYear,omitempty"`
	EFIN     string        `json:"efin"`
	PTIN     string        `json:"ptin,omitempty"`
	PIN      string        `json:"pin,omitempty"`
	TestMode bool          `json:"testMode"`
}

func (r Request) taxYear() int {
	if r.TaxYear != 0 {
		return r.TaxYear
	}
	return r.Return.TaxYear
}

// Result describes a filed return.
type Result struct {
	Record         ack.Record           `json:"record"`
	Validation     mef.ValidationResult `json:"validation"`
	TransmissionID string               `json:"transmissionId"`
	Digest         string               `json:"digest"`
}

// Service runs the filing pipeline and tracks acknowledgments.
type Service struct {
	cfg       Config
	builder   mef.Builder
	validator mef.Validator
	signer    *signing.Signer
	client    Submitter
	store     ack.Store
	audit     AuditRecorder
	receipts  ReceiptRenderer
	metrics   *Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	group  singleflight.Group
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

type Option func(*Service)

func WithAudit(rec AuditRecorder) Option {
	return func(s *Service) { s.audit = rec }
}

func WithReceipts(r ReceiptRenderer) Option {
	return func(s *Service) { s.receipts = r }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func NewService(cfg Config, deps Deps, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		builder:   deps.Builder,
		validator: deps.Validator,
		signer:    deps.Signer,
		client:    deps.Client,
		store:     deps.Store,
		logger:    slog.Default(),
		tracer:    otel.Tracer(tracerName),
		locks:     map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate builds the document for req and runs every validation pass.
// Only a request that cannot be built returns an error.
func (s *Service) Validate(ctx context.Context, req Request) (mef.ValidationResult, error) {
	ctx, span := s.tracer.Start(ctx, "filing.Validate", trace.WithAttributes(attribute.Int("tax_year", req.taxYear())))
	defer span.End()

	doc, err := s.build(ctx, req, false)
	if err != nil {
		endSpan(span, err)
		return mef.ValidationResult{}, err
	}
	result, _ := s.validate(ctx, doc)
	outcome := "valid"
	if !result.Valid {
		outcome = "invalid"
	}
	s.appendAudit(ctx, req.EFIN, ActionValidate, "", outcome)
	return result, nil
}

// File runs build, validate, sign, submit and record, stopping at the first
// failing stage. Nothing durable happens before submit; a record-stage
// failure still returns the endpoint's record so it can be reconciled.
func (s *Service) File(ctx context.Context, req Request) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "filing.File", trace.WithAttributes(
		attribute.String("efin", req.EFIN),
		attribute.Bool("test_mode", req.TestMode),
		attribute.Int("tax_year", req.taxYear()),
	))
	defer span.End()

	logger := CorrelationLogger(s.logger, CorrelationID(ctx), req.EFIN)
	res, err := s.file(ctx, req, logger)
	endSpan(span, err)

	outcome := "filed"
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			outcome = "failed:" + string(se.Stage)
		} else {
			outcome = "failed"
		}
	}
	s.appendAudit(ctx, req.EFIN, ActionFile, res.Record.ConfirmationNumber, outcome)
	return res, err
}

func (s *Service) file(ctx context.Context, req Request, logger *slog.Logger) (Result, error) {
	doc, err := s.build(ctx, req, true)
	if err != nil {
		return Result{}, err
	}

	var res Result
	res.TransmissionID = doc.TransmissionID
	res.Validation, err = s.validate(ctx, doc)
	if err != nil {
		validation := res.Validation
		logger.Info("return failed validation", "errors", len(validation.Errors), "warnings", len(validation.Warnings))
		return res, &StageError{Stage: StageValidate, Err: ErrValidationFailed, Validation: &validation}
	}

	var signed signing.SignedDocument
	err = s.stage(ctx, StageSign, func(ctx context.Context) error {
		var err error
		signed, err = s.signer.Sign(ctx, doc, signing.Credentials{EFIN: req.EFIN, PTIN: req.PTIN, PIN: req.PIN})
		return err
	})
	if err != nil {
		logger.Warn("signing failed", "error", err)
		return res, &StageError{Stage: StageSign, Err: err}
	}
	res.Digest = signed.Digest

	var rec ack.Record
	err = s.stage(ctx, StageSubmit, func(ctx context.Context) error {
		var err error
		rec, err = s.client.Submit(ctx, signed, submission.Meta{
			EFIN:     req.EFIN,
			PIN:      req.PIN,
			PTIN:     req.PTIN,
			TaxYear:  req.taxYear(),
			TestMode: req.TestMode,
		})
		return err
	})
	if err != nil {
		logger.Warn("submission failed", "error", err)
		return res, &StageError{Stage: StageSubmit, Err: err}
	}
	res.Record = rec

	err = s.stage(ctx, StageRecord, func(ctx context.Context) error {
		stored, err := s.store.RecordSubmission(ctx, rec.ConfirmationNumber, ack.MetaOf(rec))
		if err == nil {
			res.Record = stored
		}
		return err
	})
	if err != nil {
		logger.Error("submission accepted by endpoint but not recorded",
			"confirmationNumber", rec.ConfirmationNumber, "submissionId", rec.SubmissionID, "error", err)
		return res, &StageError{Stage: StageRecord, Err: err}
	}

	s.metrics.filedReturn(req.TestMode)
	logger.Info("return filed",
		"confirmationNumber", res.Record.ConfirmationNumber,
		"submissionId", res.Record.SubmissionID,
		"transmissionId", res.TransmissionID,
		"testMode", req.TestMode)
	return res, nil
}

func (s *Service) build(ctx context.Context, req Request, requireEFIN bool) (mef.Document, error) {
	var doc mef.Document
	err := s.stage(ctx, StageBuild, func(context.Context) error {
		if requireEFIN && strings.TrimSpace(req.EFIN) == "" {
			return ErrEFINRequired
		}
		taxYear := req.taxYear()
		if taxYear == 0 {
			return ErrTaxYearRequired
		}
		doc = s.builder.WithTransmission(mef.Transmission{
			EFIN:     strings.TrimSpace(req.EFIN),
			PTIN:     strings.TrimSpace(req.PTIN),
			TestMode: req.TestMode,
		}).Build(req.Return, taxYear)
		return nil
	})
	if err != nil {
		return mef.Document{}, &StageError{Stage: StageBuild, Err: err}
	}
	return doc, nil
}

func (s *Service) validate(ctx context.Context, doc mef.Document) (mef.ValidationResult, error) {
	var result mef.ValidationResult
	err := s.stage(ctx, StageValidate, func(context.Context) error {
		result = s.validator.Validate(doc)
		if !result.Valid {
			return ErrValidationFailed
		}
		return nil
	})
	return result, err
}

// stage wraps fn in a span and records its duration.
func (s *Service) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "filing."+string(stage))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	s.metrics.stage(stage, time.Since(start).Seconds(), err)
	endSpan(span, err)
	return err
}

func endSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *Service) appendAudit(ctx context.Context, efin, action, subject, outcome string) {
	if s.audit == nil || !s.cfg.EnableAuditHash {
		return
	}
	entry := AuditEntry{
		AuditID: uuid.NewString(),
		CorrID:  CorrelationID(ctx),
		Actor:   "system",
		Action:  action,
		Subject: subject,
		Outcome: outcome,
		Ts:      time.Now().UTC(),
	}
	if _, err := HashChain(ctx, s.audit, strings.TrimSpace(efin), entry); err != nil {
		CorrelationLogger(s.logger, entry.CorrID, efin).Warn("audit append failed", "action", action, "error", err)
	}
}
