package filing

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourorg/efile/internal/ack"
	"github.com/yourorg/efile/internal/credential"
	"github.com/yourorg/efile/internal/signing"
	"github.com/yourorg/efile/internal/submission"
)

// Handler exposes the Service over HTTP.
type Handler struct {
	svc      *Service
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	maxBody  int64
}

func NewHandler(svc *Service, gatherer prometheus.Gatherer, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := svc.cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return Handler{svc: svc, gatherer: gatherer, logger: logger, maxBody: maxBody}
}

func (h Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(Correlation(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/returns/validate", h.ValidateReturn)
	r.Post("/returns/file", h.FileReturn)
	r.Get("/submissions", h.ListSubmissions)
	r.Get("/submissions/{cn}", h.GetSubmission)
	r.Post("/submissions/{cn}/status-check", h.CheckSubmissionStatus)
	r.Get("/submissions/{cn}/receipt.pdf", h.SubmissionReceipt)
	return r
}

// ValidateReturn matches POST /returns/validate
func (h Handler) ValidateReturn(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	result, err := h.svc.Validate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// FileReturn matches POST /returns/file
func (h Handler) FileReturn(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	res, err := h.svc.File(r.Context(), req)
	var se *StageError
	if errors.As(err, &se) && se.Stage == StageRecord && res.Record.ConfirmationNumber != "" {
		// The endpoint has the return; refiling would duplicate it.
		body := errorBody("RECORD_FAILED", err.Error(), CorrelationID(r.Context()), false)
		body["confirmationNumber"] = res.Record.ConfirmationNumber
		body["submissionId"] = res.Record.SubmissionID
		body["transmissionId"] = res.TransmissionID
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"confirmationNumber": res.Record.ConfirmationNumber,
		"submissionId":       res.Record.SubmissionID,
		"status":             res.Record.Status,
		"submittedAt":        res.Record.SubmittedAt,
		"transmissionId":     res.TransmissionID,
		"warnings":           res.Validation.Warnings,
	})
}

// ListSubmissions matches GET /submissions
func (h Handler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": records})
}

// GetSubmission matches GET /submissions/{cn}
func (h Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "cn"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// CheckSubmissionStatus matches POST /submissions/{cn}/status-check
func (h Handler) CheckSubmissionStatus(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.CheckStatus(r.Context(), chi.URLParam(r, "cn"))
	if errors.Is(err, ErrStatusRegression) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":    "STATUS_REGRESSION",
			"message": err.Error(),
			"record":  u.Record,
		})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// SubmissionReceipt matches GET /submissions/{cn}/receipt.pdf
func (h Handler) SubmissionReceipt(w http.ResponseWriter, r *http.Request) {
	pdf, err := h.svc.Receipt(r.Context(), chi.URLParam(r, "cn"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h Handler) decodeRequest(w http.ResponseWriter, r *http.Request) (Request, bool) {
	defer r.Body.Close()
	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("BAD_REQUEST", fmt.Sprintf("invalid JSON: %v", err), CorrelationID(r.Context()), false))
		return Request{}, false
	}
	if req.EFIN == "" {
		req.EFIN = r.Header.Get("X-EFIN")
	}
	return req, true
}

// writeError maps pipeline errors onto HTTP statuses.
func (h Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	corrID := CorrelationID(r.Context())

	var se *StageError
	if errors.As(err, &se) && se.Validation != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"code":       "VALIDATION_FAILED",
			"message":    err.Error(),
			"corrId":     corrID,
			"validation": se.Validation,
		})
		return
	}

	var rl submission.RateLimitErr
	var te *submission.TransportError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		writeJSON(w, http.StatusTooManyRequests, errorBody("RATE_LIMITED", err.Error(), corrID, true))
	case errors.Is(err, ErrEFINRequired), errors.Is(err, ErrTaxYearRequired), errors.Is(err, submission.ErrModeMismatch):
		writeJSON(w, http.StatusBadRequest, errorBody("BAD_REQUEST", err.Error(), corrID, false))
	case errors.Is(err, credential.ErrCredentialNotFound),
		errors.Is(err, credential.ErrCredentialInactive),
		errors.Is(err, credential.ErrPINMismatch),
		errors.Is(err, signing.ErrPINRequired):
		writeJSON(w, http.StatusForbidden, errorBody("CREDENTIAL_REJECTED", err.Error(), corrID, false))
	case errors.Is(err, ack.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("NOT_FOUND", "submission not found", corrID, false))
	case errors.Is(err, submission.ErrEndpointNotConfigured), errors.Is(err, ErrReceiptsDisabled):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("UNAVAILABLE", err.Error(), corrID, false))
	case errors.As(err, &te):
		writeJSON(w, http.StatusBadGateway, errorBody("ENDPOINT_ERROR", err.Error(), corrID, !te.Permanent()))
	default:
		CorrelationLogger(h.logger, corrID, r.Header.Get("X-EFIN")).Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("INTERNAL_ERROR", err.Error(), corrID, true))
	}
}

func errorBody(code, message, corrID string, retryable bool) map[string]any {
	return map[string]any{
		"code":      code,
		"message":   message,
		"corrId":    corrID,
		"retryable": retryable,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
