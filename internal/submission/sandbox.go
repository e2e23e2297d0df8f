package submission

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/yourorg/efile/internal/ack"
	"github.com/yourorg/efile/internal/mef"
	"github.com/yourorg/efile/internal/signing"
)

// Outcome decides the final acknowledgment of a sandbox submission.
type Outcome func(doc mef.Document) (ack.Status, string)

// AcceptAll is the default sandbox outcome.
func AcceptAll(mef.Document) (ack.Status, string) {
	return ack.StatusAccepted, "return accepted"
}

type sandboxSubmission struct {
	efin     string
	received time.Time
	steps    []StatusReport
	polls    int
}

// Sandbox simulates a MeF filing endpoint. Each acknowledgment poll moves a
// submission one step along Submitted, Processing and its final outcome.
// A repeated Idempotency-Key gets the original receipt back.
type Sandbox struct {
	mu          sync.Mutex
	submissions map[string]*sandboxSubmission
	byKey       map[string]string
	outcome     Outcome
	failures    int
	logger      *slog.Logger
	now         func() time.Time
}

func NewSandbox(outcome Outcome, logger *slog.Logger) *Sandbox {
	if outcome == nil {
		outcome = AcceptAll
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sandbox{
		submissions: map[string]*sandboxSubmission{},
		byKey:       map[string]string{},
		outcome:     outcome,
		logger:      logger,
		now:         time.Now,
	}
}

// FailNext makes the next n requests answer 503.
func (s *Sandbox) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// Submissions returns how many submissions were received.
func (s *Sandbox) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submissions)
}

func (s *Sandbox) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.injectFailures)
	r.Post("/submissions", s.receive)
	r.Get("/submissions/{id}/acknowledgment", s.acknowledgment)
	return r
}

func (s *Sandbox) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		fail := s.failures > 0
		if fail {
			s.failures--
		}
		s.mu.Unlock()
		if fail {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"code": "UNAVAILABLE", "message": "endpoint temporarily unavailable"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Sandbox) receive(w http.ResponseWriter, r *http.Request) {
	efin := r.Header.Get("X-EFIN")
	if efin == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "EFIN_REQUIRED", "message": "X-EFIN header is required"})
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "BAD_REQUEST", "message": err.Error()})
		return
	}
	doc, err := mef.ParseDocument(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "MALFORMED_XML", "message": err.Error()})
		return
	}
	if !doc.Signed() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "UNSIGNED", "message": signing.ErrNotSigned.Error()})
		return
	}

	key := r.Header.Get(IdempotencyHeader)
	final, detail := s.outcome(doc)
	now := s.now().UTC()
	id := uuid.NewString()

	s.mu.Lock()
	if prior, ok := s.byKey[key]; ok && key != "" {
		received := s.submissions[prior].received
		s.mu.Unlock()
		s.logger.Info("sandbox replayed submission", "submissionId", prior, "idempotencyKey", key)
		writeJSON(w, http.StatusAccepted, submissionReceipt{SubmissionID: prior, Status: string(ack.StatusSubmitted), ReceivedAt: received})
		return
	}
	if key != "" {
		s.byKey[key] = id
	}
	s.submissions[id] = &sandboxSubmission{
		efin:     efin,
		received: now,
		steps: []StatusReport{
			{Status: ack.StatusSubmitted, Detail: "received"},
			{Status: ack.StatusProcessing, Detail: "in processing"},
			{Status: final, Detail: detail},
		},
	}
	s.mu.Unlock()

	s.logger.Info("sandbox received submission", "submissionId", id, "efin", efin, "transmissionId", doc.TransmissionID)
	writeJSON(w, http.StatusAccepted, submissionReceipt{SubmissionID: id, Status: string(ack.StatusSubmitted), ReceivedAt: now})
}

func (s *Sandbox) acknowledgment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	efin := r.URL.Query().Get("efin")

	s.mu.Lock()
	sub, ok := s.submissions[id]
	if !ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "message": "unknown submission"})
		return
	}
	if sub.efin != efin {
		s.mu.Unlock()
		writeJSON(w, http.StatusForbidden, map[string]string{"code": "EFIN_MISMATCH", "message": "submission belongs to another EFIN"})
		return
	}
	if sub.polls < len(sub.steps)-1 {
		sub.polls++
	}
	report := sub.steps[sub.polls]
	report.Timestamp = s.now().UTC()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
