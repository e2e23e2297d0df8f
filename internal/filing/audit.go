package filing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// AuditEntry is one pipeline event. Entries are chained per EFIN: Hash covers
// the entry and PrevHash.
type AuditEntry struct {
	AuditID  string    `json:"auditId"`
	CorrID   string    `json:"corrId"`
	EFIN     string    `json:"efin"`
	Actor    string    `json:"actor"`
	Action   string    `json:"action"`
	Subject  string    `json:"subject,omitempty"`
	Outcome  string    `json:"outcome"`
	Ts       time.Time `json:"timestamp"`
	Hash     string    `json:"hash"`
	PrevHash string    `json:"prevHash"`
}

const (
	ActionValidate    = "return.validate"
	ActionFile        = "return.file"
	ActionStatusCheck = "submission.status_check"
	ActionStatus      = "submission.status"
)

var ErrEmptyChain = errors.New("no audit entries")

type AuditRecorder interface {
	Append(ctx context.Context, entry AuditEntry) error
	Last(ctx context.Context, efin string) (AuditEntry, error)
}

// HashChain links entry to the last entry recorded for efin and appends it.
// The read and the append are not atomic; recorders that are shared between
// processes must serialize per EFIN themselves.
func HashChain(ctx context.Context, rec AuditRecorder, efin string, entry AuditEntry) (AuditEntry, error) {
	prev, err := rec.Last(ctx, efin)
	if err != nil && !errors.Is(err, ErrEmptyChain) {
		return AuditEntry{}, err
	}
	entry.EFIN = efin
	entry.PrevHash = prev.Hash
	entry.Hash = hashAudit(entry)
	return entry, rec.Append(ctx, entry)
}

func hashAudit(entry AuditEntry) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		entry.CorrID, entry.EFIN, entry.Actor, entry.Action, entry.Subject, entry.Outcome,
		entry.Ts.UTC().Format(time.RFC3339Nano), entry.PrevHash)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// VerifyChain recomputes every hash and returns the index of the first entry
// that does not link, or -1.
func VerifyChain(entries []AuditEntry) int {
	prev := ""
	for i, e := range entries {
		if e.PrevHash != prev || e.Hash != hashAudit(e) {
			return i
		}
		prev = e.Hash
	}
	return -1
}

func CorrelationLogger(logger *slog.Logger, corrID, efin string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("corrId", corrID, "efin", efin)
}

type MemoryAuditRecorder struct {
	mu     sync.Mutex
	byEFIN map[string][]AuditEntry
}

func NewMemoryAuditRecorder() *MemoryAuditRecorder {
	return &MemoryAuditRecorder{byEFIN: map[string][]AuditEntry{}}
}

func (m *MemoryAuditRecorder) Append(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byEFIN[entry.EFIN] = append(m.byEFIN[entry.EFIN], entry)
	return nil
}

func (m *MemoryAuditRecorder) Last(_ context.Context, efin string) (AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byEFIN[efin]
	if len(list) == 0 {
		return AuditEntry{}, ErrEmptyChain
	}
	return list[len(list)-1], nil
}

// Entries returns a copy of the chain for efin.
func (m *MemoryAuditRecorder) Entries(efin string) []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.byEFIN[efin]...)
}
