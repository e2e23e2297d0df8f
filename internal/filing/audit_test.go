package filing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/efile/internal/ack"
)

func TestHashChainLinksPerEFIN(t *testing.T) {
	rec := NewMemoryAuditRecorder()
	ctx := context.Background()
	ts := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	first, err := HashChain(ctx, rec, "111111", AuditEntry{AuditID: "a1", Action: ActionFile, Ts: ts})
	require.NoError(t, err)
	assert.Empty(t, first.PrevHash)
	assert.Len(t, first.Hash, 64)

	second, err := HashChain(ctx, rec, "111111", AuditEntry{AuditID: "a2", Action: ActionStatus, Ts: ts.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.PrevHash)

	other, err := HashChain(ctx, rec, "222222", AuditEntry{AuditID: "b1", Action: ActionFile, Ts: ts})
	require.NoError(t, err)
	assert.Empty(t, other.PrevHash)

	assert.Equal(t, -1, VerifyChain(rec.Entries("111111")))
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	rec := NewMemoryAuditRecorder()
	ctx := context.Background()
	for i, action := range []string{ActionFile, ActionStatusCheck, ActionStatus} {
		_, err := HashChain(ctx, rec, "111111", AuditEntry{Action: action, Ts: time.Unix(int64(i), 0)})
		require.NoError(t, err)
	}
	entries := rec.Entries("111111")
	entries[1].Outcome = "Accepted"
	assert.Equal(t, 1, VerifyChain(entries))

	entries = rec.Entries("111111")
	entries = append(entries[:1], entries[2:]...)
	assert.Equal(t, 1, VerifyChain(entries))
}

type failingRecorder struct{}

func (failingRecorder) Append(context.Context, AuditEntry) error { return errors.New("disk full") }
func (failingRecorder) Last(context.Context, string) (AuditEntry, error) {
	return AuditEntry{}, ErrEmptyChain
}

func TestAuditFailureDoesNotFailFiling(t *testing.T) {
	h := newHarness(t)
	h.svc.audit = failingRecorder{}
	_, err := h.svc.File(context.Background(), validRequest())
	assert.NoError(t, err)
}

func TestAuditDisabled(t *testing.T) {
	h := newHarness(t)
	h.svc.cfg.EnableAuditHash = false
	_, err := h.svc.File(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Empty(t, h.audit.Entries(testEFIN))
}

func TestReceiptHTML(t *testing.T) {
	r := NewPDFReceiptRenderer(Config{ReceiptTimeZone: "UTC"})
	r.now = func() time.Time { return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC) }

	rec := ack.NewRecord("CN-<1>", ack.Meta{SubmissionID: "sub-1", TaxYear: 2024, EFIN: "123456", TestMode: true, Detail: "received"},
		time.Date(2024, 4, 15, 14, 30, 0, 0, time.UTC))
	rec.Status = ack.StatusAccepted
	rec.StatusHistory = append(rec.StatusHistory, ack.HistoryEntry{Status: ack.StatusAccepted, Timestamp: time.Date(2024, 4, 16, 10, 0, 0, 0, time.UTC), Detail: "ok"})

	html, err := r.renderHTML(rec)
	require.NoError(t, err)
	assert.Contains(t, html, "CN-&lt;1&gt;")
	assert.Contains(t, html, "2024-04-15 14:30 UTC")
	assert.Contains(t, html, "Test")
	assert.Contains(t, html, "Generated 2024-05-01 08:00 UTC")
	assert.Equal(t, 2, strings.Count(html, "<tr><td>"))
	assert.NotContains(t, html, "PTIN")
}
