package filing

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/yourorg/efile/internal/ack"
)

// PDFReceiptRenderer prints filing receipts through headless Chromium.
type PDFReceiptRenderer struct {
	cfg Config
	now func() time.Time
}

func NewPDFReceiptRenderer(cfg Config) PDFReceiptRenderer {
	return PDFReceiptRenderer{cfg: cfg, now: time.Now}
}

// Render returns an error when Chromium is unavailable so the caller can
// decide whether to retry.
func (r PDFReceiptRenderer) Render(ctx context.Context, rec ack.Record) ([]byte, error) {
	html, err := r.renderHTML(rec)
	if err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if r.cfg.PDFChromiumPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(r.cfg.PDFChromiumPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	timeout := r.cfg.PDFTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	runCtx, cancelRun := chromedp.NewContext(allocCtx)
	defer cancelRun()
	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	defer cancelTimeout()

	var pdf []byte
	err = chromedp.Run(runCtx,
		chromedp.Navigate("data:text/html,"+url.PathEscape(html)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if err == nil {
				pdf = buf
			}
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp run failed: %w", err)
	}
	return pdf, nil
}

var receiptTemplate = template.Must(template.New("receipt").Parse(receiptHTML))

func (r PDFReceiptRenderer) renderHTML(rec ack.Record) (string, error) {
	tz, err := time.LoadLocation(r.cfg.ReceiptTimeZone)
	if err != nil || r.cfg.ReceiptTimeZone == "" {
		tz = time.UTC
	}
	format := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.In(tz).Format("2006-01-02 15:04 MST")
	}

	type historyRow struct {
		Status string
		When   string
		Detail string
	}
	rows := make([]historyRow, 0, len(rec.StatusHistory))
	for _, h := range rec.StatusHistory {
		rows = append(rows, historyRow{Status: string(h.Status), When: format(h.Timestamp), Detail: h.Detail})
	}
	mode := "Production"
	if rec.TestMode {
		mode = "Test"
	}
	now := r.now
	if now == nil {
		now = time.Now
	}

	var buf bytes.Buffer
	err = receiptTemplate.Execute(&buf, map[string]any{
		"Record":      rec,
		"Mode":        mode,
		"SubmittedAt": format(rec.SubmittedAt),
		"LastUpdated": format(rec.LastUpdated),
		"History":     rows,
		"Generated":   format(now()),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

const receiptHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <style>
    body { font-family: 'Helvetica Neue', Arial, sans-serif; margin: 24px; color: #0f172a; }
    h1 { margin: 0 0 8px; }
    .card { border: 1px solid #e2e8f0; border-radius: 8px; padding: 12px; margin-bottom: 12px; }
    .label { font-size: 12px; color: #475569; }
    .value { font-size: 14px; margin-bottom: 6px; }
    .status { font-weight: 700; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { padding: 8px; border-bottom: 1px solid #e2e8f0; text-align: left; }
    th { background: #f8fafc; }
  </style>
</head>
<body>
  <h1>Electronic Filing Receipt</h1>
  <div class="card">
    <div class="label">Confirmation number</div>
    <div class="value">{{.Record.ConfirmationNumber}}</div>
    <div class="label">Submission ID</div>
    <div class="value">{{.Record.SubmissionID}}</div>
    <div class="label">Tax year</div>
    <div class="value">{{.Record.TaxYear}}</div>
    <div class="label">EFIN</div>
    <div class="value">{{.Record.EFIN}}</div>
    {{if .Record.PTIN}}<div class="label">PTIN</div>
    <div class="value">{{.Record.PTIN}}</div>{{end}}
    <div class="label">Mode</div>
    <div class="value">{{.Mode}}</div>
    <div class="label">Submitted</div>
    <div class="value">{{.SubmittedAt}}</div>
    <div class="label">Current status</div>
    <div class="value status">{{.Record.Status}} (updated {{.LastUpdated}})</div>
  </div>

  <table>
    <thead>
      <tr><th>Status</th><th>Time</th><th>Detail</th></tr>
    </thead>
    <tbody>
    {{range .History}}
      <tr><td>{{.Status}}</td><td>{{.When}}</td><td>{{.Detail}}</td></tr>
    {{end}}
    </tbody>
  </table>

  <div class="label" style="margin-top:12px;">Generated {{.Generated}}</div>
</body>
</html>
`
