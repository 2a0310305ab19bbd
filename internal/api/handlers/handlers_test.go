package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/CharoKentaro/okozukai-ledger/internal/jobs"
	"github.com/CharoKentaro/okozukai-ledger/internal/jobs/inmemory"
	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
	"github.com/CharoKentaro/okozukai-ledger/internal/store"
	"github.com/CharoKentaro/okozukai-ledger/internal/workflow"
)

type mockPublisher struct {
	published []*jobs.ExtractReceiptJob
	err       error
}

func (m *mockPublisher) PublishExtractReceipt(ctx context.Context, job *jobs.ExtractReceiptJob) error {
	if m.err != nil {
		return m.err
	}
	if job.JobID == "" {
		job.JobID = "test-job"
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	m.published = append(m.published, job)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

type archivedCommit struct {
	tx     *ledger.Transaction
	budget float64
}

// mockArchiver signals each mirrored commit on a channel so tests can
// wait for the background archive goroutine.
type mockArchiver struct {
	archived chan archivedCommit
}

func newMockArchiver() *mockArchiver {
	return &mockArchiver{archived: make(chan archivedCommit, 1)}
}

func (m *mockArchiver) ArchiveTransaction(ctx context.Context, tx *ledger.Transaction, budget float64) error {
	m.archived <- archivedCommit{tx: tx, budget: budget}
	return nil
}

func newTestRouter(t *testing.T, publisher jobs.Publisher) (*http.ServeMux, *ledger.Ledger) {
	t.Helper()

	log := zerolog.Nop()
	l, err := ledger.Open(context.Background(), store.NewMemoryStore(), log)
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	wf := workflow.New(nil, l, log)

	jobStore := inmemory.NewStore()
	mux := NewRouter(
		NewLedgerHandler(l, wf, nil, log),
		NewReceiptsHandler(publisher, log),
		NewJobsHandler(jobStore, log),
	)
	return mux, l
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
}

func TestGetLedgerEmpty(t *testing.T) {
	mux, _ := newTestRouter(t, nil)

	rec := doJSON(t, mux, http.MethodGet, "/api/ledger", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ledgerResponse
	decodeBody(t, rec, &resp)
	if resp.Budget != 0 || resp.TotalSpent != 0 {
		t.Errorf("empty ledger = %+v, want zeros", resp)
	}
	if resp.Transactions == nil {
		t.Error("expected transactions to serialize as [], not null")
	}
}

func TestSetBudget(t *testing.T) {
	mux, _ := newTestRouter(t, nil)

	rec := doJSON(t, mux, http.MethodPut, "/api/ledger/budget", map[string]float64{"amount": 10000})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp ledgerResponse
	decodeBody(t, rec, &resp)
	if resp.Budget != 10000 || resp.Remaining != 10000 {
		t.Errorf("budget response = %+v, want budget/remaining 10000", resp)
	}

	rec = doJSON(t, mux, http.MethodPut, "/api/ledger/budget", map[string]float64{"amount": -50})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative budget status = %d, want 400", rec.Code)
	}
}

func TestStageEditCommitCycle(t *testing.T) {
	mux, _ := newTestRouter(t, nil)

	// Stage raw extracted fields, including a formatted amount string.
	rec := doJSON(t, mux, http.MethodPost, "/api/ledger/pending", map[string]interface{}{
		"total_amount": "¥1,280",
		"items": []map[string]interface{}{
			{"name": "bento", "price": 650},
			{"name": "tea", "price": 150},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("stage status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var pending ledger.PendingExtraction
	decodeBody(t, rec, &pending)
	if pending.TotalAmount != 1280 {
		t.Errorf("staged total = %v, want 1280", pending.TotalAmount)
	}
	if len(pending.LineItems) != 2 {
		t.Errorf("staged %d items, want 2", len(pending.LineItems))
	}

	// Edit the pending entry before committing.
	rec = doJSON(t, mux, http.MethodPatch, "/api/ledger/pending", map[string]interface{}{
		"total_amount": 1300,
		"line_items": []map[string]interface{}{
			{"name": "bento", "price": 650},
			{"name": "tea", "price": 150},
			{"name": "gum", "price": 500},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	// Commit.
	rec = doJSON(t, mux, http.MethodPost, "/api/ledger/commit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var commitResp struct {
		Transaction ledger.Transaction `json:"transaction"`
		Ledger      ledgerResponse     `json:"ledger"`
	}
	decodeBody(t, rec, &commitResp)
	if commitResp.Transaction.TotalAmount != 1300 {
		t.Errorf("committed total = %v, want edited 1300", commitResp.Transaction.TotalAmount)
	}
	if commitResp.Transaction.ID == "" {
		t.Error("expected committed transaction to have an ID")
	}
	if commitResp.Ledger.TotalSpent != 1300 {
		t.Errorf("total spent = %v, want 1300", commitResp.Ledger.TotalSpent)
	}
	if commitResp.Ledger.Pending != nil {
		t.Error("expected pending to be cleared after commit")
	}
}

func TestCommitMirrorsToArchive(t *testing.T) {
	log := zerolog.Nop()
	l, err := ledger.Open(context.Background(), store.NewMemoryStore(), log)
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	wf := workflow.New(nil, l, log)

	archiver := newMockArchiver()
	mux := NewRouter(
		NewLedgerHandler(l, wf, archiver, log),
		NewReceiptsHandler(nil, log),
		NewJobsHandler(inmemory.NewStore(), log),
	)

	doJSON(t, mux, http.MethodPut, "/api/ledger/budget", map[string]float64{"amount": 5000})
	doJSON(t, mux, http.MethodPost, "/api/ledger/pending", map[string]interface{}{"total_amount": 800})

	rec := doJSON(t, mux, http.MethodPost, "/api/ledger/commit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("commit status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	select {
	case got := <-archiver.archived:
		if got.tx.TotalAmount != 800 {
			t.Errorf("archived total = %v, want 800", got.tx.TotalAmount)
		}
		if got.tx.ID == "" {
			t.Error("archived transaction has no ID")
		}
		if got.budget != 5000 {
			t.Errorf("archived budget = %v, want 5000", got.budget)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("commit was not mirrored to the archive")
	}
}

func TestCommitWithoutPending(t *testing.T) {
	mux, _ := newTestRouter(t, nil)

	rec := doJSON(t, mux, http.MethodPost, "/api/ledger/commit", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestCancelPending(t *testing.T) {
	mux, _ := newTestRouter(t, nil)

	doJSON(t, mux, http.MethodPost, "/api/ledger/pending", map[string]interface{}{
		"total_amount": 500,
	})

	rec := doJSON(t, mux, http.MethodDelete, "/api/ledger/pending", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", rec.Code)
	}

	// Cancel with nothing staged is a no-op, not an error.
	rec = doJSON(t, mux, http.MethodDelete, "/api/ledger/pending", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("repeat cancel status = %d, want 204", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodPost, "/api/ledger/commit", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("commit after cancel status = %d, want 409", rec.Code)
	}
}

func TestResetClearsHistory(t *testing.T) {
	mux, l := newTestRouter(t, nil)

	doJSON(t, mux, http.MethodPut, "/api/ledger/budget", map[string]float64{"amount": 5000})
	doJSON(t, mux, http.MethodPost, "/api/ledger/pending", map[string]interface{}{"total_amount": 800})
	doJSON(t, mux, http.MethodPost, "/api/ledger/commit", nil)

	rec := doJSON(t, mux, http.MethodPost, "/api/ledger/reset", map[string]bool{"clear_budget": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	state := l.Snapshot()
	if len(state.Transactions) != 0 || state.TotalSpent != 0 {
		t.Errorf("state after reset = %+v, want empty history", state)
	}
	if state.Budget != 5000 {
		t.Errorf("budget after reset = %v, want kept 5000", state.Budget)
	}
}

func TestExportCSV(t *testing.T) {
	mux, _ := newTestRouter(t, nil)

	doJSON(t, mux, http.MethodPost, "/api/ledger/pending", map[string]interface{}{
		"total_amount": 800,
		"items": []map[string]interface{}{
			{"name": "bento", "price": 650},
		},
	})
	doJSON(t, mux, http.MethodPost, "/api/ledger/commit", nil)

	rec := doJSON(t, mux, http.MethodGet, "/api/ledger/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want attachment", cd)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, "date,item_name,item_price,receipt_total") {
		t.Errorf("CSV header missing, body starts with %q", body[:min(len(body), 60)])
	}
	if !strings.Contains(body, "bento") {
		t.Errorf("CSV missing committed item: %q", body)
	}
}

func TestUploadReceipt(t *testing.T) {
	publisher := &mockPublisher{}
	mux, _ := newTestRouter(t, publisher)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("receipt", "receipt.jpg")
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	part.Write([]byte("fake jpeg bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/receipts", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if len(publisher.published) != 1 {
		t.Fatalf("published %d jobs, want 1", len(publisher.published))
	}
	job := publisher.published[0]
	if string(job.Image) != "fake jpeg bytes" {
		t.Errorf("job image = %q, want uploaded bytes", job.Image)
	}
	if job.Filename != "receipt.jpg" {
		t.Errorf("job filename = %q, want receipt.jpg", job.Filename)
	}

	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["job_id"] == "" {
		t.Error("expected response to carry job_id")
	}
}

func TestUploadReceiptWithoutFile(t *testing.T) {
	mux, _ := newTestRouter(t, &mockPublisher{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("name", "not a file")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/receipts", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUploadReceiptWithoutPublisher(t *testing.T) {
	mux, _ := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/receipts", strings.NewReader(""))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestJobsEndpoints(t *testing.T) {
	log := zerolog.Nop()
	jobStore := inmemory.NewStore()
	jobStore.SaveJob(context.Background(), &jobs.ExtractReceiptJob{
		JobID:  "j1",
		Status: jobs.JobStatusCompleted,
	})

	l, err := ledger.Open(context.Background(), store.NewMemoryStore(), log)
	if err != nil {
		t.Fatalf("ledger.Open() error = %v", err)
	}
	mux := NewRouter(
		NewLedgerHandler(l, workflow.New(nil, l, log), nil, log),
		NewReceiptsHandler(nil, log),
		NewJobsHandler(jobStore, log),
	)

	rec := doJSON(t, mux, http.MethodGet, "/api/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var listResp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &listResp)
	if listResp.Count != 1 {
		t.Errorf("count = %d, want 1", listResp.Count)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/jobs/j1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, mux, http.MethodGet, "/api/jobs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := newTestRouter(t, nil)

	rec := doJSON(t, mux, http.MethodDelete, "/api/ledger", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
