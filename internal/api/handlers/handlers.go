package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/CharoKentaro/okozukai-ledger/internal/api/middleware"
	"github.com/CharoKentaro/okozukai-ledger/internal/export"
	"github.com/CharoKentaro/okozukai-ledger/internal/jobs"
	"github.com/CharoKentaro/okozukai-ledger/internal/ledger"
	"github.com/CharoKentaro/okozukai-ledger/internal/workflow"
)

// maxUploadBytes caps receipt uploads. Phone camera JPEGs stay well
// under this.
const maxUploadBytes = 20 << 20

// TransactionArchiver mirrors committed transactions to an analytical
// store. Archiving is write-behind: a failure never affects the commit.
type TransactionArchiver interface {
	ArchiveTransaction(ctx context.Context, tx *ledger.Transaction, budget float64) error
}

// LedgerHandler handles ledger state and confirmation endpoints.
type LedgerHandler struct {
	ledger   *ledger.Ledger
	workflow *workflow.Workflow
	archiver TransactionArchiver
	log      zerolog.Logger
}

// NewLedgerHandler creates a new ledger handler. The archiver is
// optional; pass nil to skip mirroring commits.
func NewLedgerHandler(l *ledger.Ledger, wf *workflow.Workflow, archiver TransactionArchiver, log zerolog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger:   l,
		workflow: wf,
		archiver: archiver,
		log:      log,
	}
}

// ledgerResponse is the wire shape of the ledger, with the transient
// pending extraction included for the confirmation UI.
type ledgerResponse struct {
	Budget       float64                   `json:"budget"`
	TotalSpent   float64                   `json:"total_spent"`
	Remaining    float64                   `json:"remaining"`
	Transactions []ledger.Transaction      `json:"transactions"`
	Pending      *ledger.PendingExtraction `json:"pending,omitempty"`
}

func toLedgerResponse(state *ledger.State) *ledgerResponse {
	resp := &ledgerResponse{
		Budget:       state.Budget,
		TotalSpent:   state.TotalSpent,
		Remaining:    state.Remaining(),
		Transactions: state.Transactions,
		Pending:      state.Pending,
	}
	if resp.Transactions == nil {
		resp.Transactions = []ledger.Transaction{}
	}
	return resp
}

// GetLedger handles GET /api/ledger
func (h *LedgerHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, toLedgerResponse(h.ledger.Snapshot()))
}

// SetBudget handles PUT /api/ledger/budget
func (h *LedgerHandler) SetBudget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.ledger.SetBudget(r.Context(), req.Amount); err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			middleware.WriteError(w, http.StatusBadRequest, "Budget must not be negative")
			return
		}
		h.log.Error().Err(err).Msg("Failed to save budget")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save budget")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toLedgerResponse(h.ledger.Snapshot()))
}

// StagePending handles POST /api/ledger/pending
//
// The body is the raw extracted fields (or manual entry in the same
// shape); values are coerced rather than validated, so a messy payload
// stages a flagged pending entry instead of failing.
func (h *LedgerHandler) StagePending(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	pending, err := h.workflow.StageFields(raw)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to stage extraction")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to stage extraction")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, pending)
}

// EditPending handles PATCH /api/ledger/pending
func (h *LedgerHandler) EditPending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TotalAmount float64           `json:"total_amount"`
		LineItems   []ledger.LineItem `json:"line_items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.workflow.Edit(req.TotalAmount, req.LineItems); err != nil {
		writeLedgerError(w, h.log, err, "Failed to edit pending entry")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, h.ledger.Snapshot().Pending)
}

// Commit handles POST /api/ledger/commit
func (h *LedgerHandler) Commit(w http.ResponseWriter, r *http.Request) {
	tx, err := h.workflow.Confirm(r.Context())
	if err != nil && tx == nil {
		writeLedgerError(w, h.log, err, "Failed to commit")
		return
	}

	if err == nil && h.archiver != nil {
		h.archiveCommit(tx, h.ledger.Snapshot().Budget)
	}

	resp := map[string]interface{}{
		"transaction": tx,
		"ledger":      toLedgerResponse(h.ledger.Snapshot()),
	}
	if err != nil {
		// The commit is applied in memory even when the store write
		// failed; surface the problem without discarding the entry.
		h.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("Commit persisted in memory only")
		resp["warning"] = "transaction recorded but could not be persisted"
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// archiveCommit mirrors one committed transaction in the background.
// The request does not wait for it and an archive failure only logs.
func (h *LedgerHandler) archiveCommit(tx *ledger.Transaction, budget float64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := h.archiver.ArchiveTransaction(ctx, tx, budget); err != nil {
			h.log.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to mirror transaction to the archive")
			return
		}
		h.log.Debug().Str("transaction_id", tx.ID).Msg("Transaction mirrored to the archive")
	}()
}

// CancelPending handles DELETE /api/ledger/pending
func (h *LedgerHandler) CancelPending(w http.ResponseWriter, r *http.Request) {
	h.workflow.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// Reset handles POST /api/ledger/reset
func (h *LedgerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClearBudget bool `json:"clear_budget"`
	}
	if r.Body != nil {
		// Empty body means a plain history reset.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if err := h.ledger.ResetHistory(r.Context(), ledger.ResetOptions{ClearBudget: req.ClearBudget}); err != nil {
		h.log.Error().Err(err).Msg("Failed to reset ledger")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to reset ledger")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toLedgerResponse(h.ledger.Snapshot()))
}

// ExportCSV handles GET /api/ledger/export
func (h *LedgerHandler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	state := h.ledger.Snapshot()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="okozukai-%s.csv"`, time.Now().Format("2006-01-02")))

	if err := export.WriteCSV(w, state.Transactions); err != nil {
		// Headers are already out; all we can do is log.
		h.log.Error().Err(err).Msg("Failed to write CSV export")
	}
}

func writeLedgerError(w http.ResponseWriter, log zerolog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, ledger.ErrNoPendingExtraction):
		middleware.WriteError(w, http.StatusConflict, "No pending extraction")
	case errors.Is(err, ledger.ErrInvalidAmount):
		middleware.WriteError(w, http.StatusBadRequest, "Amounts must not be negative")
	default:
		log.Error().Err(err).Msg(fallback)
		middleware.WriteError(w, http.StatusInternalServerError, fallback)
	}
}

// ReceiptsHandler handles receipt upload endpoints.
type ReceiptsHandler struct {
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewReceiptsHandler creates a new receipts handler.
func NewReceiptsHandler(publisher jobs.Publisher, log zerolog.Logger) *ReceiptsHandler {
	return &ReceiptsHandler{
		publisher: publisher,
		log:       log,
	}
}

// UploadReceipt handles POST /api/receipts
//
// Accepts a multipart form with a "receipt" image field and enqueues an
// extraction job. The client polls /api/jobs/{id} and then reviews the
// staged entry via /api/ledger.
func (h *ReceiptsHandler) UploadReceipt(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Receipt extraction is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("receipt")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "receipt file is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read uploaded receipt")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read uploaded file")
		return
	}
	if len(image) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "receipt file is empty")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	job := &jobs.ExtractReceiptJob{
		Image:    image,
		MimeType: mimeType,
		Filename: header.Filename,
	}

	if err := h.publisher.PublishExtractReceipt(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue extraction job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue extraction job")
		return
	}

	h.log.Info().
		Str("job_id", job.JobID).
		Str("filename", header.Filename).
		Int("bytes", len(image)).
		Msg("Extraction job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// JobsHandler handles job status endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}
	if limit := query.Get("limit"); limit != "" {
		fmt.Sscanf(limit, "%d", &filter.Limit)
	}
	if offset := query.Get("offset"); offset != "" {
		fmt.Sscanf(offset, "%d", &filter.Offset)
	}

	list, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if list == nil {
		list = []*jobs.ExtractReceiptJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// GetJob handles GET /api/jobs/:jobId
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}
