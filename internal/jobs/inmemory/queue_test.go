package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CharoKentaro/okozukai-ledger/internal/jobs"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.ExtractReceiptJob {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, err := store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("job %s never reached status %s: %v", jobID, want, err)
	}
	t.Fatalf("job %s never reached status %s, last status %s", jobID, want, job.Status)
	return nil
}

func TestQueueProcessesJob(t *testing.T) {
	store := NewStore()
	queue := NewQueue(10, store)
	defer queue.Close()

	var handled int32
	handler := func(ctx context.Context, job jobs.Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}

	if err := queue.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.ExtractReceiptJob{
		Image:    []byte("fake image"),
		MimeType: "image/png",
	}
	if err := queue.PublishExtractReceipt(context.Background(), job); err != nil {
		t.Fatalf("PublishExtractReceipt() error = %v", err)
	}

	if job.JobID == "" {
		t.Error("expected publish to assign a job ID")
	}
	if job.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want default 3", job.MaxRetries)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if got := atomic.LoadInt32(&handled); got != 1 {
		t.Errorf("handler called %d times, want 1", got)
	}
}

func TestQueueRetriesFailedJob(t *testing.T) {
	store := NewStore()
	queue := NewQueue(10, store)
	defer queue.Close()

	var attempts int32
	handler := func(ctx context.Context, job jobs.Job) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			return errors.New("transient extraction failure")
		}
		return nil
	}

	if err := queue.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.ExtractReceiptJob{
		Image:    []byte("fake image"),
		MimeType: "image/jpeg",
	}
	if err := queue.PublishExtractReceipt(context.Background(), job); err != nil {
		t.Fatalf("PublishExtractReceipt() error = %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", done.RetryCount)
	}
	if done.Error != "" {
		t.Errorf("Error = %q, want cleared after success", done.Error)
	}
}

func TestQueueMarksJobFailedAfterMaxRetries(t *testing.T) {
	store := NewStore()
	queue := NewQueue(10, store)
	defer queue.Close()

	handler := func(ctx context.Context, job jobs.Job) error {
		return errors.New("permanent failure")
	}

	if err := queue.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.ExtractReceiptJob{
		Image:      []byte("fake image"),
		MimeType:   "image/png",
		MaxRetries: 1,
	}
	if err := queue.PublishExtractReceipt(context.Background(), job); err != nil {
		t.Fatalf("PublishExtractReceipt() error = %v", err)
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if done.Error == "" {
		t.Error("expected failed job to record error")
	}
	if done.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", done.RetryCount)
	}
}

func TestPublishedJobIsNotMutatedByWorker(t *testing.T) {
	store := NewStore()
	queue := NewQueue(10, store)
	defer queue.Close()

	release := make(chan struct{})
	handler := func(ctx context.Context, job jobs.Job) error {
		<-release
		return nil
	}

	if err := queue.Start(context.Background(), handler); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job := &jobs.ExtractReceiptJob{
		Image:    []byte("fake image"),
		MimeType: "image/png",
	}
	if err := queue.PublishExtractReceipt(context.Background(), job); err != nil {
		t.Fatalf("PublishExtractReceipt() error = %v", err)
	}

	// The caller keeps ownership: reading status for a 202 response
	// must see what publish set, even while a worker is running.
	if job.Status != jobs.JobStatusPending {
		t.Errorf("caller-side Status = %s, want %s", job.Status, jobs.JobStatusPending)
	}

	close(release)
	waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)

	// The worker processed its own copy; the caller's struct is
	// untouched after completion too.
	if job.Status != jobs.JobStatusPending {
		t.Errorf("caller-side Status mutated to %s after processing", job.Status)
	}
	if job.StartedAt != nil || job.CompletedAt != nil {
		t.Error("caller-side timestamps mutated by worker")
	}
}

func TestQueuePublishAfterClose(t *testing.T) {
	queue := NewQueue(1, nil)
	if err := queue.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	err := queue.PublishExtractReceipt(context.Background(), &jobs.ExtractReceiptJob{})
	if err == nil {
		t.Error("expected publish on closed queue to fail")
	}
}

func TestStoreListJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		status := jobs.JobStatusCompleted
		if i%2 == 0 {
			status = jobs.JobStatusFailed
		}
		job := &jobs.ExtractReceiptJob{
			JobID:     fmt.Sprintf("job-%d", i),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob() error = %v", err)
		}
	}

	all, err := store.ListJobs(ctx, jobs.JobFilter{})
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("ListJobs() returned %d jobs, want 5", len(all))
	}
	if all[0].JobID != "job-4" {
		t.Errorf("first job = %s, want newest job-4", all[0].JobID)
	}

	failed, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	if err != nil {
		t.Fatalf("ListJobs(failed) error = %v", err)
	}
	if len(failed) != 3 {
		t.Errorf("ListJobs(failed) returned %d jobs, want 3", len(failed))
	}

	page, err := store.ListJobs(ctx, jobs.JobFilter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListJobs(paged) error = %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("ListJobs(paged) returned %d jobs, want 2", len(page))
	}
	if page[0].JobID != "job-3" {
		t.Errorf("paged first job = %s, want job-3", page[0].JobID)
	}
}

func TestStoreGetJobReturnsCopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	job := &jobs.ExtractReceiptJob{JobID: "j1", Status: jobs.JobStatusPending}
	if err := store.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}

	got, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	got.Status = jobs.JobStatusFailed

	again, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if again.Status != jobs.JobStatusPending {
		t.Errorf("store state mutated through returned copy: status = %s", again.Status)
	}

	if _, err := store.GetJob(ctx, "missing"); err == nil {
		t.Error("expected error for unknown job ID")
	}
}
