package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

type processorFake struct {
	processed   []string
	reprocessed []string
	batch       []string
	failID      string
	batchResult domain.BatchResult
}

func (f *processorFake) ProcessByID(_ context.Context, id string) error {
	f.processed = append(f.processed, id)
	if id == f.failID {
		return errors.New("ocr exploded")
	}
	return nil
}

func (f *processorFake) Reprocess(_ context.Context, id string) error {
	f.reprocessed = append(f.reprocessed, id)
	return nil
}

func (f *processorFake) ProcessBatch(_ context.Context, ids []string) domain.BatchResult {
	f.batch = append(f.batch, ids...)
	return f.batchResult
}

type jobObserverFake struct {
	started  int
	finished []domain.JobKind
	errs     []error
}

func (f *jobObserverFake) StartJob() { f.started++ }

func (f *jobObserverFake) FinishJob(kind domain.JobKind, _ time.Duration, err error) {
	f.finished = append(f.finished, kind)
	f.errs = append(f.errs, err)
}

func TestJobHandlerRoutesByKind(t *testing.T) {
	processor := &processorFake{batchResult: domain.BatchResult{Total: 2, Succeeded: 2}}
	observer := &jobObserverFake{}
	handler := NewJobHandler(processor, observer)
	ctx := context.Background()

	jobs := []domain.ProcessingJob{
		{Kind: domain.JobProcess, DocumentIDs: []string{"doc-1"}},
		{Kind: domain.JobReprocess, DocumentIDs: []string{"doc-2"}},
		{Kind: domain.JobBatch, DocumentIDs: []string{"doc-3", "doc-4"}, RequestedBy: "exp-1"},
	}
	for _, job := range jobs {
		if err := handler.Handle(ctx, job); err != nil {
			t.Fatalf("Handle(%s) error = %v", job.Kind, err)
		}
	}

	if len(processor.processed) != 1 || processor.processed[0] != "doc-1" {
		t.Fatalf("unexpected processed ids: %v", processor.processed)
	}
	if len(processor.reprocessed) != 1 || processor.reprocessed[0] != "doc-2" {
		t.Fatalf("unexpected reprocessed ids: %v", processor.reprocessed)
	}
	if len(processor.batch) != 2 {
		t.Fatalf("unexpected batch ids: %v", processor.batch)
	}
	if observer.started != 3 || len(observer.finished) != 3 {
		t.Fatalf("expected three observed jobs, got started=%d finished=%v", observer.started, observer.finished)
	}
}

func TestJobHandlerContinuesAfterFailure(t *testing.T) {
	processor := &processorFake{failID: "doc-1"}
	observer := &jobObserverFake{}
	handler := NewJobHandler(processor, observer)

	err := handler.Handle(context.Background(), domain.ProcessingJob{Kind: domain.JobProcess, DocumentIDs: []string{"doc-1", "doc-2"}})
	if err == nil {
		t.Fatalf("expected error for failed document")
	}
	if len(processor.processed) != 2 {
		t.Fatalf("expected both documents attempted, got %v", processor.processed)
	}
	if observer.errs[0] == nil {
		t.Fatalf("expected failure reported to observer")
	}
}

func TestJobHandlerBatchFailuresAreReported(t *testing.T) {
	processor := &processorFake{batchResult: domain.BatchResult{Total: 2, Succeeded: 1, Failed: 1}}
	handler := NewJobHandler(processor, nil)

	if err := handler.Handle(context.Background(), domain.ProcessingJob{Kind: domain.JobBatch, DocumentIDs: []string{"a", "b"}}); err == nil {
		t.Fatalf("expected error when part of the batch fails")
	}
}

func TestJobHandlerRejectsUnknownKind(t *testing.T) {
	handler := NewJobHandler(&processorFake{}, nil)

	err := handler.Handle(context.Background(), domain.ProcessingJob{Kind: "purge", DocumentIDs: []string{"doc-1"}})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
