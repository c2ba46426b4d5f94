// Package service hosts background workers that run alongside the gateway
package service

import (
	"bitwise74/canvas-api/internal/model"
	"bitwise74/canvas-api/internal/store"
	"sync/atomic"

	"go.uber.org/zap"
)

// WriteJob is one accepted draw waiting to be persisted.
type WriteJob struct {
	Cell   model.Cell
	Action model.Action
}

// Writer persists accepted draws off the hot path. Persistence is
// best-effort by contract: the draw was already debited and broadcast,
// so a failed or dropped write is logged and the visible state wins
// over log completeness.
type Writer struct {
	Store *store.CanvasStore

	jobs    chan WriteJob
	workers int
	dropped atomic.Int64
}

func NewWriter(s *store.CanvasStore, workers, queueSize int) *Writer {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	return &Writer{
		Store:   s,
		jobs:    make(chan WriteJob, queueSize),
		workers: workers,
	}
}

func (w *Writer) StartWorkerPool() {
	zap.L().Debug("Starting canvas writer pool", zap.Int("workers", w.workers))

	for range w.workers {
		go w.worker()
	}
}

// Enqueue never blocks the caller. A full queue sheds the job.
func (w *Writer) Enqueue(job WriteJob) {
	select {
	case w.jobs <- job:
	default:
		n := w.dropped.Add(1)
		zap.L().Warn("Writer queue full, dropping persistence job",
			zap.Int64("dropped_total", n),
			zap.Int("x", job.Cell.X),
			zap.Int("y", job.Cell.Y))
	}
}

func (w *Writer) worker() {
	for job := range w.jobs {
		if err := w.Store.UpsertCell(&job.Cell); err != nil {
			zap.L().Error("Failed to persist cell", zap.Error(err))
		}

		if err := w.Store.AppendAction(&job.Action); err != nil {
			zap.L().Error("Failed to append action", zap.Error(err))
		}
	}
}

// Close drains no further jobs; workers exit after the queue empties.
func (w *Writer) Close() {
	close(w.jobs)
}
