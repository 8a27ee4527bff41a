package database

import (
	"log"
	"sync"
)

const writerBufferSize = 256

// Writer queues call rows for upsert on a background worker so call
// cleanup never blocks on MySQL. A failed pool initialisation disables
// persistence for the rest of the run with a single warning.
type Writer struct {
	repo *Repository

	mu       sync.Mutex
	rows     chan *CallRow
	done     chan struct{}
	wg       sync.WaitGroup
	running  bool
	disabled bool
	warned   bool
}

// NewWriter creates a writer over the repository.
func NewWriter(repo *Repository) *Writer {
	return &Writer{
		repo: repo,
		rows: make(chan *CallRow, writerBufferSize),
		done: make(chan struct{}),
	}
}

// Start launches the background worker.
func (w *Writer) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.worker()
	log.Println("[DB] Writer started")
}

// Stop drains the queue and stops the worker.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.rows)
	w.wg.Wait()
	log.Println("[DB] Writer stopped")
}

// Reset re-enables persistence after a /start config re-read.
func (w *Writer) Reset() {
	w.mu.Lock()
	w.disabled = false
	w.warned = false
	w.mu.Unlock()
}

// Enqueue schedules one upsert. Never blocks; a full buffer drops the
// row with a log line.
func (w *Writer) Enqueue(row *CallRow) {
	w.mu.Lock()
	disabled := w.disabled
	w.mu.Unlock()
	if disabled {
		return
	}

	select {
	case w.rows <- row:
	default:
		log.Printf("[DB] Writer buffer full, dropping row for call %s", row.CallID)
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for row := range w.rows {
		w.mu.Lock()
		disabled := w.disabled
		w.mu.Unlock()
		if disabled {
			continue
		}

		// A pool that cannot initialise poisons every later write, so
		// give up for the run with one warning instead of repeating the
		// same error per call.
		if _, err := w.repo.conn.Get(); err != nil {
			w.mu.Lock()
			if !w.warned {
				w.warned = true
				log.Printf("[DB] Persistence disabled for this run: %v", err)
			}
			w.disabled = true
			w.mu.Unlock()
			continue
		}

		if err := w.repo.UpsertCall(row); err != nil {
			log.Printf("[DB] Upsert failed for call %s: %v", row.CallID, err)
		}
	}
}
