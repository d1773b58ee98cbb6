// Copyright 2025 ResearchFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// AuditLogger records every research request to PostgreSQL. Writes are
// queued and batched off the request path; when no database is configured
// the logger degrades to a no-op.
type AuditLogger struct {
	db           *sql.DB
	batchWriter  *auditBatchWriter
	auditQueue   chan *AuditEntry
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// AuditEntry is one research request record.
type AuditEntry struct {
	ID             string    `json:"id"`
	RequestID      string    `json:"request_id"`
	Timestamp      time.Time `json:"timestamp"`
	Question       string    `json:"question"`
	QuestionHash   string    `json:"question_hash"`
	Status         string    `json:"status"` // "completed", "failed"
	LoopsExecuted  int       `json:"loops_executed"`
	TotalQueries   int       `json:"total_queries"`
	SourceCount    int       `json:"source_count"`
	QualityScore   float64   `json:"quality_score"`
	Strategy       string    `json:"strategy"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	AnswerSample   string    `json:"answer_sample"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// auditBatchWriter accumulates entries and flushes them in one multi-row
// INSERT.
type auditBatchWriter struct {
	db        *sql.DB
	batchSize int
	entries   []*AuditEntry
	mu        sync.Mutex
}

// NewAuditLogger creates the logger. An empty databaseURL or a failed
// connection yields a functional no-op logger.
func NewAuditLogger(databaseURL string) *AuditLogger {
	logger := &AuditLogger{
		auditQueue:   make(chan *AuditEntry, 10000),
		shutdownChan: make(chan struct{}),
	}

	if databaseURL == "" {
		log.Println("[AuditLogger] No database configured, audit logging disabled")
		return logger
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Printf("[AuditLogger] Failed to open audit database: %v", err)
		return logger
	}

	if err := createAuditTables(db); err != nil {
		log.Printf("[AuditLogger] Failed to create audit tables: %v", err)
	}

	logger.db = db
	logger.batchWriter = &auditBatchWriter{db: db, batchSize: 100}

	logger.wg.Add(1)
	go logger.processAuditQueue()

	return logger
}

// NewAuditLoggerWithDB wires an existing database handle (tests).
func NewAuditLoggerWithDB(db *sql.DB) *AuditLogger {
	logger := &AuditLogger{
		db:           db,
		batchWriter:  &auditBatchWriter{db: db, batchSize: 100},
		auditQueue:   make(chan *AuditEntry, 10000),
		shutdownChan: make(chan struct{}),
	}
	logger.wg.Add(1)
	go logger.processAuditQueue()
	return logger
}

// LogCompletedResearch records a successful research request.
func (l *AuditLogger) LogCompletedResearch(requestID, question, strategy string, result *ResearchResult, qualityScore float64, responseTime time.Duration) *AuditEntry {
	entry := &AuditEntry{
		ID:             uuid.NewString(),
		RequestID:      requestID,
		Timestamp:      time.Now().UTC(),
		Question:       question,
		QuestionHash:   hashQuestion(question),
		Status:         "completed",
		LoopsExecuted:  result.LoopsExecuted,
		TotalQueries:   result.TotalQueries,
		SourceCount:    len(result.Sources),
		QualityScore:   qualityScore,
		Strategy:       strategy,
		ResponseTimeMS: responseTime.Milliseconds(),
		AnswerSample:   truncateForLog(result.FinalAnswer),
	}

	l.enqueueEntry(entry)
	return entry
}

// LogFailedResearch records a failed research request.
func (l *AuditLogger) LogFailedResearch(requestID, question, strategy string, err error, responseTime time.Duration) {
	entry := &AuditEntry{
		ID:             uuid.NewString(),
		RequestID:      requestID,
		Timestamp:      time.Now().UTC(),
		Question:       question,
		QuestionHash:   hashQuestion(question),
		Status:         "failed",
		Strategy:       strategy,
		ResponseTimeMS: responseTime.Milliseconds(),
		ErrorMessage:   err.Error(),
	}

	l.enqueueEntry(entry)
}

// IsHealthy reports whether the logger can accept entries. A no-op logger
// is healthy.
func (l *AuditLogger) IsHealthy() bool {
	if l.db == nil {
		return true
	}
	return l.db.Ping() == nil
}

// Shutdown flushes the queue and stops the background worker.
func (l *AuditLogger) Shutdown() {
	l.shutdownOnce.Do(func() {
		close(l.shutdownChan)
	})
	l.wg.Wait()
	if l.batchWriter != nil {
		l.batchWriter.flush()
	}
	if l.db != nil {
		_ = l.db.Close()
	}
}

func (l *AuditLogger) enqueueEntry(entry *AuditEntry) {
	if l.db == nil {
		return
	}
	select {
	case l.auditQueue <- entry:
	default:
		log.Printf("[AuditLogger] Queue full, dropping entry for request %s", entry.RequestID)
	}
}

func (l *AuditLogger) processAuditQueue() {
	defer l.wg.Done()

	flushTicker := time.NewTicker(5 * time.Second)
	defer flushTicker.Stop()

	for {
		select {
		case entry := <-l.auditQueue:
			l.batchWriter.add(entry)
		case <-flushTicker.C:
			l.batchWriter.flush()
		case <-l.shutdownChan:
			// Drain whatever is queued before exiting.
			for {
				select {
				case entry := <-l.auditQueue:
					l.batchWriter.add(entry)
				default:
					return
				}
			}
		}
	}
}

func (w *auditBatchWriter) add(entry *AuditEntry) {
	w.mu.Lock()
	w.entries = append(w.entries, entry)
	full := len(w.entries) >= w.batchSize
	w.mu.Unlock()

	if full {
		w.flush()
	}
}

func (w *auditBatchWriter) flush() {
	w.mu.Lock()
	if len(w.entries) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.entries
	w.entries = nil
	w.mu.Unlock()

	if err := w.writeBatch(batch); err != nil {
		log.Printf("[AuditLogger] Failed to write %d audit entries: %v", len(batch), err)
	}
}

func (w *auditBatchWriter) writeBatch(batch []*AuditEntry) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO research_audit_log (
			id, request_id, timestamp, question, question_hash, status,
			loops_executed, total_queries, source_count, quality_score,
			strategy, response_time_ms, answer_sample, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, e := range batch {
		if _, err := stmt.Exec(
			e.ID, e.RequestID, e.Timestamp, e.Question, e.QuestionHash, e.Status,
			e.LoopsExecuted, e.TotalQueries, e.SourceCount, e.QualityScore,
			e.Strategy, e.ResponseTimeMS, e.AnswerSample, e.ErrorMessage,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert audit entry %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

func createAuditTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS research_audit_log (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			question TEXT NOT NULL,
			question_hash TEXT NOT NULL,
			status TEXT NOT NULL,
			loops_executed INT NOT NULL DEFAULT 0,
			total_queries INT NOT NULL DEFAULT 0,
			source_count INT NOT NULL DEFAULT 0,
			quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			strategy TEXT NOT NULL DEFAULT '',
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			answer_sample TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_research_audit_request_id
			ON research_audit_log (request_id);
		CREATE INDEX IF NOT EXISTS idx_research_audit_timestamp
			ON research_audit_log (timestamp)`)
	return err
}

func hashQuestion(question string) string {
	sum := sha256.Sum256([]byte(question))
	return hex.EncodeToString(sum[:])
}
