// Package session runs ingestion passes in the background and serves the
// resulting record tables to the API.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracelens/backend/internal/metrics"
	"github.com/tracelens/backend/internal/models"
	"github.com/tracelens/backend/internal/parser"
	"github.com/tracelens/backend/internal/upload"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrNotReady is returned when a session has no table yet.
	ErrNotReady = errors.New("session not ready")
)

// DefaultMaxSessions limits concurrent sessions to prevent memory exhaustion
const DefaultMaxSessions = 10

// SessionKeepAliveWindow is how long to keep sessions that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

// Options configures a Manager.
type Options struct {
	// TempDir receives expanded .gz inputs.
	TempDir string
	// RecordsDir enables spilling finished tables to DuckDB when set.
	RecordsDir  string
	MaxSessions int
	Registry    *parser.Registry
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// StartRequest describes one ingestion.
type StartRequest struct {
	FileID   string
	FilePath string
	Schema   models.Schema
	// ObjectMode forces the decoder; nil detects it from the file content.
	ObjectMode *bool
	// Profile names the profile the schema came from, if any.
	Profile string
}

type sessionState struct {
	session  *models.ParseSession
	req      StartRequest
	table    *models.Table
	store    *parser.RecordStore
	cancel   context.CancelFunc
	done     chan struct{}
	accessed time.Time
}

// Manager handles active log parsing sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	opts     Options
	logger   *slog.Logger
}

// NewManager creates a new session manager.
func NewManager(opts Options) *Manager {
	if opts.Registry == nil {
		opts.Registry = parser.GetGlobalRegistry()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*sessionState),
		opts:     opts,
		logger:   logger.With("component", "session"),
	}
}

// Start begins ingesting a file in the background.
func (m *Manager) Start(req StartRequest) (*models.ParseSession, error) {
	if err := req.Schema.Validate(); err != nil {
		return nil, err
	}
	m.cleanupOldSessionsIfNeeded()

	sess := models.NewParseSession(uuid.New().String(), req.FileID)
	sess.Profile = req.Profile
	state := &sessionState{session: sess, req: req, accessed: time.Now()}

	m.mu.Lock()
	m.sessions[sess.ID] = state
	m.launch(state)
	snapshot := *sess
	m.mu.Unlock()

	m.setActiveGauge()
	return &snapshot, nil
}

// launch starts the ingestion goroutine. Must be called with m.mu held.
func (m *Manager) launch(state *sessionState) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	state.cancel = cancel
	state.done = done
	state.session.Status = models.SessionStatusParsing
	state.session.Progress = 0
	state.session.Errors = make([]models.ParseError, 0)

	go m.runParse(ctx, state, done)
}

// Reload re-ingests the session's file with a fresh thread color table.
func (m *Manager) Reload(id string) (*models.ParseSession, error) {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !state.session.Done() {
		state.cancel()
	}
	done := state.done
	m.mu.Unlock()

	<-done

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[id] != state {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// A concurrent reload already relaunched the session.
	if state.done != done {
		snapshot := *state.session
		return &snapshot, nil
	}
	if state.store != nil {
		state.store.Close(true)
		state.store = nil
	}
	state.table = nil
	state.accessed = time.Now()
	m.launch(state)
	snapshot := *state.session
	return &snapshot, nil
}

func (m *Manager) runParse(ctx context.Context, state *sessionState, done chan struct{}) {
	sess := state.session
	log := m.logger.With("session", sess.ID, "file", state.req.FileID)
	start := time.Now()
	decoderName := "unknown"

	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			log.Error("parse panicked", "panic", r)
			m.fail(state, fmt.Sprintf("parse panicked: %v", r))
			m.opts.Metrics.ObserveIngest(decoderName, "error", time.Since(start), nil)
		}
	}()

	path, cleanup, err := upload.ExpandToTemp(ctx, state.req.FilePath, m.opts.TempDir)
	if err != nil {
		log.Error("failed to expand archive", "error", err)
		m.fail(state, err.Error())
		if ctx.Err() != nil {
			m.mu.Lock()
			sess.Status = models.SessionStatusCancelled
			m.mu.Unlock()
		}
		m.opts.Metrics.ObserveIngest(decoderName, "error", time.Since(start), nil)
		return
	}
	defer cleanup()

	p, err := m.pickParser(path, state.req.ObjectMode)
	if err != nil {
		m.fail(state, err.Error())
		return
	}
	decoderName = p.Name()
	log.Info("starting parse", "path", path, "decoder", decoderName)

	m.mu.Lock()
	sess.Decoder = decoderName
	sess.ObjectMode = decoderName == "object"
	m.mu.Unlock()

	onProgress := func(lines int, bytesRead, totalBytes int64) {
		progress := 0.0
		if totalBytes > 0 {
			progress = float64(bytesRead) * 90.0 / float64(totalBytes)
		}
		if progress > 89.9 {
			progress = 89.9
		}
		m.mu.Lock()
		sess.Progress = progress
		sess.LinesProcessed = lines
		m.mu.Unlock()
	}

	table, err := p.ParseWithProgress(ctx, path, state.req.Schema, onProgress)
	elapsed := time.Since(start)

	if errors.Is(err, context.Canceled) && table != nil {
		log.Info("parse cancelled", "lines", len(table.Records))
		m.mu.Lock()
		state.table = table
		sess.Status = models.SessionStatusCancelled
		sess.RecordCount = len(table.Records)
		sess.ProcessingTimeMs = elapsed.Milliseconds()
		m.mu.Unlock()
		m.opts.Metrics.ObserveIngest(decoderName, "cancelled", elapsed, &table.Summary)
		return
	}
	if err != nil {
		log.Error("parse failed", "error", err)
		m.fail(state, fmt.Sprintf("parse failed: %v", err))
		m.opts.Metrics.ObserveIngest(decoderName, "error", elapsed, nil)
		return
	}

	var store *parser.RecordStore
	if m.opts.RecordsDir != "" {
		store, err = parser.NewRecordStore(m.opts.RecordsDir, sess.ID)
		if err == nil {
			err = store.Write(ctx, table)
		}
		if err != nil {
			log.Warn("failed to persist records, serving from memory", "error", err)
			if store != nil {
				store.Close(true)
			}
			store = nil
		}
	}

	m.mu.Lock()
	state.table = table
	state.store = store
	sess.Status = models.SessionStatusComplete
	sess.Progress = 100
	sess.LinesProcessed = table.Summary.Lines
	sess.RecordCount = len(table.Records)
	sess.ThreadCount = len(table.Threads)
	sess.ProcessingTimeMs = elapsed.Milliseconds()
	m.mu.Unlock()

	m.opts.Metrics.ObserveIngest(decoderName, "complete", elapsed, &table.Summary)
	log.Info("parse complete", "records", len(table.Records), "threads", len(table.Threads), "elapsed", elapsed)
}

func (m *Manager) pickParser(path string, objectMode *bool) (parser.Parser, error) {
	if objectMode != nil {
		name := "text"
		if *objectMode {
			name = "object"
		}
		return m.opts.Registry.GetParserByName(name)
	}
	return m.opts.Registry.FindParser(path)
}

func (m *Manager) fail(state *sessionState, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state.session.Status = models.SessionStatusError
	state.session.Errors = append(state.session.Errors, models.ParseError{Reason: reason})
}

// Cancel stops a running ingestion. The records read so far are kept.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	state, ok := m.sessions[id]
	var cancel context.CancelFunc
	if ok {
		cancel = state.cancel
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cancel()
	return nil
}

// Wait blocks until the session's current ingestion has finished.
func (m *Manager) Wait(ctx context.Context, id string) (*models.ParseSession, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	var done chan struct{}
	if ok {
		done = state.done
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	sess, _ := m.GetSession(id)
	return sess, nil
}

// GetSession returns a snapshot of a session.
func (m *Manager) GetSession(id string) (*models.ParseSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	snapshot := *state.session
	snapshot.Errors = append([]models.ParseError(nil), state.session.Errors...)
	return &snapshot, true
}

// ListSessions returns snapshots of every session, newest ids first.
func (m *Manager) ListSessions() []*models.ParseSession {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	out := make([]*models.ParseSession, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.GetSession(id); ok {
			out = append(out, s)
		}
	}
	return out
}

// TouchSession updates the last access time so the session is not cleaned up.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.accessed = time.Now()
	return true
}

// table returns the session's table. Cancelled sessions serve their partial table.
func (m *Manager) table(id string) (*models.Table, *parser.RecordStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	state.accessed = time.Now()
	if state.table == nil {
		return nil, nil, fmt.Errorf("%w: %s is %s", ErrNotReady, id, state.session.Status)
	}
	return state.table, state.store, nil
}

// Records returns one 1-based page of records and the total they are drawn from.
func (m *Manager) Records(ctx context.Context, id string, page, pageSize int, visibleOnly bool) ([]models.Record, int, error) {
	table, store, err := m.table(id)
	if err != nil {
		return nil, 0, err
	}
	if store != nil {
		return store.Page(ctx, page, pageSize, visibleOnly)
	}

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 200
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	src := table.Records
	if visibleOnly {
		src = table.Visible()
	}
	total := len(src)
	start := (page - 1) * pageSize
	if start >= total {
		return []models.Record{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	out := make([]models.Record, end-start)
	copy(out, src[start:end])
	return out, total, nil
}

// Schema returns the schema the session was ingested with.
func (m *Manager) Schema(id string) (models.Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.sessions[id]
	if !ok {
		return models.Schema{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return state.req.Schema.Clone(), nil
}

// Summary returns the ingestion counters.
func (m *Manager) Summary(id string) (models.Summary, error) {
	table, _, err := m.table(id)
	if err != nil {
		return models.Summary{}, err
	}
	return table.Summary, nil
}

// Threads returns the thread ids in first-seen order with their colors.
func (m *Manager) Threads(id string) ([]models.ThreadInfo, error) {
	table, _, err := m.table(id)
	if err != nil {
		return nil, err
	}
	return table.Threads, nil
}

// Validate runs the structural validator over the session's records.
func (m *Manager) Validate(ctx context.Context, id string) (*models.ValidationReport, error) {
	table, _, err := m.table(id)
	if err != nil {
		return nil, err
	}
	report, err := parser.Validate(ctx, &table.Schema, table.Records)
	m.opts.Metrics.ObserveValidation(report, err)
	return report, err
}

// Search finds the next record containing query. See parser.Search.
func (m *Manager) Search(ctx context.Context, id, query string, start, column int) (int, error) {
	table, _, err := m.table(id)
	if err != nil {
		return parser.NotFound, err
	}
	return parser.Search(ctx, table.Records, query, start, column), nil
}

// Exceptions lists the lines mentioning an exception.
func (m *Manager) Exceptions(ctx context.Context, id string) ([]int, error) {
	table, _, err := m.table(id)
	if err != nil {
		return nil, err
	}
	return parser.FindExceptions(ctx, table.Records)
}

// SetThreadFilter hides records of threads not listed. An empty list shows
// every record again. Records are never removed.
func (m *Manager) SetThreadFilter(ctx context.Context, id string, threads []string) error {
	table, store, err := m.table(id)
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(threads))
	for _, t := range threads {
		keep[t] = struct{}{}
	}

	m.mu.Lock()
	for i := range table.Records {
		r := &table.Records[i]
		if len(keep) == 0 {
			r.Hidden = false
			continue
		}
		_, ok := keep[table.ThreadID(r)]
		r.Hidden = !ok
	}
	m.mu.Unlock()

	if store != nil {
		return store.SetThreadFilter(ctx, threads)
	}
	return nil
}

// Report gathers the summary, a fresh validation and the exception lines.
func (m *Manager) Report(ctx context.Context, id, fileName string) (*parser.ResultReport, error) {
	table, _, err := m.table(id)
	if err != nil {
		return nil, err
	}
	validation, err := m.Validate(ctx, id)
	if err != nil {
		return nil, err
	}
	exceptions, err := parser.FindExceptions(ctx, table.Records)
	if err != nil {
		return nil, err
	}
	return &parser.ResultReport{
		File:       fileName,
		Summary:    table.Summary,
		Validation: validation,
		Exceptions: exceptions,
	}, nil
}

// Delete cancels and removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	state, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m.release(state)
	m.setActiveGauge()
	return nil
}

func (m *Manager) release(state *sessionState) {
	state.cancel()
	go func() {
		<-state.done
		if state.store != nil {
			state.store.Close(true)
		}
	}()
}

// cleanupOldSessionsIfNeeded drops the least recently used finished sessions
// when the session limit is reached.
func (m *Manager) cleanupOldSessionsIfNeeded() {
	m.mu.Lock()
	if len(m.sessions) < m.opts.MaxSessions {
		m.mu.Unlock()
		return
	}

	var finished []*sessionState
	for _, state := range m.sessions {
		if state.session.Done() {
			finished = append(finished, state)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].accessed.Before(finished[j].accessed)
	})

	toFree := len(m.sessions) - m.opts.MaxSessions + 1
	var dropped []*sessionState
	for _, state := range finished {
		if len(dropped) >= toFree {
			break
		}
		delete(m.sessions, state.session.ID)
		dropped = append(dropped, state)
	}
	m.mu.Unlock()

	for _, state := range dropped {
		m.release(state)
		m.logger.Info("cleaned up session to free memory", "session", state.session.ID)
	}
	m.setActiveGauge()
}

// CleanupOldSessions removes finished sessions not accessed within maxAge,
// sparing those touched within SessionKeepAliveWindow.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) {
	if maxAge < SessionKeepAliveWindow {
		maxAge = SessionKeepAliveWindow
	}
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var dropped []*sessionState
	for id, state := range m.sessions {
		if !state.session.Done() || state.accessed.After(cutoff) {
			continue
		}
		delete(m.sessions, id)
		dropped = append(dropped, state)
	}
	m.mu.Unlock()

	for _, state := range dropped {
		m.release(state)
		m.logger.Info("cleaned up aged session", "session", state.session.ID,
			"idle", time.Since(state.accessed).Round(time.Second))
	}
	m.setActiveGauge()
}

// Close cancels every session and releases their stores.
func (m *Manager) Close() {
	m.mu.Lock()
	states := make([]*sessionState, 0, len(m.sessions))
	for id, state := range m.sessions {
		states = append(states, state)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, state := range states {
		state.cancel()
		<-state.done
		if state.store != nil {
			state.store.Close(true)
		}
	}
	m.setActiveGauge()
}

func (m *Manager) setActiveGauge() {
	if m.opts.Metrics == nil {
		return
	}
	m.mu.RLock()
	n := len(m.sessions)
	m.mu.RUnlock()
	m.opts.Metrics.ActiveSessions.Set(float64(n))
}
