// Package scorestore persists scoring runs and their per-cell and per-sample
// results using SQLite.
package scorestore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ARyaskov/kira-nuclearqc/internal/scoring"
)

var (
	// ErrNotFound is returned when a run does not exist.
	ErrNotFound = errors.New("run not found")
	// ErrNotQueued is returned when a transition requires a queued run and
	// the run has already left that state.
	ErrNotQueued = errors.New("run is not queued")
)

// RunStatus represents the current state of a run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunParams are the inputs a run was started with.
type RunParams struct {
	InputDir        string   `json:"input_dir"`
	MetaPath        string   `json:"meta,omitempty"`
	OutDir          string   `json:"out_dir,omitempty"`
	Mode            string   `json:"mode"`
	RunMode         string   `json:"run_mode"`
	Profile         string   `json:"profile"`
	StrictNuclear   bool     `json:"strict_nuclear"`
	Normalize       bool     `json:"normalize"`
	CacheNormalized bool     `json:"cache_normalized"`
	PanelsFile      string   `json:"panels_file,omitempty"`
	KeyPanels       []string `json:"key_panels,omitempty"`
}

// Run is one scoring run.
type Run struct {
	ID         string     `json:"run_id"`
	Status     RunStatus  `json:"status"`
	Params     RunParams  `json:"params"`
	NCells     int        `json:"n_cells"`
	NGenes     int        `json:"n_genes"`
	Species    string     `json:"species"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// CellScore is the stored form of one finalized cell.
type CellScore struct {
	Cell       int     `json:"cell"`
	Barcode    string  `json:"barcode"`
	Sample     string  `json:"sample"`
	Condition  string  `json:"condition"`
	Confidence float64 `json:"confidence"`
	TBI        float64 `json:"a1_tbi"`
	RCI        float64 `json:"a2_rci"`
	PDS        float64 `json:"a3_pds"`
	TRS        float64 `json:"a4_trs"`
	NSAI       float64 `json:"a5_nsai"`
	IAA        float64 `json:"a6_iaa"`
	DFA        float64 `json:"a7_dfa"`
	CEA        float64 `json:"a8_cea"`
	RSS        float64 `json:"rss"`
	DRBI       float64 `json:"drbi"`
	CCI        float64 `json:"cci"`
	TRCI       float64 `json:"trci"`
	NPS        float64 `json:"c1_nps"`
	CI         float64 `json:"c2_ci"`
	RLS        float64 `json:"c3_rls"`
	Regime     string  `json:"regime"`
	Flags      string  `json:"flags"`
}

// RegimeCount is the number of cells of a run in one regime.
type RegimeCount struct {
	Regime string `json:"regime"`
	Count  int    `json:"count"`
}

// CellQuery filters and pages stored cells.
type CellQuery struct {
	Regime  string
	Flag    string
	OrderBy string
	Offset  int
	Limit   int
}

// valueColumns maps the names accepted by AxisValues and order_by to
// columns. Anything else is rejected or falls back to the default order.
var valueColumns = map[string]string{
	"confidence": "confidence",
	"tbi":        "tbi",
	"rci":        "rci",
	"pds":        "pds",
	"trs":        "trs",
	"nsai":       "nsai",
	"iaa":        "iaa",
	"dfa":        "dfa",
	"cea":        "cea",
	"rss":        "rss",
	"drbi":       "drbi",
	"cci":        "cci",
	"trci":       "trci",
	"nps":        "nps",
	"ci":         "ci",
	"rls":        "rls",
}

// ValueNames lists the metrics AxisValues accepts.
func ValueNames() []string {
	out := append([]string(nil), scoring.AxisNames[:]...)
	return append(out, "nps", "ci", "rls", "confidence")
}

// timeLayout is fixed-width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func now() string { return time.Now().UTC().Format(timeLayout) }

// Store provides persistent storage for runs using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based score store.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		n_cells INTEGER DEFAULT 0,
		n_genes INTEGER DEFAULT 0,
		species TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at);

	CREATE TABLE IF NOT EXISTS cell_scores (
		run_id TEXT NOT NULL,
		cell_idx INTEGER NOT NULL,
		barcode TEXT NOT NULL,
		sample TEXT NOT NULL,
		condition TEXT NOT NULL,
		confidence REAL NOT NULL,
		tbi REAL NOT NULL,
		rci REAL NOT NULL,
		pds REAL NOT NULL,
		trs REAL NOT NULL,
		nsai REAL NOT NULL,
		iaa REAL NOT NULL,
		dfa REAL NOT NULL,
		cea REAL NOT NULL,
		rss REAL NOT NULL,
		drbi REAL NOT NULL,
		cci REAL NOT NULL,
		trci REAL NOT NULL,
		nps REAL NOT NULL,
		ci REAL NOT NULL,
		rls REAL NOT NULL,
		regime TEXT NOT NULL,
		flag_bits INTEGER NOT NULL,
		flags TEXT NOT NULL,
		PRIMARY KEY (run_id, cell_idx),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_cell_scores_regime ON cell_scores(run_id, regime);

	CREATE TABLE IF NOT EXISTS sample_scores (
		run_id TEXT NOT NULL,
		sample TEXT NOT NULL,
		record_json TEXT NOT NULL,
		PRIMARY KEY (run_id, sample),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun creates a new run record.
func (s *Store) CreateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, status, params_json, n_cells, n_genes, species, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Status),
		string(paramsJSON),
		run.NCells,
		run.NGenes,
		run.Species,
		run.Error,
		run.CreatedAt.UTC().Format(timeLayout),
		nil,
		nil,
	)
	return err
}

const runColumns = `run_id, status, params_json, n_cells, n_genes, species, error, created_at, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var paramsJSON string
	var createdAtStr string
	var startedAtStr, finishedAtStr sql.NullString

	err := row.Scan(
		&run.ID,
		&run.Status,
		&paramsJSON,
		&run.NCells,
		&run.NGenes,
		&run.Species,
		&run.Error,
		&createdAtStr,
		&startedAtStr,
		&finishedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}

	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAtStr.String)
		run.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339Nano, finishedAtStr.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListQueuedRuns returns all queued runs (for restart recovery).
func (s *Store) ListQueuedRuns() ([]*Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY created_at ASC`,
		string(RunStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkStarted moves a queued run to running. It returns ErrNotQueued when
// the run was cancelled, deleted or started elsewhere in the meantime.
func (s *Store) MarkStarted(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fromQueued(runID, `
		UPDATE runs SET status = ?, started_at = ?
		WHERE run_id = ? AND status = ?
	`, string(RunStatusRunning), now(), runID, string(RunStatusQueued))
}

// CancelQueued marks a run cancelled if it has not started yet. It returns
// ErrNotQueued otherwise.
func (s *Store) CancelQueued(runID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.fromQueued(runID, `
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE run_id = ? AND status = ?
	`, string(RunStatusCancelled), errMsg, now(), runID, string(RunStatusQueued))
}

func (s *Store) fromQueued(runID, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotQueued, runID)
	}
	return nil
}

// FinishRun sets the run status and, for terminal states, the finish time.
func (s *Store) FinishRun(runID string, status RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Finished() {
		t := now()
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE run_id = ?
	`, string(status), errMsg, finishedAt, runID)
	return err
}

// MarkRunningAsFailed marks all running runs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(RunStatusFailed), errMsg, now(), string(RunStatusRunning))
	return err
}

// NewCellScore converts a finalized record to its stored form.
func NewCellScore(r *scoring.CellRecord) CellScore {
	a := r.Axes
	return CellScore{
		Cell:       r.Cell,
		Barcode:    r.Barcode,
		Sample:     r.Sample,
		Condition:  r.Condition,
		Confidence: r.Confidence.Value,
		TBI:        a.TBI,
		RCI:        a.RCI,
		PDS:        a.PDS,
		TRS:        a.TRS,
		NSAI:       a.NSAI,
		IAA:        a.IAA,
		DFA:        a.DFA,
		CEA:        a.CEA,
		RSS:        a.RSS,
		DRBI:       a.DRBI,
		CCI:        a.CCI,
		TRCI:       a.TRCI,
		NPS:        r.Composites.NPS,
		CI:         r.Composites.CI,
		RLS:        r.Composites.RLS,
		Regime:     r.Regime.String(),
		Flags:      r.Flags.String(),
	}
}

// InsertResults stores the cells and samples of a run and its dataset
// dimensions in one transaction.
func (s *Store) InsertResults(runID string, nGenes int, species string, cells []scoring.CellRecord, samples []scoring.SampleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO cell_scores (run_id, cell_idx, barcode, sample, condition, confidence,
			tbi, rci, pds, trs, nsai, iaa, dfa, cea, rss, drbi, cci, trci, nps, ci, rls,
			regime, flag_bits, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range cells {
		r := &cells[i]
		c := NewCellScore(r)
		_, err := stmt.Exec(
			runID, c.Cell, c.Barcode, c.Sample, c.Condition, c.Confidence,
			c.TBI, c.RCI, c.PDS, c.TRS, c.NSAI, c.IAA, c.DFA, c.CEA,
			c.RSS, c.DRBI, c.CCI, c.TRCI, c.NPS, c.CI, c.RLS,
			c.Regime, int64(r.Flags), c.Flags,
		)
		if err != nil {
			return err
		}
	}

	for _, rec := range samples {
		recJSON, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal sample %q: %w", rec.Sample, err)
		}
		if _, err := tx.Exec(`INSERT INTO sample_scores (run_id, sample, record_json) VALUES (?, ?, ?)`,
			runID, rec.Sample, string(recJSON)); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`UPDATE runs SET n_cells = ?, n_genes = ?, species = ? WHERE run_id = ?`,
		len(cells), nGenes, species, runID); err != nil {
		return err
	}

	return tx.Commit()
}

// QueryCells queries cells with filters, pagination and ordering.
func (s *Store) QueryCells(runID string, q CellQuery) ([]CellScore, int, error) {
	orderCol := "barcode ASC, cell_idx ASC"
	if col, ok := valueColumns[q.OrderBy]; ok {
		orderCol = col + " DESC, barcode ASC, cell_idx ASC"
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where := "run_id = ?"
	args := []any{runID}
	if q.Regime != "" {
		where += " AND regime = ?"
		args = append(args, q.Regime)
	}
	if q.Flag != "" {
		f, ok := scoring.ParseFlag(q.Flag)
		if !ok {
			return nil, 0, fmt.Errorf("unknown flag %q", q.Flag)
		}
		where += " AND (flag_bits & ?) != 0"
		args = append(args, int64(f))
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM cell_scores WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT cell_idx, barcode, sample, condition, confidence,
			tbi, rci, pds, trs, nsai, iaa, dfa, cea, rss, drbi, cci, trci, nps, ci, rls,
			regime, flags
		FROM cell_scores
		WHERE %s
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, where, orderCol)

	rows, err := s.db.Query(query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []CellScore
	for rows.Next() {
		var c CellScore
		err := rows.Scan(
			&c.Cell, &c.Barcode, &c.Sample, &c.Condition, &c.Confidence,
			&c.TBI, &c.RCI, &c.PDS, &c.TRS, &c.NSAI, &c.IAA, &c.DFA, &c.CEA,
			&c.RSS, &c.DRBI, &c.CCI, &c.TRCI, &c.NPS, &c.CI, &c.RLS,
			&c.Regime, &c.Flags,
		)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, c)
	}

	return results, total, rows.Err()
}

// Samples returns the stored sample records of a run in sample order.
func (s *Store) Samples(runID string) ([]scoring.SampleRecord, error) {
	rows, err := s.db.Query(`SELECT record_json FROM sample_scores WHERE run_id = ? ORDER BY sample ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scoring.SampleRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec scoring.SampleRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sample: %w", err)
		}
		if r, ok := scoring.ParseRegime(rec.MajorityName); ok {
			rec.Majority = r
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RegimeCounts returns the per-regime cell counts of a run in report order,
// including regimes with no cells.
func (s *Store) RegimeCounts(runID string) ([]RegimeCount, error) {
	rows, err := s.db.Query(`SELECT regime, COUNT(*) FROM cell_scores WHERE run_id = ? GROUP BY regime`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]RegimeCount, 0, len(scoring.ReportOrder))
	for _, r := range scoring.ReportOrder {
		out = append(out, RegimeCount{Regime: r.String(), Count: counts[r.String()]})
	}
	return out, nil
}

// AxisValues returns every cell's value of one axis, composite or
// confidence, in cell order.
func (s *Store) AxisValues(runID, name string) ([]float64, error) {
	col, ok := valueColumns[name]
	if !ok {
		return nil, fmt.Errorf("unknown axis %q", name)
	}
	rows, err := s.db.Query(`SELECT `+col+` FROM cell_scores WHERE run_id = ? ORDER BY cell_idx ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteExpiredRuns deletes finished runs older than retentionDays.
func (s *Store) DeleteExpiredRuns(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(timeLayout)
	return s.deleteWhere(`finished_at IS NOT NULL AND finished_at < ?`, cutoff)
}

// DeleteRun deletes a run and its results.
func (s *Store) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.deleteWhere(`run_id = ?`, runID)
	return err
}

// deleteWhere removes results before runs since foreign keys are not
// enforced by default.
func (s *Store) deleteWhere(cond string, arg any) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, table := range []string{"cell_scores", "sample_scores"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE run_id IN (SELECT run_id FROM runs WHERE `+cond+`)`, arg); err != nil {
			return 0, err
		}
	}
	result, err := tx.Exec(`DELETE FROM runs WHERE `+cond, arg)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}
