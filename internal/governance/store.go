package governance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/verdict/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id              TEXT PRIMARY KEY,
	transcript          TEXT NOT NULL,
	action              TEXT NOT NULL,
	rationale           TEXT NOT NULL,
	requires_review     INTEGER NOT NULL,
	escalation_reasons  TEXT,
	risk_tier           TEXT,
	policy_confidence   REAL,
	low_confidence_path INTEGER NOT NULL,
	run_json            TEXT NOT NULL,
	created_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trace_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	stage       TEXT NOT NULL,
	provider    TEXT,
	route       TEXT,
	confidence  REAL NOT NULL,
	duration_ns INTEGER NOT NULL,
	prompt_id   TEXT,
	status      TEXT NOT NULL,
	note        TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS reviews (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL UNIQUE,
	status          TEXT NOT NULL,
	human_action    TEXT,
	human_rationale TEXT,
	reviewer        TEXT,
	created_at      TEXT NOT NULL,
	reviewed_at     TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status);
`

// Review statuses
const (
	StatusPending  = "pending"
	StatusReviewed = "reviewed"
)

var (
	// ErrNotFound is returned when a run or review does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyReviewed is returned when a review already has a human decision
	ErrAlreadyReviewed = errors.New("review already resolved")
)

// Store keeps the decision log, per-stage trace log and human review queue in SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens a SQLite database and runs migrations. ":memory:" is accepted.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would see its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores a completed run with its trace. Runs that require human
// review are also queued as pending reviews.
func (s *Store) RecordRun(ctx context.Context, run *model.PipelineRun) error {
	if run.State != model.StateDone || run.Decision == nil {
		return fmt.Errorf("run %s is not complete", run.ID)
	}

	runJSON, err := json.Marshal(run.View())
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	var tier string
	if run.Risk != nil {
		tier = string(run.Risk.Tier)
	}
	var policyConf sql.NullFloat64
	if run.Policy != nil {
		policyConf = sql.NullFloat64{Float64: run.Policy.Confidence, Valid: true}
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, transcript, action, rationale, requires_review, escalation_reasons,
		                   risk_tier, policy_confidence, low_confidence_path, run_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Transcript, string(run.Decision.Action), run.Decision.Rationale,
		boolInt(run.Decision.RequiresHumanReview), strings.Join(run.Decision.EscalationReasons, ","),
		tier, policyConf, boolInt(run.LowConfidencePath), string(runJSON), now,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for i, e := range run.Trace {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO trace_log (run_id, seq, stage, provider, route, confidence, duration_ns, prompt_id, status, note)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, i, string(e.Stage), e.Provider, string(e.Route), e.Confidence,
			int64(e.Duration), e.PromptID, string(e.Status), e.Note,
		)
		if err != nil {
			return fmt.Errorf("insert trace %d: %w", i, err)
		}
	}

	if run.Decision.RequiresHumanReview {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO reviews (run_id, status, created_at) VALUES (?, ?, ?)`,
			run.ID, StatusPending, now,
		)
		if err != nil {
			return fmt.Errorf("queue review: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunRecord is a stored run
type RunRecord struct {
	RunID             string
	Transcript        string
	Decision          model.Decision
	RiskTier          string
	LowConfidencePath bool
	CreatedAt         time.Time
	Trace             []model.TraceEntry
	RunJSON           json.RawMessage
}

// GetRun loads a stored run and its trace in recorded order
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	rec := &RunRecord{RunID: runID}
	var (
		action, reasons, created, runJSON string
		review, lowConf                   int
		tier                              sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT transcript, action, rationale, requires_review, escalation_reasons, risk_tier,
		        low_confidence_path, run_json, created_at
		 FROM runs WHERE run_id = ?`, runID,
	).Scan(&rec.Transcript, &action, &rec.Decision.Rationale, &review, &reasons, &tier, &lowConf, &runJSON, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	rec.Decision.Action = model.Action(action)
	rec.Decision.RequiresHumanReview = review != 0
	if reasons != "" {
		rec.Decision.EscalationReasons = strings.Split(reasons, ",")
	}
	rec.RiskTier = tier.String
	rec.LowConfidencePath = lowConf != 0
	rec.RunJSON = json.RawMessage(runJSON)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)

	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, provider, route, confidence, duration_ns, prompt_id, status, note
		 FROM trace_log WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			e                        model.TraceEntry
			stage, route, status     string
			provider, promptID, note sql.NullString
			durationNS               int64
		)
		if err := rows.Scan(&stage, &provider, &route, &e.Confidence, &durationNS, &promptID, &status, &note); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		e.Stage = model.Stage(stage)
		e.Provider = provider.String
		e.Route = model.Route(route)
		e.Duration = time.Duration(durationNS)
		e.PromptID = promptID.String
		e.Status = model.TraceStatus(status)
		e.Note = note.String
		rec.Trace = append(rec.Trace, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace: %w", err)
	}
	return rec, nil
}

// Review is an entry of the human review queue
type Review struct {
	ID                int64
	RunID             string
	Status            string
	Transcript        string
	MachineAction     model.Action
	Rationale         string
	EscalationReasons []string
	HumanAction       model.Action
	HumanRationale    string
	Reviewer          string
	CreatedAt         time.Time
	ReviewedAt        *time.Time
}

const reviewColumns = `r.id, r.run_id, r.status, runs.transcript, runs.action, runs.rationale,
	runs.escalation_reasons, r.human_action, r.human_rationale, r.reviewer, r.created_at, r.reviewed_at`

// ListPendingReviews returns pending reviews, oldest first
func (s *Store) ListPendingReviews(ctx context.Context) ([]Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewColumns+`
		 FROM reviews r JOIN runs ON runs.run_id = r.run_id
		 WHERE r.status = ? ORDER BY r.id`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reviews: %w", err)
	}
	return out, nil
}

// GetReview loads one review
func (s *Store) GetReview(ctx context.Context, id int64) (Review, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+`
		 FROM reviews r JOIN runs ON runs.run_id = r.run_id
		 WHERE r.id = ?`, id)
	r, err := scanReview(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Review{}, fmt.Errorf("review %d: %w", id, ErrNotFound)
	}
	return r, err
}

// SubmitHumanDecision resolves a pending review. The machine decision of the
// run is kept unchanged next to the human one.
func (s *Store) SubmitHumanDecision(ctx context.Context, id int64, action model.Action, rationale, reviewer string) error {
	switch action {
	case model.ActionAllow, model.ActionLabelDownrank, model.ActionEscalateHuman, model.ActionHumanConfirmation:
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reviews SET status = ?, human_action = ?, human_rationale = ?, reviewer = ?, reviewed_at = ?
		 WHERE id = ? AND status = ?`,
		StatusReviewed, string(action), rationale, reviewer, s.now().UTC().Format(time.RFC3339Nano),
		id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetReview(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("review %d: %w", id, ErrAlreadyReviewed)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReview(row scanner) (Review, error) {
	var (
		r                                     Review
		action, reasons, created              string
		humanAction, humanRationale, reviewer sql.NullString
		reviewed                              sql.NullString
	)
	err := row.Scan(&r.ID, &r.RunID, &r.Status, &r.Transcript, &action, &r.Rationale,
		&reasons, &humanAction, &humanRationale, &reviewer, &created, &reviewed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Review{}, err
		}
		return Review{}, fmt.Errorf("scan review: %w", err)
	}

	r.MachineAction = model.Action(action)
	if reasons != "" {
		r.EscalationReasons = strings.Split(reasons, ",")
	}
	r.HumanAction = model.Action(humanAction.String)
	r.HumanRationale = humanRationale.String
	r.Reviewer = reviewer.String
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if reviewed.Valid {
		t, _ := time.Parse(time.RFC3339Nano, reviewed.String)
		r.ReviewedAt = &t
	}
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
