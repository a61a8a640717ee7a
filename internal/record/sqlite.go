package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/session"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id              TEXT PRIMARY KEY,
	session_key     TEXT,
	decision        TEXT NOT NULL,
	terminal_stage  TEXT NOT NULL,
	exchange_type   TEXT NOT NULL,
	balance         REAL NOT NULL,
	violations      TEXT,
	deliberation_id TEXT,
	result_json     TEXT NOT NULL,
	preview_json    TEXT,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_session ON evaluations(session_key, created_at);

CREATE TABLE IF NOT EXISTS deliberations (
	id                      TEXT PRIMARY KEY,
	consensus_balance       REAL NOT NULL,
	consensus_exchange_type TEXT NOT NULL,
	consensus_delta         REAL NOT NULL,
	rounds                  INTEGER NOT NULL,
	created_at              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS circle_rounds (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	deliberation_id   TEXT NOT NULL,
	round_index       INTEGER NOT NULL,
	chair_id          TEXT NOT NULL,
	consensus_balance REAL NOT NULL,
	consensus_delta   REAL NOT NULL,
	summary_json      TEXT NOT NULL,
	created_at        TEXT NOT NULL,
	UNIQUE (deliberation_id, round_index)
);

CREATE TABLE IF NOT EXISTS sessions (
	session_key  TEXT PRIMARY KEY,
	turn_count   INTEGER NOT NULL,
	trust_ema    REAL NOT NULL,
	trajectory   TEXT NOT NULL,
	history_json TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
`

// #endregion schema

// #region store
// SQLite stores records in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database and runs migrations.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// #endregion store

// #region save
// Save writes rec to its table.
func (s *SQLite) Save(ctx context.Context, rec Record) error {
	switch r := rec.(type) {
	case Evaluation:
		return s.saveEvaluation(ctx, r)
	case Round:
		return s.saveRound(ctx, r)
	case Deliberation:
		return s.saveDeliberation(ctx, r)
	case Session:
		return s.saveSession(ctx, r.State)
	}
	return fmt.Errorf("save record: unsupported type %T", rec)
}

func (s *SQLite) saveEvaluation(ctx context.Context, r Evaluation) error {
	resultJSON, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	var previewJSON any
	if r.Preview != nil {
		b, err := json.Marshal(r.Preview)
		if err != nil {
			return fmt.Errorf("marshal preview: %w", err)
		}
		previewJSON = string(b)
	}
	tags := make([]string, len(r.Result.Violations))
	for i, t := range r.Result.Violations {
		tags[i] = string(t)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, session_key, decision, terminal_stage, exchange_type, balance, violations, deliberation_id, result_json, preview_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		nullIfEmpty(r.SessionKey),
		r.Decision,
		r.TerminalStage,
		string(r.Result.ExchangeType),
		r.Result.Balance,
		nullIfEmpty(strings.Join(tags, ",")),
		nullIfEmpty(r.DeliberationID),
		string(resultJSON),
		previewJSON,
		stamp(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

func (s *SQLite) saveRound(ctx context.Context, r Round) error {
	summaryJSON, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO circle_rounds (deliberation_id, round_index, chair_id, consensus_balance, consensus_delta, summary_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.DeliberationID, r.Summary.Index, r.Summary.ChairID, r.Summary.ConsensusBalance, r.Summary.ConsensusDelta,
		string(summaryJSON), stamp(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (s *SQLite) saveDeliberation(ctx context.Context, r Deliberation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliberations (id, consensus_balance, consensus_exchange_type, consensus_delta, rounds, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConsensusBalance, string(r.ConsensusExchangeType), r.ConsensusDelta, r.Rounds, stamp(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert deliberation: %w", err)
	}
	return nil
}

func (s *SQLite) saveSession(ctx context.Context, st session.State) error {
	historyJSON, err := json.Marshal(st.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_key, turn_count, trust_ema, trajectory, history_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET
			turn_count = excluded.turn_count,
			trust_ema = excluded.trust_ema,
			trajectory = excluded.trajectory,
			history_json = excluded.history_json,
			updated_at = excluded.updated_at`,
		st.SessionKey, st.TurnCount, st.TrustEMA, string(st.Trajectory), string(historyJSON), stamp(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// #endregion save

// #region load
// LoadSession returns the stored state for key, or nil if none exists.
func (s *SQLite) LoadSession(ctx context.Context, key string) (*session.State, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_key, turn_count, trust_ema, trajectory, history_json, updated_at
		 FROM sessions WHERE session_key = ?`, key)
	st, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", key, err)
	}
	return &st, nil
}

// #endregion load

// #region inspect
// EvaluationRow is the summary view of a stored evaluation.
type EvaluationRow struct {
	ID            string
	SessionKey    string
	Decision      string
	TerminalStage string
	ExchangeType  string
	Balance       float64
	Violations    string
	CreatedAt     time.Time
}

// RecentEvaluations lists the newest evaluations, optionally for one session.
func (s *SQLite) RecentEvaluations(ctx context.Context, sessionKey string, limit int) ([]EvaluationRow, error) {
	query := `SELECT id, COALESCE(session_key, ''), decision, terminal_stage, exchange_type, balance, COALESCE(violations, ''), created_at
		FROM evaluations`
	args := []any{}
	if sessionKey != "" {
		query += ` WHERE session_key = ?`
		args = append(args, sessionKey)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var out []EvaluationRow
	for rows.Next() {
		var r EvaluationRow
		var created string
		if err := rows.Scan(&r.ID, &r.SessionKey, &r.Decision, &r.TerminalStage, &r.ExchangeType, &r.Balance, &r.Violations, &created); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		r.CreatedAt, _ = time.Parse(stampLayout, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sessions lists stored sessions, most recently updated first.
func (s *SQLite) Sessions(ctx context.Context, limit int) ([]session.State, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_key, turn_count, trust_ema, trajectory, history_json, updated_at
		 FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []session.State
	for rows.Next() {
		st, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Rounds returns the stored round summaries of a deliberation in order.
func (s *SQLite) Rounds(ctx context.Context, deliberationID string) ([]Round, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT summary_json, created_at FROM circle_rounds WHERE deliberation_id = ? ORDER BY round_index`, deliberationID)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []Round
	for rows.Next() {
		var summaryJSON, created string
		if err := rows.Scan(&summaryJSON, &created); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		r := Round{DeliberationID: deliberationID}
		if err := json.Unmarshal([]byte(summaryJSON), &r.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal round: %w", err)
		}
		r.CreatedAt, _ = time.Parse(stampLayout, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion inspect

// #region helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (session.State, error) {
	var st session.State
	var trajectory, historyJSON, updated string
	if err := row.Scan(&st.SessionKey, &st.TurnCount, &st.TrustEMA, &trajectory, &historyJSON, &updated); err != nil {
		return session.State{}, err
	}
	st.Trajectory = session.Trajectory(trajectory)
	if err := json.Unmarshal([]byte(historyJSON), &st.History); err != nil {
		return session.State{}, fmt.Errorf("unmarshal history: %w", err)
	}
	st.UpdatedAt, _ = time.Parse(stampLayout, updated)
	return st, nil
}

// stampLayout is fixed width so stored timestamps sort as text.
const stampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(stampLayout)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
