// Package history persists finalized practice session summaries to
// SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver.

	"github.com/swaralab/riyaz/pkg/core/practice"
)

// SessionRecord is one stored session summary.
type SessionRecord struct {
	ID                 string           `json:"id"`
	SessionID          string           `json:"session_id"`
	BaseFrequencyHz    float64          `json:"base_frequency_hz"`
	TotalExercises     int              `json:"total_exercises"`
	ExercisesCompleted int              `json:"exercises_completed"`
	TotalNotesPlayed   int              `json:"total_notes_played"`
	TotalCorrect       int              `json:"total_correct_notes"`
	TotalIncorrect     int              `json:"total_incorrect_notes"`
	Accuracy           float64          `json:"session_accuracy"`
	Grade              string           `json:"session_grade"`
	DurationSeconds    float64          `json:"session_duration_seconds"`
	StartedAt          time.Time        `json:"started_at"`
	EndedAt            time.Time        `json:"ended_at"`
	Exercises          []ExerciseRecord `json:"exercises,omitempty"`
}

// ExerciseRecord is one exercise outcome within a stored session.
type ExerciseRecord struct {
	Position   int     `json:"position"`
	Name       string  `json:"name"`
	TotalNotes int     `json:"total_notes"`
	Correct    int     `json:"correct"`
	Incorrect  int     `json:"incorrect"`
	Accuracy   float64 `json:"accuracy"`
	Grade      string  `json:"grade"`
	Completed  bool    `json:"completed"`
}

// Store wraps SQLite access for session history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			base_frequency_hz REAL NOT NULL,
			total_exercises INTEGER NOT NULL,
			exercises_completed INTEGER NOT NULL,
			total_notes_played INTEGER NOT NULL,
			total_correct INTEGER NOT NULL,
			total_incorrect INTEGER NOT NULL,
			accuracy REAL NOT NULL,
			grade TEXT NOT NULL,
			duration_seconds REAL NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS session_exercises (
			session_row_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			total_notes INTEGER NOT NULL,
			correct INTEGER NOT NULL,
			incorrect INTEGER NOT NULL,
			accuracy REAL NOT NULL,
			grade TEXT NOT NULL,
			completed INTEGER NOT NULL,
			PRIMARY KEY (session_row_id, position)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_ended_at ON sessions(ended_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordSession stores a finalized summary and its per-exercise
// results. Implements the session layer's HistoryRecorder.
func (s *Store) RecordSession(ctx context.Context, sessionID string, baseFrequencyHz float64, summary practice.Summary) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rowID := uuid.NewString()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, session_id, base_frequency_hz, total_exercises, exercises_completed, total_notes_played, total_correct, total_incorrect, accuracy, grade, duration_seconds, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rowID,
		sessionID,
		baseFrequencyHz,
		summary.TotalExercises,
		summary.ExercisesCompleted,
		summary.TotalNotesPlayed,
		summary.TotalCorrect,
		summary.TotalIncorrect,
		summary.Accuracy,
		summary.Grade,
		summary.DurationSeconds,
		summary.StartedAt.UTC().Format(time.RFC3339Nano),
		summary.EndedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	if len(summary.Exercises) > 0 {
		stmt, perr := tx.PrepareContext(ctx,
			`INSERT INTO session_exercises (session_row_id, position, name, total_notes, correct, incorrect, accuracy, grade, completed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if perr != nil {
			err = perr
			return err
		}
		defer func() { _ = stmt.Close() }()
		for _, r := range summary.Exercises {
			completed := 0
			if r.Completed {
				completed = 1
			}
			if _, err = stmt.ExecContext(ctx, rowID, r.Index, r.Name, r.TotalNotes, r.Correct, r.Incorrect, r.Accuracy, r.Grade, completed); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// ListSessions returns the most recent sessions, newest first. Since
// filters by end time when non-zero.
func (s *Store) ListSessions(ctx context.Context, limit int, since time.Time) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	args := []any{}
	if !since.IsZero() {
		clauses = append(clauses, "ended_at >= ?")
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}
	query := fmt.Sprintf(`SELECT id, session_id, base_frequency_hz, total_exercises, exercises_completed, total_notes_played, total_correct, total_incorrect, accuracy, grade, duration_seconds, started_at, ended_at
		FROM sessions
		WHERE %s
		ORDER BY ended_at DESC
		LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// GetSession returns one stored session with its exercise results.
func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, base_frequency_hz, total_exercises, exercises_completed, total_notes_played, total_correct, total_incorrect, accuracy, grade, duration_seconds, started_at, ended_at
		 FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT position, name, total_notes, correct, incorrect, accuracy, grade, completed
		 FROM session_exercises WHERE session_row_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return SessionRecord{}, false, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var ex ExerciseRecord
		var completed int
		if err := rows.Scan(&ex.Position, &ex.Name, &ex.TotalNotes, &ex.Correct, &ex.Incorrect, &ex.Accuracy, &ex.Grade, &completed); err != nil {
			return SessionRecord{}, false, err
		}
		ex.Completed = completed != 0
		rec.Exercises = append(rec.Exercises, ex)
	}
	if err := rows.Err(); err != nil {
		return SessionRecord{}, false, err
	}
	return rec, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var startedAt, endedAt string
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.BaseFrequencyHz, &rec.TotalExercises, &rec.ExercisesCompleted, &rec.TotalNotesPlayed, &rec.TotalCorrect, &rec.TotalIncorrect, &rec.Accuracy, &rec.Grade, &rec.DurationSeconds, &startedAt, &endedAt); err != nil {
		return SessionRecord{}, err
	}
	var err error
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return SessionRecord{}, err
	}
	if rec.EndedAt, err = time.Parse(time.RFC3339Nano, endedAt); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}
