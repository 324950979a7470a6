package artifact

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	parent_id   TEXT,
	game        TEXT NOT NULL,
	version     INTEGER NOT NULL,
	status      TEXT NOT NULL,
	hash        TEXT NOT NULL,
	document    TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	UNIQUE (game, version)
);

CREATE INDEX IF NOT EXISTS artifacts_game ON artifacts (game, version);
`

var ErrNotFound = errors.New("artifact not found")

// Entry summarizes one stored artifact.
type Entry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Parent    string    `json:"parent,omitempty"`
	Game      string    `json:"game"`
	Version   int       `json:"version"`
	Status    Status    `json:"status"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry keeps every artifact of every run in SQLite, versioned per game.
type Registry struct {
	db *sql.DB
}

// Open opens the database at path and creates the schema if needed.
func Open(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Save stores a under the next version of its game and returns that
// version. Saving an artifact that is already stored updates it in place
// and keeps its version, unless the stored copy is final.
func (r *Registry) Save(a *Artifact) (int, error) {
	doc, err := json.Marshal(a)
	if err != nil {
		return 0, fmt.Errorf("marshal artifact: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		version int
		stored  string
	)
	err = tx.QueryRow(`SELECT version, status FROM artifacts WHERE id = ?`, a.ID.String()).Scan(&version, &stored)
	switch {
	case err == nil:
		if Status(stored).Final() {
			return 0, fmt.Errorf("%w: %s is stored as %s", ErrFinalized, a.ID, stored)
		}
		_, err = tx.Exec(
			`UPDATE artifacts SET status = ?, hash = ?, document = ? WHERE id = ?`,
			string(a.Status), a.RuleSet.StructuralHash(), string(doc), a.ID.String(),
		)
		if err != nil {
			return 0, fmt.Errorf("update artifact: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRow(`SELECT COALESCE(MAX(version), 0) + 1 FROM artifacts WHERE game = ?`, a.RuleSet.Game).Scan(&version)
		if err != nil {
			return 0, fmt.Errorf("next version: %w", err)
		}
		var parent any
		if a.Parent != "" {
			parent = a.Parent
		}
		_, err = tx.Exec(
			`INSERT INTO artifacts (id, run_id, parent_id, game, version, status, hash, document, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID.String(), a.RunID.String(), parent, a.RuleSet.Game, version, string(a.Status),
			a.RuleSet.StructuralHash(), string(doc), a.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, fmt.Errorf("insert artifact: %w", err)
		}
	default:
		return 0, fmt.Errorf("lookup artifact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return version, nil
}

// List returns the stored artifacts of game, oldest version first.
func (r *Registry) List(game string) ([]Entry, error) {
	rows, err := r.db.Query(
		`SELECT id, run_id, parent_id, game, version, status, hash, created_at
		 FROM artifacts WHERE game = ? ORDER BY version`, game)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			parent    sql.NullString
			status    string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &parent, &e.Game, &e.Version, &status, &e.Hash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		e.Parent = parent.String
		e.Status = Status(status)
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Get loads the artifact with the given id. The returned rule set carries
// its registry version.
func (r *Registry) Get(id string) (*Artifact, error) {
	return r.load(`SELECT document, version FROM artifacts WHERE id = ?`, id)
}

// Latest loads the highest version stored for game.
func (r *Registry) Latest(game string) (*Artifact, error) {
	return r.load(`SELECT document, version FROM artifacts WHERE game = ? ORDER BY version DESC LIMIT 1`, game)
}

func (r *Registry) load(query string, arg string) (*Artifact, error) {
	var (
		doc     string
		version int
	)
	err := r.db.QueryRow(query, arg).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("query artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	a.RuleSet.Version = version
	return &a, nil
}
