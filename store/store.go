package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entity represents a row in the entities table.
type Entity struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	EntityType  string `json:"entity_type"`
	Description string `json:"description,omitempty"`
	SessionID   string `json:"session_id"`
	QueryID     string `json:"query_id"`
	CreatedAt   string `json:"created_at"`
}

// Relationship represents a row in the relationships table.
type Relationship struct {
	ID           int64  `json:"id"`
	SourceID     int64  `json:"source_id"`
	TargetID     int64  `json:"target_id"`
	RelationType string `json:"relation_type"`
	SessionID    string `json:"session_id"`
	QueryID      string `json:"query_id"`
}

// GraphEdge is a relationship joined with its endpoint names, as returned
// by neighborhood and subgraph queries.
type GraphEdge struct {
	ID           int64  `json:"id"`
	SourceID     int64  `json:"source_id"`
	TargetID     int64  `json:"target_id"`
	RelationType string `json:"relation_type"`
	SourceName   string `json:"source_name"`
	TargetName   string `json:"target_name"`
	QueryID      string `json:"query_id"`
}

// Subgraph is a session-scoped view of nodes and edges for the UI layer.
type Subgraph struct {
	Nodes []Entity    `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Stats holds per-session graph counts.
type Stats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// Lesson is the stored result record of one pipeline run.
type Lesson struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	Query       string `json:"query"`
	Status      string `json:"status"`
	Analysis    string `json:"analysis"`
	Error       string `json:"error,omitempty"`
	EntityCount int    `json:"entity_count"`
	EdgeCount   int    `json:"edge_count"`
	Steps       string `json:"steps,omitempty"` // JSON array of step log entries
	CreatedAt   string `json:"created_at"`
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database for all nexus persistence.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// --- Entity operations ---

// UpsertEntity atomically looks up or creates an entity keyed by
// (session_id, entity_type, name). Returns the entity ID and whether a new
// row was created. On an existing row the description is filled only when
// the stored one is empty; query_id is never overwritten, so an entity
// always keeps the lesson that first introduced it.
func (s *Store) UpsertEntity(ctx context.Context, e Entity) (int64, bool, error) {
	var (
		id      int64
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO entities (name, display_name, entity_type, description, session_id, query_id)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(session_id, entity_type, name) DO NOTHING
		`, e.Name, e.DisplayName, e.EntityType, e.Description, e.SessionID, e.QueryID)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			created = true
			id, err = res.LastInsertId()
			return err
		}

		// Existing node: reuse its ID and fill an empty description.
		row := tx.QueryRowContext(ctx,
			"SELECT id FROM entities WHERE session_id = ? AND entity_type = ? AND name = ?",
			e.SessionID, e.EntityType, e.Name)
		if err := row.Scan(&id); err != nil {
			return err
		}
		if e.Description != "" {
			_, err = tx.ExecContext(ctx,
				"UPDATE entities SET description = ? WHERE id = ? AND description = ''",
				e.Description, id)
			return err
		}
		return nil
	})
	return id, created, err
}

// FindEntity looks up an entity by its dedup key. Returns ErrNotFound when
// no such entity exists in the session.
func (s *Store) FindEntity(ctx context.Context, sessionID, entityType, name string) (*Entity, error) {
	e := &Entity{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, entity_type, description, session_id, query_id, created_at
		FROM entities WHERE session_id = ? AND entity_type = ? AND name = ?
	`, sessionID, entityType, name).Scan(&e.ID, &e.Name, &e.DisplayName, &e.EntityType,
		&e.Description, &e.SessionID, &e.QueryID, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindEntitiesByName returns all entities in a session with the given
// normalized name, regardless of type. Used to resolve relationship
// endpoints that were extracted in an earlier lesson.
func (s *Store) FindEntitiesByName(ctx context.Context, sessionID, name string) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, entity_type, description, session_id, query_id, created_at
		FROM entities WHERE session_id = ? AND name = ? ORDER BY id
	`, sessionID, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

// ListEntities returns all entities in a session, optionally restricted to
// one lesson via queryID.
func (s *Store) ListEntities(ctx context.Context, sessionID, queryID string) ([]Entity, error) {
	q := `
		SELECT id, name, display_name, entity_type, description, session_id, query_id, created_at
		FROM entities WHERE session_id = ?`
	args := []interface{}{sessionID}
	if queryID != "" {
		q += " AND query_id = ?"
		args = append(args, queryID)
	}
	q += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

// EntityDegrees returns the relationship count (in plus out) for every
// entity in the session. Entities with no relationships are absent.
func (s *Store) EntityDegrees(ctx context.Context, sessionID string) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, COUNT(*) FROM (
			SELECT source_id AS entity_id FROM relationships WHERE session_id = ?
			UNION ALL
			SELECT target_id AS entity_id FROM relationships WHERE session_id = ?
		) GROUP BY entity_id
	`, sessionID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	degrees := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		degrees[id] = n
	}
	return degrees, rows.Err()
}

// --- Relationship operations ---

// CreateOrGetRelationship atomically upserts an edge keyed by
// (session_id, source_id, target_id, relation_type). Re-inserting an
// existing edge is a no-op; created reports whether a row was added.
func (s *Store) CreateOrGetRelationship(ctx context.Context, r Relationship) (int64, bool, error) {
	var (
		id      int64
		created bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO relationships (source_id, target_id, relation_type, session_id, query_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id, source_id, target_id, relation_type) DO NOTHING
		`, r.SourceID, r.TargetID, r.RelationType, r.SessionID, r.QueryID)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n > 0 {
			created = true
			id, err = res.LastInsertId()
			return err
		}

		row := tx.QueryRowContext(ctx, `
			SELECT id FROM relationships
			WHERE session_id = ? AND source_id = ? AND target_id = ? AND relation_type = ?
		`, r.SessionID, r.SourceID, r.TargetID, r.RelationType)
		return row.Scan(&id)
	})
	return id, created, err
}

// Neighborhood returns every relationship touching any of the given entity
// IDs (as source or target), one hop only, up to limit edges.
func (s *Store) Neighborhood(ctx context.Context, sessionID string, entityIDs []int64, limit int) ([]GraphEdge, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	placeholders := strings.TrimPrefix(strings.Repeat(",?", len(entityIDs)), ",")
	q := fmt.Sprintf(`
		SELECT r.id, r.source_id, r.target_id, r.relation_type, r.query_id,
		       src.display_name, tgt.display_name
		FROM relationships r
		JOIN entities src ON src.id = r.source_id
		JOIN entities tgt ON tgt.id = r.target_id
		WHERE r.session_id = ? AND (r.source_id IN (%s) OR r.target_id IN (%s))
		ORDER BY r.id
		LIMIT ?
	`, placeholders, placeholders)

	args := make([]interface{}, 0, 2*len(entityIDs)+2)
	args = append(args, sessionID)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

// --- Subgraph operations ---

// QuerySubgraph returns all nodes and edges of a session, optionally
// restricted to one lesson via queryID.
func (s *Store) QuerySubgraph(ctx context.Context, sessionID, queryID string) (*Subgraph, error) {
	nodes, err := s.ListEntities(ctx, sessionID, queryID)
	if err != nil {
		return nil, err
	}

	q := `
		SELECT r.id, r.source_id, r.target_id, r.relation_type, r.query_id,
		       src.display_name, tgt.display_name
		FROM relationships r
		JOIN entities src ON src.id = r.source_id
		JOIN entities tgt ON tgt.id = r.target_id
		WHERE r.session_id = ?`
	args := []interface{}{sessionID}
	if queryID != "" {
		q += " AND r.query_id = ?"
		args = append(args, queryID)
	}
	q += " ORDER BY r.id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	edges, err := scanEdges(rows)
	if err != nil {
		return nil, err
	}
	return &Subgraph{Nodes: nodes, Edges: edges}, nil
}

// DeleteSubgraph removes all graph data for a session. Lessons are kept as
// history.
func (s *Store) DeleteSubgraph(ctx context.Context, sessionID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM relationships WHERE session_id = ?", sessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"DELETE FROM entities WHERE session_id = ?", sessionID)
		return err
	})
}

// SessionStats returns node and edge counts for a session.
func (s *Store) SessionStats(ctx context.Context, sessionID string) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entities WHERE session_id = ?", sessionID).Scan(&st.Nodes); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM relationships WHERE session_id = ?", sessionID).Scan(&st.Edges); err != nil {
		return st, err
	}
	return st, nil
}

// --- Lesson operations ---

// SaveLesson persists the result record of one pipeline run.
func (s *Store) SaveLesson(ctx context.Context, l Lesson) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lessons (id, session_id, query, status, analysis, error, entity_count, edge_count, steps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.SessionID, l.Query, l.Status, l.Analysis, l.Error, l.EntityCount, l.EdgeCount, l.Steps)
	return err
}

// GetLesson retrieves one lesson by ID.
func (s *Store) GetLesson(ctx context.Context, id string) (*Lesson, error) {
	l := &Lesson{}
	var steps sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, query, status, analysis, error, entity_count, edge_count, steps, created_at
		FROM lessons WHERE id = ?
	`, id).Scan(&l.ID, &l.SessionID, &l.Query, &l.Status, &l.Analysis, &l.Error,
		&l.EntityCount, &l.EdgeCount, &steps, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Steps = steps.String
	return l, nil
}

// ListLessons returns a session's lessons, newest first.
func (s *Store) ListLessons(ctx context.Context, sessionID string) ([]Lesson, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, query, status, analysis, error, entity_count, edge_count, steps, created_at
		FROM lessons WHERE session_id = ? ORDER BY created_at DESC, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []Lesson
	for rows.Next() {
		var l Lesson
		var steps sql.NullString
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Query, &l.Status, &l.Analysis, &l.Error,
			&l.EntityCount, &l.EdgeCount, &steps, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Steps = steps.String
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// DeleteLesson removes one lesson from history. The graph data the lesson
// produced is left in place; ErrNotFound when no such lesson exists.
func (s *Store) DeleteLesson(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lessons WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarshalSteps serializes a step log for storage on a lesson row.
func MarshalSteps(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// --- helpers ---

func scanEntities(rows *sql.Rows) ([]Entity, error) {
	var entities []Entity
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.DisplayName, &e.EntityType,
			&e.Description, &e.SessionID, &e.QueryID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func scanEdges(rows *sql.Rows) ([]GraphEdge, error) {
	var edges []GraphEdge
	for rows.Next() {
		var e GraphEdge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.RelationType,
			&e.QueryID, &e.SourceName, &e.TargetName); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
