package store

// schemaSQL is the DDL for all tables. Uniqueness of entities and
// relationships is enforced here so that "look up or create" is a single
// conditional write, never a read-then-write race.
const schemaSQL = `
-- Knowledge graph: entities, isolated per session.
-- name is the normalized (casefolded, whitespace-collapsed) dedup key;
-- display_name preserves the original casing for rendering.
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    display_name TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL,
    query_id TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(session_id, entity_type, name)
);

-- Knowledge graph: directed relationships between entities of one session.
CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY,
    source_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    target_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL,
    session_id TEXT NOT NULL,
    query_id TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(session_id, source_id, target_id, relation_type)
);

-- One stored result record per pipeline run, kept regardless of outcome.
CREATE TABLE IF NOT EXISTS lessons (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    query TEXT NOT NULL,
    status TEXT NOT NULL,
    analysis TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    entity_count INTEGER NOT NULL DEFAULT 0,
    edge_count INTEGER NOT NULL DEFAULT 0,
    steps JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_entities_session ON entities(session_id);
CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(session_id, name);
CREATE INDEX IF NOT EXISTS idx_relationships_session ON relationships(session_id);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);
CREATE INDEX IF NOT EXISTS idx_lessons_session ON lessons(session_id, created_at);
`
