package postgres

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id           TEXT PRIMARY KEY,
    target_id    TEXT NOT NULL,
    status       TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);
`

const transcriptSchema = `
CREATE TABLE IF NOT EXISTS transcript_entries (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    entry_id   TEXT NOT NULL,
    speaker    TEXT NOT NULL,
    text       TEXT NOT NULL,
    ts         TIMESTAMPTZ NOT NULL,
    sequence   BIGINT NOT NULL,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, entry_id)
);
`

const transcriptSequenceIndex = `
CREATE INDEX IF NOT EXISTS transcript_entries_sequence_idx
    ON transcript_entries (session_id, sequence);
`
