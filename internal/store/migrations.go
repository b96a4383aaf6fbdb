package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS emails (
	id                TEXT PRIMARY KEY,
	thread_id         TEXT NOT NULL DEFAULT '',
	subject           TEXT NOT NULL DEFAULT '',
	sender            TEXT NOT NULL DEFAULT '',
	recipients        TEXT NOT NULL DEFAULT '[]',
	content           TEXT NOT NULL DEFAULT '',
	timestamp         DATETIME NOT NULL,
	category          TEXT NOT NULL DEFAULT 'Unclassified',
	classify_attempts INTEGER NOT NULL DEFAULT 0,
	classify_failed   INTEGER NOT NULL DEFAULT 0 CHECK(classify_failed IN (0, 1)),
	read              INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	labels            TEXT NOT NULL DEFAULT '[]',
	provider          TEXT NOT NULL DEFAULT '',
	synced_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS meetings (
	id           TEXT PRIMARY KEY,
	email_id     TEXT NOT NULL REFERENCES emails(id),
	title        TEXT NOT NULL DEFAULT '',
	starts_at    DATETIME NOT NULL,
	duration_sec INTEGER NOT NULL DEFAULT 1800,
	location     TEXT NOT NULL DEFAULT '',
	attendees    TEXT NOT NULL DEFAULT '[]',
	description  TEXT NOT NULL DEFAULT '',
	conflict_ids TEXT NOT NULL DEFAULT '[]',
	superseded   INTEGER NOT NULL DEFAULT 0 CHECK(superseded IN (0, 1)),
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_turns (
	id         TEXT PRIMARY KEY,
	role       TEXT NOT NULL CHECK(role IN ('user', 'assistant')),
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	email_id   TEXT NOT NULL DEFAULT '',
	meeting_id TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL,
	read       INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sync_state (
	id           INTEGER PRIMARY KEY CHECK(id = 1),
	last_sync_at DATETIME,
	batch_start  DATETIME,
	batch_end    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_emails_category ON emails(category);
CREATE INDEX IF NOT EXISTS idx_emails_timestamp ON emails(timestamp);
CREATE INDEX IF NOT EXISTS idx_emails_thread_id ON emails(thread_id);
CREATE INDEX IF NOT EXISTS idx_emails_read ON emails(read);
CREATE INDEX IF NOT EXISTS idx_meetings_starts_at ON meetings(starts_at);
CREATE INDEX IF NOT EXISTS idx_meetings_email_id ON meetings(email_id);
CREATE INDEX IF NOT EXISTS idx_turns_created ON conversation_turns(created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_emails_category_timestamp
	ON emails(category, timestamp);

CREATE INDEX IF NOT EXISTS idx_meetings_superseded_starts
	ON meetings(superseded, starts_at);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
