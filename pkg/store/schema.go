package store

// schema creates every table except the vec_embeddings virtual table, whose
// lifecycle (dimension-dependent) belongs to vecindex.
const schema = `
CREATE TABLE IF NOT EXISTS doc_meta (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL UNIQUE,
	mtime INTEGER NOT NULL DEFAULT 0,
	ctime INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	link_count INTEGER NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS embedding (
	id TEXT PRIMARY KEY,
	doc_id TEXT NOT NULL REFERENCES doc_meta(id) ON DELETE CASCADE,
	chunk_id TEXT,
	chunk_index INTEGER,
	content_hash TEXT NOT NULL DEFAULT '',
	ctime INTEGER NOT NULL DEFAULT 0,
	mtime INTEGER NOT NULL DEFAULT 0,
	embedding BLOB NOT NULL,
	embedding_model TEXT NOT NULL DEFAULT '',
	embedding_len INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embedding_doc_id ON embedding(doc_id);

CREATE TABLE IF NOT EXISTS chat_project (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	folder_rel_path TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	context TEXT
);

CREATE TABLE IF NOT EXISTS chat_conversation (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	project_id TEXT REFERENCES chat_project(id),
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	active_model TEXT NOT NULL DEFAULT '',
	active_provider TEXT NOT NULL DEFAULT '',
	token_usage_total INTEGER NOT NULL DEFAULT 0,
	title_manually_edited INTEGER NOT NULL DEFAULT 0,
	title_auto_updated INTEGER NOT NULL DEFAULT 0,
	attachment_handling TEXT NOT NULL DEFAULT '',
	output_control TEXT,
	context_last_updated_ts INTEGER NOT NULL DEFAULT 0,
	context_last_message_index INTEGER NOT NULL DEFAULT 0,
	file_rel_path TEXT NOT NULL DEFAULT '',
	context TEXT,
	archived INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_conversation_project ON chat_conversation(project_id);
CREATE INDEX IF NOT EXISTS idx_conversation_updated ON chat_conversation(updated_at);

CREATE TABLE IF NOT EXISTS chat_message (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES chat_conversation(id),
	role TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	timezone TEXT NOT NULL DEFAULT '',
	model TEXT,
	provider TEXT,
	starred INTEGER NOT NULL DEFAULT 0,
	is_error INTEGER NOT NULL DEFAULT 0,
	is_visible INTEGER NOT NULL DEFAULT 1,
	gen_time_ms INTEGER,
	token_usage INTEGER
);
CREATE INDEX IF NOT EXISTS idx_message_conversation ON chat_message(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS message_resource (
	message_id TEXT NOT NULL REFERENCES chat_message(id),
	resource_id TEXT NOT NULL,
	PRIMARY KEY (message_id, resource_id)
);

CREATE TABLE IF NOT EXISTS starred_message (
	source_message_id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	project_id TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	content_preview TEXT,
	attachment_summary TEXT
);

CREATE TABLE IF NOT EXISTS doc_statistics (
	path TEXT PRIMARY KEY,
	open_count INTEGER NOT NULL DEFAULT 0,
	last_open_ts INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS graph_edge (
	src_path TEXT NOT NULL,
	dst_path TEXT NOT NULL,
	PRIMARY KEY (src_path, dst_path)
);
CREATE INDEX IF NOT EXISTS idx_graph_edge_dst ON graph_edge(dst_path);

CREATE TABLE IF NOT EXISTS index_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
