package storage

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

CREATE TABLE IF NOT EXISTS markets (
	id                 TEXT PRIMARY KEY,
	question           TEXT NOT NULL,
	outcomes           TEXT NOT NULL DEFAULT '[]',
	outcome_prices     TEXT NOT NULL DEFAULT '[]',
	volume             REAL NOT NULL DEFAULT 0,
	active             INTEGER NOT NULL DEFAULT 0,
	closed             INTEGER NOT NULL DEFAULT 0,
	end_date           TEXT,
	category           TEXT NOT NULL DEFAULT '',
	category_score     REAL NOT NULL DEFAULT 0,
	is_blacklisted     INTEGER NOT NULL DEFAULT 0,
	tier               TEXT NOT NULL DEFAULT '',
	tier_reason        TEXT NOT NULL DEFAULT '',
	tier_updated_at    TEXT,
	opportunity_score  REAL NOT NULL DEFAULT 0,
	volume_score       REAL NOT NULL DEFAULT 0,
	edge_score         REAL NOT NULL DEFAULT 0,
	catalyst_score     REAL NOT NULL DEFAULT 0,
	quality_score      REAL NOT NULL DEFAULT 0,
	score_updated_at   TEXT,
	metadata           TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS market_prices (
	market_id    TEXT NOT NULL,
	timestamp    TEXT NOT NULL,
	outcome_index INTEGER NOT NULL,
	price        REAL NOT NULL,
	volume       REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_market_prices_market_ts ON market_prices(market_id, timestamp);

CREATE TABLE IF NOT EXISTS orderbook_snapshots (
	market_id  TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	bids       TEXT NOT NULL,
	asks       TEXT NOT NULL,
	spread     REAL,
	mid_price  REAL,
	best_bid   REAL,
	best_ask   REAL
);
CREATE INDEX IF NOT EXISTS idx_orderbook_snapshots_market_ts ON orderbook_snapshots(market_id, timestamp);

CREATE TABLE IF NOT EXISTS trade_ticks (
	market_id  TEXT NOT NULL,
	timestamp  TEXT NOT NULL,
	price      REAL NOT NULL,
	size       REAL NOT NULL,
	side       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_ticks_market_ts ON trade_ticks(market_id, timestamp);

CREATE TABLE IF NOT EXISTS signals (
	id              TEXT PRIMARY KEY,
	market_id       TEXT NOT NULL,
	signal_type     TEXT NOT NULL,
	confidence      REAL NOT NULL,
	timestamp       TEXT NOT NULL,
	metadata        TEXT NOT NULL DEFAULT '{}',
	validated       INTEGER NOT NULL DEFAULT 0,
	validation_time TEXT,
	outcome         TEXT
);
CREATE INDEX IF NOT EXISTS idx_signals_type_ts ON signals(signal_type, timestamp);
CREATE INDEX IF NOT EXISTS idx_signals_market_ts ON signals(market_id, timestamp);

CREATE TABLE IF NOT EXISTS signal_performance (
	id                   TEXT PRIMARY KEY,
	signal_id            TEXT NOT NULL,
	market_id            TEXT NOT NULL,
	signal_type          TEXT NOT NULL,
	confidence           REAL NOT NULL,
	entry_time           TEXT NOT NULL,
	entry_outcome_index  INTEGER NOT NULL DEFAULT 0,
	entry_price          REAL NOT NULL,
	entry_direction      TEXT NOT NULL,
	market_volume        REAL NOT NULL DEFAULT 0,
	price_30min          REAL,
	price_1hr            REAL,
	price_4hr            REAL,
	price_24hr           REAL,
	price_7day           REAL,
	pnl_30min            REAL,
	pnl_1hr              REAL,
	pnl_4hr              REAL,
	pnl_24hr             REAL,
	pnl_7day             REAL,
	market_resolved      INTEGER NOT NULL DEFAULT 0,
	resolution_time      TEXT,
	winning_outcome_index INTEGER,
	final_pnl            REAL,
	was_correct          INTEGER,
	magnitude            REAL NOT NULL DEFAULT 0,
	max_favorable_move   REAL NOT NULL DEFAULT 0,
	max_adverse_move     REAL NOT NULL DEFAULT 0,
	metadata             TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_signal_performance_type_entry ON signal_performance(signal_type, entry_time);
CREATE INDEX IF NOT EXISTS idx_signal_performance_market_ts ON signal_performance(market_id, entry_time);

CREATE TABLE IF NOT EXISTS system_alerts (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	component  TEXT NOT NULL DEFAULT '',
	operation  TEXT NOT NULL DEFAULT '',
	context    TEXT NOT NULL DEFAULT '{}',
	timestamp  TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_system_alerts_ts ON system_alerts(timestamp);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`
