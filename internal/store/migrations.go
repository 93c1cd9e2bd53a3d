package store

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    keyword      TEXT NOT NULL,
    scraped_at   DATETIME NOT NULL,
    n            INTEGER NOT NULL DEFAULT 0,
    mean         REAL,
    median       REAL,
    q1           REAL,
    q2           REAL,
    q3           REAL,
    min_price    REAL,
    max_price    REAL,
    price_ranges TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (keyword, scraped_at)
);

CREATE INDEX IF NOT EXISTS idx_runs_keyword ON runs(keyword);
CREATE INDEX IF NOT EXISTS idx_runs_scraped_at ON runs(scraped_at);

CREATE TABLE IF NOT EXISTS listings (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    keyword     TEXT NOT NULL,
    scraped_at  DATETIME NOT NULL,
    external_id TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    price       REAL NOT NULL,
    url         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_listings_run ON listings(keyword, scraped_at);
CREATE INDEX IF NOT EXISTS idx_listings_history ON listings(keyword, external_id, scraped_at);

CREATE TABLE IF NOT EXISTS daily_configs (
    keyword          TEXT PRIMARY KEY,
    min_price        REAL,
    max_price        REAL,
    filter_mode      TEXT NOT NULL DEFAULT 'soft',
    exclude_bad_text BOOLEAN NOT NULL DEFAULT 1,
    position         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS schedule_state (
    id             INTEGER PRIMARY KEY CHECK (id = 1),
    schedule_time  TEXT NOT NULL DEFAULT '',
    task_installed BOOLEAN NOT NULL DEFAULT 0
);
`
