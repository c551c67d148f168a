package store

// Timestamps are stored as ISO-8601 text in UTC on both engines so exported
// values look the same whichever engine produced them. sqlite keeps prices
// as decimal text; REAL would round them to float64.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		last_price TEXT,
		last_checked TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL,
		price TEXT,
		checked_at TEXT NOT NULL,
		FOREIGN KEY (product_id) REFERENCES products(id)
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_product_idx ON price_history (product_id, checked_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		last_price NUMERIC,
		last_checked TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		id BIGSERIAL PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES products(id),
		price NUMERIC,
		checked_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS price_history_product_idx ON price_history (product_id, checked_at)`,
}
