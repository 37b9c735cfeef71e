package ledger

// Decimals are stored as TEXT and aggregated in Go, so stored values never
// pick up float drift.
const schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity TEXT NOT NULL,
	price TEXT NOT NULL,
	notional TEXT NOT NULL,
	account TEXT NOT NULL,
	funding_rate TEXT NOT NULL,
	realized_pnl TEXT,
	ts DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades(symbol, ts);
CREATE INDEX IF NOT EXISTS idx_trades_account_ts ON trades(account, ts);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts);

CREATE TABLE IF NOT EXISTS pair_stats (
	symbol TEXT NOT NULL,
	date TEXT NOT NULL,
	trades INTEGER NOT NULL DEFAULT 0,
	volume TEXT NOT NULL DEFAULT '0',
	pnl TEXT NOT NULL DEFAULT '0',
	UNIQUE(symbol, date)
);
`
