// Package ledger is the durable trade journal: an idempotent sqlite store of
// confirmed fills with per-day aggregates, backed by a write-ahead pending
// queue so a database outage never loses a trade.
package ledger

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/onehope/asterhedge/internal/domain"
)

// writeAttempts bounds in-place retries before a trade goes to the pending
// queue.
const writeAttempts = 3

// ErrAlreadyAttached is returned when realized pnl was already set on a trade.
var ErrAlreadyAttached = errors.New("realized pnl already attached")

// ErrTradeNotFound is returned when a pnl attachment names a trade id the
// ledger has never seen, in sqlite or in the pending queue.
var ErrTradeNotFound = errors.New("trade not found")

// WriteError reports a database write failure for which the trade was
// preserved in the pending queue. Callers may treat it as non-fatal.
type WriteError struct {
	TradeID string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("trade %s queued after write failure: %v", e.TradeID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Filter narrows a trade query. Zero-valued fields are ignored.
type Filter struct {
	Symbol  string
	Account string
	Side    domain.OrderSide
	From    time.Time
	To      time.Time
	Limit   int
}

// DailyStat is one symbol-day aggregate row.
type DailyStat struct {
	Symbol string
	Date   string
	Trades int
	Volume decimal.Decimal
	PnL    decimal.Decimal
}

// SymbolStat aggregates all trading on one symbol.
type SymbolStat struct {
	Symbol  string
	Trades  int
	Volume  decimal.Decimal
	PnL     decimal.Decimal
	WinRate decimal.Decimal
}

// AccountPerformance aggregates all trading on one account.
type AccountPerformance struct {
	Account string
	Trades  int
	Volume  decimal.Decimal
	PnL     decimal.Decimal
}

// Store is the durable trade ledger. All write paths are idempotent on trade
// id, so replaying a fill is harmless.
type Store struct {
	db      *sql.DB
	pending *pendingQueue
	logger  *zap.Logger
}

// NewStore opens (and if needed creates) the sqlite database at dbPath and
// the pending-write journal under walDir.
func NewStore(dbPath, walDir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ledger database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to apply ledger schema")
	}

	pending, err := openPendingQueue(walDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, pending: pending, logger: logger}, nil
}

// AddTrade records a confirmed fill. Duplicate trade ids are silently
// ignored. When the database is unavailable after bounded retries, the trade
// is journaled to the pending queue and a *WriteError is returned.
func (s *Store) AddTrade(ctx context.Context, rec domain.TradeRecord) error {
	if rec.TradeID == "" {
		return errors.New("trade id is required")
	}

	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		inserted, err := s.insertTrade(ctx, rec)
		if err == nil {
			if !inserted {
				s.logger.Debug("duplicate trade ignored", zap.String("trade_id", rec.TradeID))
			}
			return nil
		}
		lastErr = err
	}

	if qErr := s.pending.Enqueue(rec); qErr != nil {
		return errors.Wrapf(lastErr, "ledger write failed and pending queue rejected trade %s: %v", rec.TradeID, qErr)
	}

	s.logger.Warn("ledger write failed, trade queued for replay",
		zap.String("trade_id", rec.TradeID),
		zap.Error(lastErr))
	return &WriteError{TradeID: rec.TradeID, Err: lastErr}
}

// insertTrade inserts the trade and bumps the symbol-day aggregate in one
// transaction. Returns false when the trade id already exists.
func (s *Store) insertTrade(ctx context.Context, rec domain.TradeRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var pnl sql.NullString
	if rec.RealizedPnL.Valid {
		pnl = sql.NullString{String: rec.RealizedPnL.Decimal.String(), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
		(trade_id, symbol, side, quantity, price, notional, account, funding_rate, realized_pnl, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TradeID, rec.Symbol, string(rec.Side),
		rec.Quantity.String(), rec.Price.String(), rec.Notional.String(),
		rec.Account, rec.FundingRate.String(), pnl, rec.Timestamp.UTC(),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert trade")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	if affected == 0 {
		return false, tx.Commit()
	}

	day := rec.Timestamp.UTC().Format("2006-01-02")
	var volumeStr string
	err = tx.QueryRowContext(ctx,
		`SELECT volume FROM pair_stats WHERE symbol = ? AND date = ?`,
		rec.Symbol, day).Scan(&volumeStr)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pair_stats (symbol, date, trades, volume, pnl)
			VALUES (?, ?, 1, ?, '0')`,
			rec.Symbol, day, rec.Notional.String(),
		); err != nil {
			return false, errors.Wrap(err, "failed to insert pair stats")
		}
	case err != nil:
		return false, errors.Wrap(err, "failed to read pair stats")
	default:
		volume, err := parseDec(volumeStr, "volume")
		if err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pair_stats SET trades = trades + 1, volume = ?
			WHERE symbol = ? AND date = ?`,
			volume.Add(rec.Notional).String(), rec.Symbol, day,
		); err != nil {
			return false, errors.Wrap(err, "failed to update pair stats")
		}
	}

	return true, tx.Commit()
}

func parseDec(raw, field string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "corrupt %s %q", field, raw)
	}
	return v, nil
}

// FlushPending replays journaled trades and pnl attachments into the
// database, trades first so an attachment finds its row. Entries that still
// fail stay queued for the next flush.
func (s *Store) FlushPending(ctx context.Context) (int, error) {
	queued, err := s.pending.Load()
	if err != nil {
		return 0, err
	}

	flushed := 0
	for _, rec := range queued {
		if _, err := s.insertTrade(ctx, rec); err != nil {
			s.logger.Warn("pending trade replay failed",
				zap.String("trade_id", rec.TradeID),
				zap.Error(err))
			continue
		}
		if err := s.pending.MarkFlushed(rec.TradeID); err != nil {
			return flushed, errors.Wrapf(err, "failed to retire pending trade %s", rec.TradeID)
		}
		flushed++
	}

	attaches, err := s.pending.Attaches()
	if err != nil {
		return flushed, err
	}
	for tradeID, pnl := range attaches {
		if err := s.attachDirect(ctx, tradeID, pnl); err != nil && !errors.Is(err, ErrAlreadyAttached) {
			s.logger.Warn("pending pnl attach replay failed",
				zap.String("trade_id", tradeID),
				zap.Error(err))
			continue
		}
		if err := s.pending.MarkAttached(tradeID); err != nil {
			return flushed, errors.Wrapf(err, "failed to retire pending attach %s", tradeID)
		}
		flushed++
	}

	if flushed > 0 {
		s.logger.Info("replayed pending ledger writes", zap.Int("count", flushed))
	}
	return flushed, nil
}

// PendingCount reports how many trades and pnl attachments await replay.
func (s *Store) PendingCount() (int, error) {
	queued, err := s.pending.Load()
	if err != nil {
		return 0, err
	}
	attaches, err := s.pending.Attaches()
	if err != nil {
		return 0, err
	}
	return len(queued) + len(attaches), nil
}

// AttachPnL sets realized pnl on a trade exactly once. A second attachment
// attempt returns ErrAlreadyAttached and leaves the stored value untouched.
// When the trade is still in the pending queue, or the database write fails,
// the attachment is journaled and applied by FlushPending once the trade
// lands; only an id the ledger has never seen is an error.
func (s *Store) AttachPnL(ctx context.Context, tradeID string, pnl decimal.Decimal) error {
	err := s.attachDirect(ctx, tradeID, pnl)
	if err == nil || errors.Is(err, ErrAlreadyAttached) {
		return err
	}

	if errors.Is(err, ErrTradeNotFound) {
		queued, qErr := s.pending.Contains(tradeID)
		if qErr != nil {
			return err
		}
		if !queued {
			return err
		}
	}

	if qErr := s.pending.EnqueueAttach(tradeID, pnl); qErr != nil {
		return errors.Wrapf(err, "pnl attach failed and journal rejected trade %s: %v", tradeID, qErr)
	}

	s.logger.Warn("pnl attach journaled for replay",
		zap.String("trade_id", tradeID),
		zap.Error(err))
	return nil
}

// attachDirect applies the pnl to the trade row and the day aggregate in one
// transaction, guarded so it is exactly-once per trade.
func (s *Store) attachDirect(ctx context.Context, tradeID string, pnl decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE trades SET realized_pnl = ?
		WHERE trade_id = ? AND realized_pnl IS NULL`,
		pnl.String(), tradeID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to attach pnl to trade %s", tradeID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if affected == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM trades WHERE trade_id = ?`, tradeID).Scan(&exists); err != nil {
			return errors.Wrap(err, "failed to check trade existence")
		}
		if exists == 0 {
			return errors.Wrapf(ErrTradeNotFound, "trade %s", tradeID)
		}
		return errors.Wrapf(ErrAlreadyAttached, "trade %s", tradeID)
	}

	var symbol, day string
	if err := tx.QueryRowContext(ctx,
		`SELECT symbol, strftime('%Y-%m-%d', ts) FROM trades WHERE trade_id = ?`,
		tradeID).Scan(&symbol, &day); err != nil {
		return errors.Wrapf(err, "failed to locate day aggregate for trade %s", tradeID)
	}

	var curStr string
	err = tx.QueryRowContext(ctx,
		`SELECT pnl FROM pair_stats WHERE symbol = ? AND date = ?`,
		symbol, day).Scan(&curStr)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pair_stats (symbol, date, trades, volume, pnl)
			VALUES (?, ?, 0, '0', ?)`,
			symbol, day, pnl.String(),
		); err != nil {
			return errors.Wrap(err, "failed to insert pair stats pnl")
		}
	case err != nil:
		return errors.Wrap(err, "failed to read pair stats pnl")
	default:
		cur, err := parseDec(curStr, "pnl")
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pair_stats SET pnl = ? WHERE symbol = ? AND date = ?`,
			cur.Add(pnl).String(), symbol, day,
		); err != nil {
			return errors.Wrap(err, "failed to update pair stats pnl")
		}
	}

	return tx.Commit()
}

// Trades returns records matching the filter, newest first.
func (s *Store) Trades(ctx context.Context, f Filter) ([]domain.TradeRecord, error) {
	query := `
		SELECT trade_id, symbol, side, quantity, price, notional, account, funding_rate, realized_pnl, ts
		FROM trades WHERE 1=1`
	var args []any

	if f.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, f.Symbol)
	}
	if f.Account != "" {
		query += " AND account = ?"
		args = append(args, f.Account)
	}
	if f.Side != "" {
		query += " AND side = ?"
		args = append(args, string(f.Side))
	}
	if !f.From.IsZero() {
		query += " AND ts >= ?"
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += " AND ts < ?"
		args = append(args, f.To.UTC())
	}
	query += " ORDER BY ts DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query trades")
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanTrade(rows *sql.Rows) (domain.TradeRecord, error) {
	var (
		rec                                  domain.TradeRecord
		side                                 string
		quantity, price, notional, fundingRt string
		pnl                                  sql.NullString
	)
	if err := rows.Scan(&rec.TradeID, &rec.Symbol, &side, &quantity, &price,
		&notional, &rec.Account, &fundingRt, &pnl, &rec.Timestamp); err != nil {
		return domain.TradeRecord{}, errors.Wrap(err, "failed to scan trade")
	}
	rec.Side = domain.OrderSide(side)

	var err error
	if rec.Quantity, err = parseDec(quantity, "quantity"); err != nil {
		return domain.TradeRecord{}, err
	}
	if rec.Price, err = parseDec(price, "price"); err != nil {
		return domain.TradeRecord{}, err
	}
	if rec.Notional, err = parseDec(notional, "notional"); err != nil {
		return domain.TradeRecord{}, err
	}
	if rec.FundingRate, err = parseDec(fundingRt, "funding_rate"); err != nil {
		return domain.TradeRecord{}, err
	}
	if pnl.Valid {
		v, err := parseDec(pnl.String, "realized_pnl")
		if err != nil {
			return domain.TradeRecord{}, err
		}
		rec.RealizedPnL = decimal.NewNullDecimal(v)
	}
	return rec, nil
}

// DailyStats returns per-day aggregates, optionally narrowed to one symbol,
// newest day first.
func (s *Store) DailyStats(ctx context.Context, symbol string, limit int) ([]DailyStat, error) {
	query := `SELECT symbol, date, trades, volume, pnl FROM pair_stats`
	var args []any
	if symbol != "" {
		query += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	query += " ORDER BY date DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query daily stats")
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var (
			stat        DailyStat
			volume, pnl string
		)
		if err := rows.Scan(&stat.Symbol, &stat.Date, &stat.Trades, &volume, &pnl); err != nil {
			return nil, errors.Wrap(err, "failed to scan daily stat")
		}
		if stat.Volume, err = parseDec(volume, "volume"); err != nil {
			return nil, err
		}
		if stat.PnL, err = parseDec(pnl, "pnl"); err != nil {
			return nil, err
		}
		out = append(out, stat)
	}
	return out, rows.Err()
}

// SymbolStats aggregates all recorded trading per symbol. Sums run over
// decimals in Go, not SQL floats. Win rate counts only trades that carry
// realized pnl, so closes and still-open hedges do not dilute it.
func (s *Store) SymbolStats(ctx context.Context) ([]SymbolStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, notional, realized_pnl FROM trades`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query symbol stats")
	}
	defer rows.Close()

	type symbolAgg struct {
		trades, wins, settled int
		volume, pnl           decimal.Decimal
	}
	aggs := make(map[string]*symbolAgg)

	for rows.Next() {
		var (
			symbol, notional string
			pnl              sql.NullString
		)
		if err := rows.Scan(&symbol, &notional, &pnl); err != nil {
			return nil, errors.Wrap(err, "failed to scan symbol stat")
		}
		vol, err := parseDec(notional, "notional")
		if err != nil {
			return nil, err
		}

		agg, ok := aggs[symbol]
		if !ok {
			agg = &symbolAgg{}
			aggs[symbol] = agg
		}
		agg.trades++
		agg.volume = agg.volume.Add(vol)
		if pnl.Valid {
			v, err := parseDec(pnl.String, "realized_pnl")
			if err != nil {
				return nil, err
			}
			agg.settled++
			agg.pnl = agg.pnl.Add(v)
			if v.IsPositive() {
				agg.wins++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate symbol stats")
	}

	symbols := make([]string, 0, len(aggs))
	for symbol := range aggs {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	out := make([]SymbolStat, 0, len(symbols))
	for _, symbol := range symbols {
		agg := aggs[symbol]
		stat := SymbolStat{Symbol: symbol, Trades: agg.trades, Volume: agg.volume, PnL: agg.pnl}
		if agg.settled > 0 {
			stat.WinRate = decimal.NewFromInt(int64(agg.wins)).Div(decimal.NewFromInt(int64(agg.settled)))
		}
		out = append(out, stat)
	}
	return out, nil
}

// AccountPerformance aggregates all recorded trading on one account.
func (s *Store) AccountPerformance(ctx context.Context, account string) (AccountPerformance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT notional, realized_pnl FROM trades WHERE account = ?`, account)
	if err != nil {
		return AccountPerformance{}, errors.Wrapf(err, "failed to query performance for %s", account)
	}
	defer rows.Close()

	perf := AccountPerformance{Account: account}
	for rows.Next() {
		var (
			notional string
			pnl      sql.NullString
		)
		if err := rows.Scan(&notional, &pnl); err != nil {
			return AccountPerformance{}, errors.Wrap(err, "failed to scan account performance")
		}
		vol, err := parseDec(notional, "notional")
		if err != nil {
			return AccountPerformance{}, err
		}
		perf.Trades++
		perf.Volume = perf.Volume.Add(vol)
		if pnl.Valid {
			v, err := parseDec(pnl.String, "realized_pnl")
			if err != nil {
				return AccountPerformance{}, err
			}
			perf.PnL = perf.PnL.Add(v)
		}
	}
	if err := rows.Err(); err != nil {
		return AccountPerformance{}, errors.Wrapf(err, "failed to iterate performance for %s", account)
	}
	return perf, nil
}

// DailyRealizedPnL sums realized pnl for the given calendar day (UTC).
func (s *Store) DailyRealizedPnL(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT realized_pnl FROM trades
		WHERE strftime('%Y-%m-%d', ts) = ? AND realized_pnl IS NOT NULL`,
		day.UTC().Format("2006-01-02"))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to query daily pnl")
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var pnl string
		if err := rows.Scan(&pnl); err != nil {
			return decimal.Zero, errors.Wrap(err, "failed to scan daily pnl")
		}
		v, err := parseDec(pnl, "realized_pnl")
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, errors.Wrap(rows.Err(), "failed to iterate daily pnl")
}

// ExportCSV streams every trade matching the filter as CSV inside a single
// read transaction, so concurrent writes cannot tear the export.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer, f Filter) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return errors.Wrap(err, "failed to begin read transaction")
	}
	defer tx.Rollback()

	query := `
		SELECT trade_id, symbol, side, quantity, price, notional, account, funding_rate, realized_pnl, ts
		FROM trades WHERE 1=1`
	var args []any
	if f.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, f.Symbol)
	}
	if f.Account != "" {
		query += " AND account = ?"
		args = append(args, f.Account)
	}
	if !f.From.IsZero() {
		query += " AND ts >= ?"
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += " AND ts < ?"
		args = append(args, f.To.UTC())
	}
	query += " ORDER BY ts ASC"

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to query trades for export")
	}
	defer rows.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"trade_id", "symbol", "side", "quantity", "price", "notional", "account", "funding_rate", "realized_pnl", "timestamp"}); err != nil {
		return errors.Wrap(err, "failed to write csv header")
	}

	for rows.Next() {
		rec, err := scanTrade(rows)
		if err != nil {
			return err
		}
		pnl := ""
		if rec.RealizedPnL.Valid {
			pnl = rec.RealizedPnL.Decimal.String()
		}
		row := []string{
			rec.TradeID, rec.Symbol, string(rec.Side),
			rec.Quantity.String(), rec.Price.String(), rec.Notional.String(),
			rec.Account, rec.FundingRate.String(), pnl,
			rec.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "failed to write csv row")
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "failed to iterate trades for export")
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush csv")
}

// CleanupOlderThan removes trades and aggregates older than the retention
// window and reports how many trades were deleted.
func (s *Store) CleanupOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete old trades")
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pair_stats WHERE date < ?`, cutoff.Format("2006-01-02")); err != nil {
		return 0, errors.Wrap(err, "failed to delete old pair stats")
	}

	if deleted > 0 {
		s.logger.Info("cleaned up old trades", zap.Int64("deleted", deleted))
	}
	return deleted, tx.Commit()
}

// Close releases the database and the pending journal.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	walErr := s.pending.Close()
	if dbErr != nil {
		return errors.Wrap(dbErr, "failed to close ledger database")
	}
	return errors.Wrap(walErr, "failed to close pending journal")
}
