package ledger

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/onehope/asterhedge/internal/domain"
)

const (
	pendingKeyPrefix  = "pending_"
	flushedKeyPrefix  = "flushed_"
	attachKeyPrefix   = "attach_"
	attachedKeyPrefix = "attached_"
)

type pendingTradeRecord struct {
	TradeID     string              `json:"trade_id"`
	Symbol      string              `json:"symbol"`
	Side        string              `json:"side"`
	Quantity    decimal.Decimal     `json:"quantity"`
	Price       decimal.Decimal     `json:"price"`
	Notional    decimal.Decimal     `json:"notional"`
	Account     string              `json:"account"`
	FundingRate decimal.Decimal     `json:"funding_rate"`
	RealizedPnL decimal.NullDecimal `json:"realized_pnl"`
	Timestamp   time.Time           `json:"ts"`
}

func toPendingRecord(rec domain.TradeRecord) pendingTradeRecord {
	return pendingTradeRecord{
		TradeID:     rec.TradeID,
		Symbol:      rec.Symbol,
		Side:        string(rec.Side),
		Quantity:    rec.Quantity,
		Price:       rec.Price,
		Notional:    rec.Notional,
		Account:     rec.Account,
		FundingRate: rec.FundingRate,
		RealizedPnL: rec.RealizedPnL,
		Timestamp:   rec.Timestamp,
	}
}

func (p pendingTradeRecord) toDomain() domain.TradeRecord {
	return domain.TradeRecord{
		TradeID:     p.TradeID,
		Symbol:      p.Symbol,
		Side:        domain.OrderSide(p.Side),
		Quantity:    p.Quantity,
		Price:       p.Price,
		Notional:    p.Notional,
		Account:     p.Account,
		FundingRate: p.FundingRate,
		RealizedPnL: p.RealizedPnL,
		Timestamp:   p.Timestamp,
	}
}

// pendingAttach journals a realized pnl waiting for its trade to land in
// sqlite.
type pendingAttach struct {
	TradeID string          `json:"trade_id"`
	PnL     decimal.Decimal `json:"pnl"`
}

// pendingQueue journals ledger writes that could not reach sqlite so they
// survive a restart and are replayed by FlushPending. A trade is enqueued
// under pending_<id> and retired with a flushed_<id> marker; pnl attachments
// use attach_<id> and attached_<id> the same way. Replaying the journal from
// the start reconstructs the set still owed to the database.
type pendingQueue struct {
	mu  sync.Mutex
	wal *gowal.Wal
}

func openPendingQueue(dir string) (*pendingQueue, error) {
	w, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "seg_",
		SegmentThreshold: 1000,
		MaxSegments:      100,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open pending trade journal")
	}
	return &pendingQueue{wal: w}, nil
}

// Load replays the journal and returns trades still awaiting a database
// write, in first-enqueued order.
func (q *pendingQueue) Load() ([]domain.TradeRecord, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	records := make(map[string]pendingTradeRecord)
	var order []string

	for msg := range q.wal.Iterator() {
		switch {
		case strings.HasPrefix(msg.Key, pendingKeyPrefix):
			var rec pendingTradeRecord
			if err := json.Unmarshal(msg.Value, &rec); err != nil {
				return nil, errors.Wrapf(err, "corrupt pending record %s", msg.Key)
			}
			id := strings.TrimPrefix(msg.Key, pendingKeyPrefix)
			if _, seen := records[id]; !seen {
				order = append(order, id)
			}
			records[id] = rec
		case strings.HasPrefix(msg.Key, flushedKeyPrefix):
			delete(records, strings.TrimPrefix(msg.Key, flushedKeyPrefix))
		}
	}

	out := make([]domain.TradeRecord, 0, len(records))
	for _, id := range order {
		if rec, ok := records[id]; ok {
			out = append(out, rec.toDomain())
		}
	}
	return out, nil
}

// Attaches replays the journal and returns pnl attachments still awaiting
// their trade in the database. The latest journaled value per trade wins.
func (q *pendingQueue) Attaches() (map[string]decimal.Decimal, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]decimal.Decimal)
	for msg := range q.wal.Iterator() {
		switch {
		case strings.HasPrefix(msg.Key, attachKeyPrefix):
			var att pendingAttach
			if err := json.Unmarshal(msg.Value, &att); err != nil {
				return nil, errors.Wrapf(err, "corrupt pending attach %s", msg.Key)
			}
			out[att.TradeID] = att.PnL
		case strings.HasPrefix(msg.Key, attachedKeyPrefix):
			delete(out, strings.TrimPrefix(msg.Key, attachedKeyPrefix))
		}
	}
	return out, nil
}

// Contains reports whether the trade is still queued for a database write.
func (q *pendingQueue) Contains(tradeID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queued := false
	for msg := range q.wal.Iterator() {
		switch msg.Key {
		case pendingKeyPrefix + tradeID:
			queued = true
		case flushedKeyPrefix + tradeID:
			queued = false
		}
	}
	return queued, nil
}

func (q *pendingQueue) Enqueue(rec domain.TradeRecord) error {
	data, err := json.Marshal(toPendingRecord(rec))
	if err != nil {
		return errors.Wrap(err, "failed to marshal pending trade")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wal.Write(q.wal.CurrentIndex()+1, pendingKeyPrefix+rec.TradeID, data)
}

func (q *pendingQueue) MarkFlushed(tradeID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wal.Write(q.wal.CurrentIndex()+1, flushedKeyPrefix+tradeID, []byte(`{}`))
}

func (q *pendingQueue) EnqueueAttach(tradeID string, pnl decimal.Decimal) error {
	data, err := json.Marshal(pendingAttach{TradeID: tradeID, PnL: pnl})
	if err != nil {
		return errors.Wrap(err, "failed to marshal pending attach")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wal.Write(q.wal.CurrentIndex()+1, attachKeyPrefix+tradeID, data)
}

func (q *pendingQueue) MarkAttached(tradeID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.wal.Write(q.wal.CurrentIndex()+1, attachedKeyPrefix+tradeID, []byte(`{}`))
}

func (q *pendingQueue) Close() error {
	return q.wal.Close()
}
