// Package statslog is the §12 supplement to the Bitswap Engine:
// durable ledger history, so a Receipt snapshot is not lost the moment
// a peer disconnects and its in-memory Ledger is discarded.
package statslog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/libp2p/go-libp2p/core/peer"

	"bex/bitswap"
)

// Log is a sqlite-backed append log of ledger receipts.
type Log struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("statslog: open %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS ledger_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	peer        TEXT NOT NULL,
	bytes_sent  INTEGER NOT NULL,
	bytes_recv  INTEGER NOT NULL,
	exchanged   INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS ledger_history_peer_idx ON ledger_history(peer, recorded_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("statslog: migrate: %w", err)
	}
	return &Log{db: db}, nil
}

// Entry is one recorded ledger snapshot.
type Entry struct {
	Peer       peer.ID
	Accounting bitswap.Accounting
	Exchanged  uint64
	RecordedAt time.Time
}

// Record appends a snapshot of r taken at the current time.
func (l *Log) Record(r *bitswap.Receipt) error {
	_, err := l.db.Exec(
		`INSERT INTO ledger_history (peer, bytes_sent, bytes_recv, exchanged, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		r.Peer.String(), r.Accounting.BytesSent, r.Accounting.BytesRecv, r.Exchanged, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("statslog: record %s: %w", r.Peer, err)
	}
	return nil
}

// History returns up to limit snapshots recorded for p, most recent
// first.
func (l *Log) History(p peer.ID, limit int) ([]Entry, error) {
	rows, err := l.db.Query(
		`SELECT bytes_sent, bytes_recv, exchanged, recorded_at FROM ledger_history WHERE peer = ? ORDER BY recorded_at DESC LIMIT ?`,
		p.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("statslog: query %s: %w", p, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var recordedAt int64
		if err := rows.Scan(&e.Accounting.BytesSent, &e.Accounting.BytesRecv, &e.Exchanged, &recordedAt); err != nil {
			return nil, fmt.Errorf("statslog: scan: %w", err)
		}
		e.Peer = p
		e.RecordedAt = time.Unix(recordedAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}
