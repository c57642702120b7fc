package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Register sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/contactkeval/covered-call/internal/optimizer"
)

type DB interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	Begin() (*sql.Tx, error)
	Close() error
}

type Store struct{ db DB }

// Saved is one persisted recommendation.
type Saved struct {
	RunID          string
	Ticker         string
	CreatedAt      time.Time
	Strike         decimal.Decimal
	NetPremium     decimal.Decimal
	Recommendation optimizer.Recommendation
}

// OpenSQLite opens dsn with a single connection so ":memory:" databases
// are shared by every statement.
func OpenSQLite(dsn string) (DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func InitSchema(db DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS recommendations(
		run_id TEXT NOT NULL,
		ticker TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expiration TEXT NOT NULL,
		dte INTEGER NOT NULL,
		strike TEXT NOT NULL,
		net_premium TEXT NOT NULL,
		p_otm REAL, p_lcb REAL, p_touch REAL, delta REAL, score REAL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recommendations_ticker ON recommendations(ticker, created_at)`)
	return err
}

func NewStore(db DB) *Store { return &Store{db: db} }

// SaveRecommendations stores recs for one run in a single transaction.
func (s *Store) SaveRecommendations(runID, ticker string, createdAt time.Time, recs []optimizer.Recommendation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, r := range recs {
		payload, err := json.Marshal(r)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode recommendation: %w", err)
		}
		_, err = tx.Exec(`INSERT INTO recommendations(
			run_id,ticker,created_at,expiration,dte,strike,net_premium,p_otm,p_lcb,p_touch,delta,score,payload
		) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			runID, ticker, createdAt.Unix(), r.Expiration.Format("2006-01-02"), r.DTE,
			decimal.NewFromFloat(r.Strike), decimal.NewFromFloat(r.NetPremium).Round(2),
			r.POTM, r.PLCB, r.PTouch, r.Delta, r.Score, string(payload))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert recommendation: %w", err)
		}
	}
	return tx.Commit()
}

// List returns the newest recommendations for ticker, at most limit rows
// (all when limit <= 0).
func (s *Store) List(ticker string, limit int) ([]Saved, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT run_id,ticker,created_at,strike,net_premium,payload FROM recommendations
		WHERE ticker=? ORDER BY created_at DESC, dte ASC LIMIT ?`, ticker, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Saved
	for rows.Next() {
		var (
			sv      Saved
			ts      int64
			payload string
		)
		if err := rows.Scan(&sv.RunID, &sv.Ticker, &ts, &sv.Strike, &sv.NetPremium, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &sv.Recommendation); err != nil {
			return nil, fmt.Errorf("decode recommendation: %w", err)
		}
		sv.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, sv)
	}
	return out, rows.Err()
}
