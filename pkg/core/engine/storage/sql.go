package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/4chain-ag/go-pollr-overlay/pkg/core/engine"
	"github.com/bsv-blockchain/go-sdk/chainhash"
	"github.com/bsv-blockchain/go-sdk/overlay"
	"github.com/bsv-blockchain/go-sdk/script"
	"github.com/bsv-blockchain/go-sdk/transaction"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver is returned for drivers other than sqlite3 and postgres.
var ErrUnsupportedDriver = errors.New("unsupported sql driver")

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA busy_timeout=5000;",
	"PRAGMA temp_store=MEMORY;",
	"PRAGMA foreign_keys=ON;",
}

// SQLStorage keeps the overlay state in sqlite or postgres.
type SQLStorage struct {
	db *sqlx.DB
	q  sqlx.ExtContext
	tx *sqlx.Tx
}

// NewSQLStorage opens the database and bootstraps the schema.
func NewSQLStorage(ctx context.Context, driver, dsn string) (*SQLStorage, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// one writer at a time, transactions must not wait on their own connection
		db.SetMaxOpenConns(1)
		for _, pragma := range sqlitePragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close() //nolint:errcheck
				return nil, err
			}
		}
	}
	s := NewSQLStorageFromDB(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// NewSQLStorageFromDB wraps an open connection. The schema is not touched.
func NewSQLStorageFromDB(db *sqlx.DB) *SQLStorage {
	return &SQLStorage{db: db, q: db}
}

// Migrate creates the tables and indexes when they do not exist.
func (s *SQLStorage) Migrate(ctx context.Context) error {
	blob := "BLOB"
	if s.db.DriverName() == DriverPostgres {
		blob = "BYTEA"
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS transactions(
			txid TEXT PRIMARY KEY,
			beef ` + blob + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS outputs(
			outpoint TEXT NOT NULL,
			topic TEXT NOT NULL,
			txid TEXT NOT NULL,
			vout BIGINT NOT NULL,
			satoshis BIGINT NOT NULL,
			script ` + blob + ` NOT NULL,
			spent BOOLEAN NOT NULL DEFAULT false,
			spent_by TEXT,
			consumes TEXT NOT NULL DEFAULT '[]',
			consumed_by TEXT NOT NULL DEFAULT '[]',
			dependencies TEXT NOT NULL DEFAULT '[]',
			height BIGINT NOT NULL DEFAULT 0,
			idx BIGINT NOT NULL DEFAULT 0,
			merkle_path TEXT,
			score DOUBLE PRECISION NOT NULL,
			ancillary_beef ` + blob + `,
			PRIMARY KEY(outpoint, topic)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outputs_txid ON outputs(txid)`,
		`CREATE INDEX IF NOT EXISTS idx_outputs_topic_score ON outputs(topic, spent, score)`,
		`CREATE TABLE IF NOT EXISTS applied_transactions(
			topic TEXT NOT NULL,
			txid TEXT NOT NULL,
			PRIMARY KEY(topic, txid)
		)`,
		`CREATE TABLE IF NOT EXISTS sync_state(
			host TEXT NOT NULL,
			topic TEXT NOT NULL,
			last_interaction DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_push DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY(host, topic)
		)`,
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}
	return nil
}

type outputRow struct {
	Outpoint      string         `db:"outpoint"`
	Topic         string         `db:"topic"`
	Satoshis      uint64         `db:"satoshis"`
	Script        []byte         `db:"script"`
	Spent         bool           `db:"spent"`
	Consumes      string         `db:"consumes"`
	ConsumedBy    string         `db:"consumed_by"`
	Dependencies  string         `db:"dependencies"`
	Height        uint32         `db:"height"`
	Idx           uint64         `db:"idx"`
	MerklePath    sql.NullString `db:"merkle_path"`
	Score         float64        `db:"score"`
	AncillaryBeef []byte         `db:"ancillary_beef"`
	Beef          []byte         `db:"beef"`
}

func (r *outputRow) output() (*engine.Output, error) {
	outpoint, err := transaction.OutpointFromString(r.Outpoint)
	if err != nil {
		return nil, err
	}
	output := &engine.Output{
		Outpoint:      *outpoint,
		Topic:         r.Topic,
		Script:        script.NewFromBytes(r.Script),
		Satoshis:      r.Satoshis,
		Spent:         r.Spent,
		BlockHeight:   r.Height,
		BlockIdx:      r.Idx,
		Score:         r.Score,
		AncillaryBeef: r.AncillaryBeef,
		Beef:          r.Beef,
	}
	if output.OutputsConsumed, err = decodeOutpoints(r.Consumes); err != nil {
		return nil, err
	} else if output.ConsumedBy, err = decodeOutpoints(r.ConsumedBy); err != nil {
		return nil, err
	} else if err := json.Unmarshal([]byte(r.Dependencies), &output.AncillaryTxids); err != nil {
		return nil, err
	}
	if r.MerklePath.Valid {
		if output.MerklePath, err = transaction.NewMerklePathFromHex(r.MerklePath.String); err != nil {
			return nil, err
		}
	}
	return output, nil
}

func encodeOutpoints(outpoints []*transaction.Outpoint) (string, error) {
	encoded := make([]string, 0, len(outpoints))
	for _, outpoint := range outpoints {
		encoded = append(encoded, outpoint.String())
	}
	data, err := json.Marshal(encoded)
	return string(data), err
}

func decodeOutpoints(data string) ([]*transaction.Outpoint, error) {
	var encoded []string
	if err := json.Unmarshal([]byte(data), &encoded); err != nil {
		return nil, err
	}
	outpoints := make([]*transaction.Outpoint, 0, len(encoded))
	for _, s := range encoded {
		outpoint, err := transaction.OutpointFromString(s)
		if err != nil {
			return nil, err
		}
		outpoints = append(outpoints, outpoint)
	}
	return outpoints, nil
}

func selectOutputs(includeBEEF bool) string {
	if includeBEEF {
		return `SELECT o.outpoint, o.topic, o.satoshis, o.script, o.spent, o.consumes, o.consumed_by, o.dependencies,
			o.height, o.idx, o.merkle_path, o.score, o.ancillary_beef, t.beef
			FROM outputs o LEFT JOIN transactions t ON t.txid = o.txid `
	}
	return `SELECT o.outpoint, o.topic, o.satoshis, o.script, o.spent, o.consumes, o.consumed_by, o.dependencies,
		o.height, o.idx, o.merkle_path, o.score, o.ancillary_beef, NULL AS beef
		FROM outputs o `
}

func (s *SQLStorage) selectRows(ctx context.Context, query string, args ...any) ([]*engine.Output, error) {
	var rows []outputRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, s.q.Rebind(query), args...); err != nil {
		return nil, err
	}
	outputs := make([]*engine.Output, 0, len(rows))
	for i := range rows {
		output, err := rows[i].output()
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, output)
	}
	return outputs, nil
}

func (s *SQLStorage) InsertOutput(ctx context.Context, utxo *engine.Output) error {
	consumes, err := encodeOutpoints(utxo.OutputsConsumed)
	if err != nil {
		return err
	}
	consumedBy, err := encodeOutpoints(utxo.ConsumedBy)
	if err != nil {
		return err
	}
	dependencies, err := json.Marshal(utxo.AncillaryTxids)
	if err != nil {
		return err
	}
	if utxo.AncillaryTxids == nil {
		dependencies = []byte("[]")
	}
	var merklePath sql.NullString
	if utxo.MerklePath != nil {
		merklePath = sql.NullString{String: utxo.MerklePath.Hex(), Valid: true}
	}
	var lockingScript []byte
	if utxo.Script != nil {
		lockingScript = *utxo.Script
	}
	return s.Transaction(ctx, func(ctx context.Context, tx engine.Storage) error {
		q := tx.(*SQLStorage).q
		if len(utxo.Beef) > 0 {
			if _, err := q.ExecContext(ctx, q.Rebind(`
				INSERT INTO transactions(txid, beef)
				VALUES(?, ?)
				ON CONFLICT(txid) DO NOTHING`),
				utxo.Outpoint.Txid.String(),
				utxo.Beef,
			); err != nil {
				return err
			}
		}
		_, err := q.ExecContext(ctx, q.Rebind(`
			INSERT INTO outputs(outpoint, topic, txid, vout, satoshis, script, spent, consumes, consumed_by, dependencies, height, idx, merkle_path, score, ancillary_beef)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(outpoint, topic) DO NOTHING`),
			utxo.Outpoint.String(),
			utxo.Topic,
			utxo.Outpoint.Txid.String(),
			utxo.Outpoint.Index,
			utxo.Satoshis,
			lockingScript,
			utxo.Spent,
			consumes,
			consumedBy,
			string(dependencies),
			utxo.BlockHeight,
			utxo.BlockIdx,
			merklePath,
			utxo.Score,
			utxo.AncillaryBeef,
		)
		return err
	})
}

func (s *SQLStorage) FindOutput(ctx context.Context, outpoint *transaction.Outpoint, topic *string, spent *bool, includeBEEF bool) (*engine.Output, error) {
	var query strings.Builder
	query.WriteString(selectOutputs(includeBEEF))
	query.WriteString("WHERE o.outpoint = ? ")
	args := []any{outpoint.String()}
	if topic != nil {
		query.WriteString("AND o.topic = ? ")
		args = append(args, *topic)
	}
	if spent != nil {
		query.WriteString("AND o.spent = ? ")
		args = append(args, *spent)
	}
	query.WriteString("ORDER BY o.topic LIMIT 1")
	outputs, err := s.selectRows(ctx, query.String(), args...)
	if err != nil || len(outputs) == 0 {
		return nil, err
	}
	return outputs[0], nil
}

func (s *SQLStorage) FindOutputs(ctx context.Context, outpoints []*transaction.Outpoint, topic string, spent *bool, includeBEEF bool) ([]*engine.Output, error) {
	if len(outpoints) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(outpoints))
	for _, outpoint := range outpoints {
		keys = append(keys, outpoint.String())
	}
	var query strings.Builder
	query.WriteString(selectOutputs(includeBEEF))
	query.WriteString("WHERE o.topic = ? AND o.outpoint IN (?) ")
	args := []any{topic, keys}
	if spent != nil {
		query.WriteString("AND o.spent = ? ")
		args = append(args, *spent)
	}
	expanded, args, err := sqlx.In(query.String(), args...)
	if err != nil {
		return nil, err
	}
	found, err := s.selectRows(ctx, expanded, args...)
	if err != nil {
		return nil, err
	}
	byOutpoint := make(map[string]*engine.Output, len(found))
	for _, output := range found {
		byOutpoint[output.Outpoint.String()] = output
	}
	outputs := make([]*engine.Output, len(outpoints))
	for i, key := range keys {
		outputs[i] = byOutpoint[key]
	}
	return outputs, nil
}

func (s *SQLStorage) FindOutputsForTransaction(ctx context.Context, txid *chainhash.Hash, includeBEEF bool) ([]*engine.Output, error) {
	return s.selectRows(ctx, selectOutputs(includeBEEF)+"WHERE o.txid = ? ORDER BY o.vout, o.topic", txid.String())
}

func (s *SQLStorage) FindUTXOsForTopic(ctx context.Context, topic string, since float64, limit uint32, includeBEEF bool) ([]*engine.Output, error) {
	query := selectOutputs(includeBEEF) + "WHERE o.topic = ? AND o.spent = ? AND o.score > ? ORDER BY o.score, o.outpoint"
	args := []any{topic, false, since}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	return s.selectRows(ctx, query, args...)
}

func (s *SQLStorage) FindUTXOsNeedingSync(ctx context.Context, peer string, topic string, limit uint32) ([]*engine.Output, error) {
	since, err := s.GetLastPush(ctx, peer, topic)
	if err != nil {
		return nil, err
	}
	return s.FindUTXOsForTopic(ctx, topic, since, limit, false)
}

func (s *SQLStorage) DeleteOutput(ctx context.Context, outpoint *transaction.Outpoint, topic string) error {
	return s.Transaction(ctx, func(ctx context.Context, tx engine.Storage) error {
		q := tx.(*SQLStorage).q
		if _, err := q.ExecContext(ctx, q.Rebind(`
			DELETE FROM outputs
			WHERE topic = ? AND outpoint = ?`),
			topic,
			outpoint.String(),
		); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, q.Rebind(`
			DELETE FROM transactions
			WHERE txid = ? AND NOT EXISTS(SELECT 1 FROM outputs WHERE txid = ?)`),
			outpoint.Txid.String(),
			outpoint.Txid.String(),
		)
		return err
	})
}

func (s *SQLStorage) MarkUTXOsAsSpent(ctx context.Context, outpoints []*transaction.Outpoint, topic string, spendTxid *chainhash.Hash) error {
	if len(outpoints) == 0 {
		return nil
	}
	keys := make([]string, 0, len(outpoints))
	for _, outpoint := range outpoints {
		keys = append(keys, outpoint.String())
	}
	var spentBy sql.NullString
	if spendTxid != nil {
		spentBy = sql.NullString{String: spendTxid.String(), Valid: true}
	}
	query, args, err := sqlx.In(`
		UPDATE outputs
		SET spent = ?, spent_by = ?
		WHERE topic = ? AND outpoint IN (?)`,
		true, spentBy, topic, keys)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, s.q.Rebind(query), args...)
	return err
}

func (s *SQLStorage) UpdateConsumedBy(ctx context.Context, outpoint *transaction.Outpoint, topic string, consumedBy []*transaction.Outpoint) error {
	encoded, err := encodeOutpoints(consumedBy)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE outputs
		SET consumed_by = ?
		WHERE topic = ? AND outpoint = ?`),
		encoded,
		topic,
		outpoint.String(),
	)
	return err
}

func (s *SQLStorage) UpdateTransactionBEEF(ctx context.Context, txid *chainhash.Hash, beef []byte) error {
	_, err := s.q.ExecContext(ctx, s.q.Rebind(`
		UPDATE transactions
		SET beef = ?
		WHERE txid = ?`),
		beef,
		txid.String(),
	)
	return err
}

func (s *SQLStorage) MarkConfirmed(ctx context.Context, outpoint *transaction.Outpoint, topic string, confirmation *engine.Confirmation) (bool, error) {
	if confirmation.MerklePath == nil {
		return false, fmt.Errorf("%w: confirmation without merkle path", engine.ErrProofMismatch)
	}
	var ancillary any
	if confirmation.AncillaryBeef != nil {
		ancillary = confirmation.AncillaryBeef
	}
	var applied bool
	err := s.Transaction(ctx, func(ctx context.Context, tx engine.Storage) error {
		q := tx.(*SQLStorage).q
		result, err := q.ExecContext(ctx, q.Rebind(`
			UPDATE outputs
			SET height = ?, idx = ?, merkle_path = ?, ancillary_beef = COALESCE(?, ancillary_beef)
			WHERE topic = ? AND outpoint = ? AND merkle_path IS NULL`),
			confirmation.BlockHeight,
			confirmation.BlockIdx,
			confirmation.MerklePath.Hex(),
			ancillary,
			topic,
			outpoint.String(),
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if applied = affected > 0; !applied || len(confirmation.Beef) == 0 {
			return nil
		}
		_, err = q.ExecContext(ctx, q.Rebind(`
			UPDATE transactions
			SET beef = ?
			WHERE txid = ?`),
			confirmation.Beef,
			outpoint.Txid.String(),
		)
		return err
	})
	return applied, err
}

func (s *SQLStorage) InsertAppliedTransaction(ctx context.Context, tx *overlay.AppliedTransaction) error {
	_, err := s.q.ExecContext(ctx, s.q.Rebind(`
		INSERT INTO applied_transactions(topic, txid)
		VALUES(?, ?)
		ON CONFLICT(topic, txid) DO NOTHING`),
		tx.Topic,
		tx.Txid.String(),
	)
	return err
}

func (s *SQLStorage) DoesAppliedTransactionExist(ctx context.Context, tx *overlay.AppliedTransaction) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, s.q, &count, s.q.Rebind(`
		SELECT COUNT(*) FROM applied_transactions WHERE topic = ? AND txid = ?`),
		tx.Topic,
		tx.Txid.String(),
	)
	return count > 0, err
}

// raise moves a sync frontier column forward, lower values are ignored.
func (s *SQLStorage) raise(ctx context.Context, column, host, topic string, score float64) error {
	_, err := s.q.ExecContext(ctx, s.q.Rebind(`
		INSERT INTO sync_state(host, topic, `+column+`)
		VALUES(?, ?, ?)
		ON CONFLICT(host, topic) DO UPDATE
		SET `+column+` = CASE WHEN excluded.`+column+` > sync_state.`+column+` THEN excluded.`+column+` ELSE sync_state.`+column+` END`),
		host,
		topic,
		score,
	)
	return err
}

func (s *SQLStorage) frontier(ctx context.Context, column, host, topic string) (float64, error) {
	var score float64
	err := sqlx.GetContext(ctx, s.q, &score, s.q.Rebind(`
		SELECT `+column+` FROM sync_state WHERE host = ? AND topic = ?`),
		host,
		topic,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return score, err
}

func (s *SQLStorage) UpdateLastInteraction(ctx context.Context, host string, topic string, since float64) error {
	return s.raise(ctx, "last_interaction", host, topic, since)
}

func (s *SQLStorage) GetLastInteraction(ctx context.Context, host string, topic string) (float64, error) {
	return s.frontier(ctx, "last_interaction", host, topic)
}

func (s *SQLStorage) UpdateLastPush(ctx context.Context, host string, topic string, score float64) error {
	return s.raise(ctx, "last_push", host, topic, score)
}

func (s *SQLStorage) GetLastPush(ctx context.Context, host string, topic string) (float64, error) {
	return s.frontier(ctx, "last_push", host, topic)
}

// Transaction runs fn in a database transaction. Calls made inside a running transaction
// join it.
func (s *SQLStorage) Transaction(ctx context.Context, fn func(ctx context.Context, tx engine.Storage) error) (err error) {
	if s.tx != nil {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	scoped := &SQLStorage{db: s.db, q: tx, tx: tx}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback() //nolint:errcheck
			panic(r)
		}
	}()
	if err := fn(ctx, scoped); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *SQLStorage) Close() error {
	if s.tx != nil {
		return nil
	}
	return s.db.Close()
}

var _ engine.Storage = (*SQLStorage)(nil)
