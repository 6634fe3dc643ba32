package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements DocumentStore on a single SQLite file. Items are kept
// in DynamoDB JSON so every backend round-trips the same attribute types.
type SQLiteStore struct {
	ChangeNotifier

	db *sql.DB
}

// NewSQLiteStore opens or creates the database at dbPath and initializes the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time; leases and batches read then write inside a transaction
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initItemsSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func initItemsSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		tbl TEXT NOT NULL,
		pk TEXT NOT NULL,
		sk TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tbl, pk, sk)
	);

	CREATE INDEX IF NOT EXISTS idx_items_tbl_sk ON items(tbl, sk);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func loadItem(ctx context.Context, q queryer, key Key) (map[string]types.AttributeValue, error) {
	var body string
	err := q.QueryRowContext(ctx,
		`SELECT body FROM items WHERE tbl = ? AND pk = ? AND sk = ?`,
		key.Table, key.PK, key.SK,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item %s/%s: %w", key.PK, key.SK, err)
	}
	return decodeItem(body)
}

func storeItem(ctx context.Context, tx *sql.Tx, key Key, item map[string]types.AttributeValue) error {
	body, err := encodeItem(item)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO items (tbl, pk, sk, body, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tbl, pk, sk) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		key.Table, key.PK, key.SK, body, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to store item %s/%s: %w", key.PK, key.SK, err)
	}
	return nil
}

func removeItem(ctx context.Context, tx *sql.Tx, key Key) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM items WHERE tbl = ? AND pk = ? AND sk = ?`,
		key.Table, key.PK, key.SK,
	)
	if err != nil {
		return fmt.Errorf("failed to delete item %s/%s: %w", key.PK, key.SK, err)
	}
	return nil
}

// withTx runs fn in a transaction and publishes its changes after commit
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) ([]Change, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	changes, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.publish(changes...)
	return nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, key Key, out interface{}) (bool, error) {
	item, err := loadItem(ctx, s.db, key)
	if err != nil || item == nil {
		return false, err
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) PutItem(ctx context.Context, key Key, item interface{}) error {
	av, err := marshalItem(key, item)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) ([]Change, error) {
		old, err := loadItem(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if err := storeItem(ctx, tx, key, av); err != nil {
			return nil, err
		}
		return []Change{{Key: key, Old: old, New: av}}, nil
	})
}

func (s *SQLiteStore) UpdateItem(ctx context.Context, key Key, fields map[string]interface{}) error {
	return s.withTx(ctx, func(tx *sql.Tx) ([]Change, error) {
		old, err := loadItem(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		updated, err := mergeFields(key, old, fields)
		if err != nil {
			return nil, err
		}
		if err := storeItem(ctx, tx, key, updated); err != nil {
			return nil, err
		}
		return []Change{{Key: key, Old: old, New: updated}}, nil
	})
}

func (s *SQLiteStore) DeleteItem(ctx context.Context, key Key) error {
	return s.withTx(ctx, func(tx *sql.Tx) ([]Change, error) {
		old, err := loadItem(ctx, tx, key)
		if err != nil || old == nil {
			return nil, err
		}
		if err := removeItem(ctx, tx, key); err != nil {
			return nil, err
		}
		return []Change{{Key: key, Old: old}}, nil
	})
}

func (s *SQLiteStore) QueryItems(ctx context.Context, table, pk, skPrefix string, out interface{}) error {
	items, err := s.selectItems(ctx,
		`SELECT body FROM items WHERE tbl = ? AND pk = ? AND instr(sk, ?) = 1 ORDER BY sk`,
		table, pk, skPrefix)
	if err != nil {
		return fmt.Errorf("failed to query table '%s': %w", table, err)
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal query result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountItems(ctx context.Context, table, pk, skPrefix string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE tbl = ? AND pk = ? AND instr(sk, ?) = 1`,
		table, pk, skPrefix,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count items in table '%s': %w", table, err)
	}
	return count, nil
}

func (s *SQLiteStore) ScanItems(ctx context.Context, table, skPrefix string, out interface{}) error {
	items, err := s.selectItems(ctx,
		`SELECT body FROM items WHERE tbl = ? AND instr(sk, ?) = 1 ORDER BY pk, sk`,
		table, skPrefix)
	if err != nil {
		return fmt.Errorf("failed to scan table '%s': %w", table, err)
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal scan result: %w", err)
	}
	return nil
}

func (s *SQLiteStore) selectItems(ctx context.Context, query string, args ...interface{}) ([]map[string]types.AttributeValue, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []map[string]types.AttributeValue
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		item, err := decodeItem(body)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) CommitBatch(ctx context.Context, batch *WriteBatch) error {
	return s.withTx(ctx, func(tx *sql.Tx) ([]Change, error) {
		var changes []Change
		for _, op := range batch.Ops() {
			old, err := loadItem(ctx, tx, op.Key)
			if err != nil {
				return nil, err
			}
			switch op.Kind {
			case OpDelete:
				if old == nil {
					continue
				}
				if err := removeItem(ctx, tx, op.Key); err != nil {
					return nil, err
				}
				changes = append(changes, Change{Key: op.Key, Old: old})
			default:
				if op.Kind == OpCreate && old != nil {
					return nil, fmt.Errorf("item %s/%s already exists: %w", op.Key.PK, op.Key.SK, ErrConditionFailed)
				}
				av, err := marshalItem(op.Key, op.Item)
				if err != nil {
					return nil, err
				}
				if err := storeItem(ctx, tx, op.Key, av); err != nil {
					return nil, err
				}
				changes = append(changes, Change{Key: op.Key, Old: old, New: av})
			}
		}
		return changes, nil
	})
}

func (s *SQLiteStore) AcquireLease(ctx context.Context, key Key, token string, now time.Time, ttl time.Duration) (bool, error) {
	acquired := false
	err := s.withTx(ctx, func(tx *sql.Tx) ([]Change, error) {
		old, err := loadItem(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		if !leaseAvailable(old, token, now) {
			return nil, nil
		}
		updated, err := mergeFields(key, old, map[string]interface{}{
			attrLeaseToken:     token,
			attrLeaseExpiresAt: now.Add(ttl).UnixMilli(),
		})
		if err != nil {
			return nil, err
		}
		if err := storeItem(ctx, tx, key, updated); err != nil {
			return nil, err
		}
		acquired = true
		return []Change{{Key: key, Old: old, New: updated}}, nil
	})
	return acquired, err
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, key Key, token string) error {
	return s.withTx(ctx, func(tx *sql.Tx) ([]Change, error) {
		old, err := loadItem(ctx, tx, key)
		if err != nil || old == nil || leaseToken(old) != token {
			return nil, err
		}
		updated := cloneItem(old)
		delete(updated, attrLeaseToken)
		delete(updated, attrLeaseExpiresAt)
		if err := storeItem(ctx, tx, key, updated); err != nil {
			return nil, err
		}
		return []Change{{Key: key, Old: old, New: updated}}, nil
	})
}

// encodeItem renders an attribute map as DynamoDB JSON ({"S": "..."}, {"N": "1"}, ...)
func encodeItem(item map[string]types.AttributeValue) (string, error) {
	doc := make(map[string]interface{}, len(item))
	for name, av := range item {
		v, err := toDynamoJSON(av)
		if err != nil {
			return "", fmt.Errorf("failed to encode attribute %q: %w", name, err)
		}
		doc[name] = v
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal item: %w", err)
	}
	return string(body), nil
}

func decodeItem(body string) (map[string]types.AttributeValue, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	item := make(map[string]types.AttributeValue, len(doc))
	for name, raw := range doc {
		av, err := fromDynamoJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode attribute %q: %w", name, err)
		}
		item[name] = av
	}
	return item, nil
}

func toDynamoJSON(av types.AttributeValue) (map[string]interface{}, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return map[string]interface{}{"S": v.Value}, nil
	case *types.AttributeValueMemberN:
		return map[string]interface{}{"N": v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return map[string]interface{}{"BOOL": v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return map[string]interface{}{"NULL": true}, nil
	case *types.AttributeValueMemberB:
		return map[string]interface{}{"B": v.Value}, nil
	case *types.AttributeValueMemberSS:
		return map[string]interface{}{"SS": v.Value}, nil
	case *types.AttributeValueMemberNS:
		return map[string]interface{}{"NS": v.Value}, nil
	case *types.AttributeValueMemberBS:
		return map[string]interface{}{"BS": v.Value}, nil
	case *types.AttributeValueMemberL:
		list := make([]interface{}, len(v.Value))
		for i, elem := range v.Value {
			encoded, err := toDynamoJSON(elem)
			if err != nil {
				return nil, err
			}
			list[i] = encoded
		}
		return map[string]interface{}{"L": list}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]interface{}, len(v.Value))
		for name, elem := range v.Value {
			encoded, err := toDynamoJSON(elem)
			if err != nil {
				return nil, err
			}
			m[name] = encoded
		}
		return map[string]interface{}{"M": m}, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", av)
	}
}

type dynamoJSON struct {
	S    *string                    `json:"S"`
	N    *string                    `json:"N"`
	BOOL *bool                      `json:"BOOL"`
	NULL *bool                      `json:"NULL"`
	B    []byte                     `json:"B"`
	SS   []string                   `json:"SS"`
	NS   []string                   `json:"NS"`
	BS   [][]byte                   `json:"BS"`
	L    []json.RawMessage          `json:"L"`
	M    map[string]json.RawMessage `json:"M"`
}

func fromDynamoJSON(raw json.RawMessage) (types.AttributeValue, error) {
	var v dynamoJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch {
	case v.S != nil:
		return &types.AttributeValueMemberS{Value: *v.S}, nil
	case v.N != nil:
		return &types.AttributeValueMemberN{Value: *v.N}, nil
	case v.BOOL != nil:
		return &types.AttributeValueMemberBOOL{Value: *v.BOOL}, nil
	case v.NULL != nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case v.B != nil:
		return &types.AttributeValueMemberB{Value: v.B}, nil
	case v.SS != nil:
		return &types.AttributeValueMemberSS{Value: v.SS}, nil
	case v.NS != nil:
		return &types.AttributeValueMemberNS{Value: v.NS}, nil
	case v.BS != nil:
		return &types.AttributeValueMemberBS{Value: v.BS}, nil
	case v.L != nil:
		list := make([]types.AttributeValue, len(v.L))
		for i, elem := range v.L {
			decoded, err := fromDynamoJSON(elem)
			if err != nil {
				return nil, err
			}
			list[i] = decoded
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case v.M != nil:
		m := make(map[string]types.AttributeValue, len(v.M))
		for name, elem := range v.M {
			decoded, err := fromDynamoJSON(elem)
			if err != nil {
				return nil, err
			}
			m[name] = decoded
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	default:
		return nil, errors.New("empty attribute value")
	}
}
