package services

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"vibin_matcher/utils"
)

var (
	// ErrConditionFailed is returned when a conditional write (such as a
	// batch Create on an existing item) is rejected by the store.
	ErrConditionFailed = errors.New("condition failed")
)

// Key addresses a single document: a partition (PK) and a sort key (SK)
// within a table.
type Key struct {
	Table string
	PK    string
	SK    string
}

// DocumentStore is the keyed document storage the engine runs on. Items are
// plain structs carrying dynamodbav tags; the store adds the PK and SK
// attributes itself.
type DocumentStore interface {
	// GetItem loads the item at key into out and reports whether it exists.
	GetItem(ctx context.Context, key Key, out interface{}) (bool, error)
	// PutItem writes item at key, replacing any existing item.
	PutItem(ctx context.Context, key Key, item interface{}) error
	// UpdateItem sets the given top-level fields, creating the item if absent.
	UpdateItem(ctx context.Context, key Key, fields map[string]interface{}) error
	// DeleteItem removes the item at key. Deleting a missing item is not an error.
	DeleteItem(ctx context.Context, key Key) error
	// QueryItems loads every item of a partition whose sort key starts with
	// skPrefix into out (a pointer to a slice), ordered by sort key.
	QueryItems(ctx context.Context, table, pk, skPrefix string, out interface{}) error
	// CountItems counts the items of a partition whose sort key starts with skPrefix.
	CountItems(ctx context.Context, table, pk, skPrefix string) (int, error)
	// ScanItems loads every item of a table whose sort key starts with skPrefix.
	ScanItems(ctx context.Context, table, skPrefix string, out interface{}) error
	// CommitBatch applies every operation of batch all-or-nothing.
	CommitBatch(ctx context.Context, batch *WriteBatch) error
	// AcquireLease claims the lease held on the item at key for token, unless
	// another token holds an unexpired lease. It reports whether the claim succeeded.
	AcquireLease(ctx context.Context, key Key, token string, now time.Time, ttl time.Duration) (bool, error)
	// ReleaseLease gives up the lease if token still holds it.
	ReleaseLease(ctx context.Context, key Key, token string) error
}

// Attribute names shared by all backends
const (
	attrPK             = "PK"
	attrSK             = "SK"
	attrLeaseToken     = "leaseToken"
	attrLeaseExpiresAt = "leaseExpiresAt"
)

// KeyOf reads the key attributes the store wrote into item
func KeyOf(table string, item map[string]types.AttributeValue) (Key, bool) {
	pk, sk := utils.ExtractString(item, attrPK), utils.ExtractString(item, attrSK)
	if pk == "" || sk == "" {
		return Key{}, false
	}
	return Key{Table: table, PK: pk, SK: sk}, true
}

// OpKind is the kind of a batched write
type OpKind int

const (
	OpPut OpKind = iota
	OpCreate
	OpDelete
)

// BatchOp is one write in a WriteBatch
type BatchOp struct {
	Kind OpKind
	Key  Key
	Item interface{}
}

// WriteBatch collects writes to be committed atomically. It holds at most one
// operation per key: a later operation on a key replaces the earlier one, so
// deleting an item and writing it again in the same batch is a plain put.
type WriteBatch struct {
	ops   []BatchOp
	index map[Key]int
}

// NewWriteBatch returns an empty batch
func NewWriteBatch() *WriteBatch {
	return &WriteBatch{index: make(map[Key]int)}
}

// Put writes item at key, replacing any existing item
func (b *WriteBatch) Put(key Key, item interface{}) {
	b.add(BatchOp{Kind: OpPut, Key: key, Item: item})
}

// Create writes item at key; the whole batch fails with ErrConditionFailed if
// an item already exists there.
func (b *WriteBatch) Create(key Key, item interface{}) {
	b.add(BatchOp{Kind: OpCreate, Key: key, Item: item})
}

// Delete removes the item at key
func (b *WriteBatch) Delete(key Key) {
	b.add(BatchOp{Kind: OpDelete, Key: key})
}

// Len returns the number of operations in the batch
func (b *WriteBatch) Len() int {
	return len(b.ops)
}

// Ops returns the batch operations in insertion order
func (b *WriteBatch) Ops() []BatchOp {
	return append([]BatchOp(nil), b.ops...)
}

func (b *WriteBatch) add(op BatchOp) {
	if i, ok := b.index[op.Key]; ok {
		b.ops[i] = op
		return
	}
	b.index[op.Key] = len(b.ops)
	b.ops = append(b.ops, op)
}
