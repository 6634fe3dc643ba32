package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Change describes one committed write. Old is nil for a creation and New is
// nil for a deletion.
type Change struct {
	Key Key
	Old map[string]types.AttributeValue
	New map[string]types.AttributeValue
}

// ChangeNotifier fans committed changes out to subscribers, in the manner of
// a document-trigger platform. Subscribers run synchronously on the writer's
// goroutine and must hand work off if it can block.
type ChangeNotifier struct {
	mu   sync.RWMutex
	subs []func(Change)
}

// Subscribe registers fn to receive every committed change
func (n *ChangeNotifier) Subscribe(fn func(Change)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = append(n.subs, fn)
}

func (n *ChangeNotifier) publish(changes ...Change) {
	n.mu.RLock()
	subs := append(([]func(Change))(nil), n.subs...)
	n.mu.RUnlock()
	for _, change := range changes {
		for _, fn := range subs {
			fn(change)
		}
	}
}

// MemoryStore is an in-process DocumentStore. Batches commit atomically under
// a single lock.
type MemoryStore struct {
	ChangeNotifier

	mu    sync.Mutex
	items map[Key]map[string]types.AttributeValue
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[Key]map[string]types.AttributeValue)}
}

func (m *MemoryStore) GetItem(ctx context.Context, key Key, out interface{}) (bool, error) {
	m.mu.Lock()
	item, ok := m.items[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

func (m *MemoryStore) PutItem(ctx context.Context, key Key, item interface{}) error {
	av, err := marshalItem(key, item)
	if err != nil {
		return err
	}
	m.mu.Lock()
	old := m.items[key]
	m.items[key] = av
	m.mu.Unlock()

	m.publish(Change{Key: key, Old: old, New: av})
	return nil
}

func (m *MemoryStore) UpdateItem(ctx context.Context, key Key, fields map[string]interface{}) error {
	m.mu.Lock()
	old := m.items[key]
	updated, err := mergeFields(key, old, fields)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.items[key] = updated
	m.mu.Unlock()

	m.publish(Change{Key: key, Old: old, New: updated})
	return nil
}

func (m *MemoryStore) DeleteItem(ctx context.Context, key Key) error {
	m.mu.Lock()
	old, ok := m.items[key]
	delete(m.items, key)
	m.mu.Unlock()

	if ok {
		m.publish(Change{Key: key, Old: old})
	}
	return nil
}

func (m *MemoryStore) QueryItems(ctx context.Context, table, pk, skPrefix string, out interface{}) error {
	items := m.collect(func(k Key) bool {
		return k.Table == table && k.PK == pk && strings.HasPrefix(k.SK, skPrefix)
	})
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal query result: %w", err)
	}
	return nil
}

func (m *MemoryStore) CountItems(ctx context.Context, table, pk, skPrefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for k := range m.items {
		if k.Table == table && k.PK == pk && strings.HasPrefix(k.SK, skPrefix) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) ScanItems(ctx context.Context, table, skPrefix string, out interface{}) error {
	items := m.collect(func(k Key) bool {
		return k.Table == table && strings.HasPrefix(k.SK, skPrefix)
	})
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal scan result: %w", err)
	}
	return nil
}

func (m *MemoryStore) CommitBatch(ctx context.Context, batch *WriteBatch) error {
	ops := batch.Ops()
	marshaled := make([]map[string]types.AttributeValue, len(ops))
	for i, op := range ops {
		if op.Kind == OpDelete {
			continue
		}
		av, err := marshalItem(op.Key, op.Item)
		if err != nil {
			return err
		}
		marshaled[i] = av
	}

	m.mu.Lock()
	for _, op := range ops {
		if _, exists := m.items[op.Key]; exists && op.Kind == OpCreate {
			m.mu.Unlock()
			return fmt.Errorf("item %s/%s already exists: %w", op.Key.PK, op.Key.SK, ErrConditionFailed)
		}
	}
	changes := make([]Change, 0, len(ops))
	for i, op := range ops {
		old, existed := m.items[op.Key]
		if op.Kind == OpDelete {
			if existed {
				delete(m.items, op.Key)
				changes = append(changes, Change{Key: op.Key, Old: old})
			}
			continue
		}
		m.items[op.Key] = marshaled[i]
		changes = append(changes, Change{Key: op.Key, Old: old, New: marshaled[i]})
	}
	m.mu.Unlock()

	m.publish(changes...)
	return nil
}

func (m *MemoryStore) AcquireLease(ctx context.Context, key Key, token string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	old := m.items[key]
	if !leaseAvailable(old, token, now) {
		m.mu.Unlock()
		return false, nil
	}
	updated, err := mergeFields(key, old, map[string]interface{}{
		attrLeaseToken:     token,
		attrLeaseExpiresAt: now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		m.mu.Unlock()
		return false, err
	}
	m.items[key] = updated
	m.mu.Unlock()

	m.publish(Change{Key: key, Old: old, New: updated})
	return true, nil
}

func (m *MemoryStore) ReleaseLease(ctx context.Context, key Key, token string) error {
	m.mu.Lock()
	old, ok := m.items[key]
	if !ok || leaseToken(old) != token {
		m.mu.Unlock()
		return nil
	}
	updated := cloneItem(old)
	delete(updated, attrLeaseToken)
	delete(updated, attrLeaseExpiresAt)
	m.items[key] = updated
	m.mu.Unlock()

	m.publish(Change{Key: key, Old: old, New: updated})
	return nil
}

// collect returns copies of matching items ordered by partition then sort key
func (m *MemoryStore) collect(match func(Key) bool) []map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []Key
	for k := range m.items {
		if match(k) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PK != keys[j].PK {
			return keys[i].PK < keys[j].PK
		}
		return keys[i].SK < keys[j].SK
	})
	items := make([]map[string]types.AttributeValue, len(keys))
	for i, k := range keys {
		items[i] = m.items[k]
	}
	return items
}

// marshalItem converts item to an attribute map carrying the key attributes
func marshalItem(key Key, item interface{}) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	av[attrPK] = &types.AttributeValueMemberS{Value: key.PK}
	av[attrSK] = &types.AttributeValueMemberS{Value: key.SK}
	return av, nil
}

// mergeFields returns a copy of item (or a fresh keyed item) with fields set
func mergeFields(key Key, item map[string]types.AttributeValue, fields map[string]interface{}) (map[string]types.AttributeValue, error) {
	merged := cloneItem(item)
	merged[attrPK] = &types.AttributeValueMemberS{Value: key.PK}
	merged[attrSK] = &types.AttributeValueMemberS{Value: key.SK}
	for name, value := range fields {
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %q: %w", name, err)
		}
		merged[name] = av
	}
	return merged, nil
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	clone := make(map[string]types.AttributeValue, len(item)+2)
	for k, v := range item {
		clone[k] = v
	}
	return clone
}

func leaseToken(item map[string]types.AttributeValue) string {
	if attr, ok := item[attrLeaseToken].(*types.AttributeValueMemberS); ok {
		return attr.Value
	}
	return ""
}

// leaseAvailable reports whether token may claim the lease on item
func leaseAvailable(item map[string]types.AttributeValue, token string, now time.Time) bool {
	holder := leaseToken(item)
	if holder == "" || holder == token {
		return true
	}
	var expiresAt int64
	if attr, ok := item[attrLeaseExpiresAt]; ok {
		if err := attributevalue.Unmarshal(attr, &expiresAt); err != nil {
			return true
		}
	}
	return expiresAt < now.UnixMilli()
}
