package badger

import (
	"encoding/json"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/satchel-edu/satchel/pkg/cache"
)

func keyContent(owner cache.OwnerID, id cache.ContentID) []byte {
	return []byte(fmt.Sprintf("c/%s/%s", owner, id))
}

func prefixOwnerContent(owner cache.OwnerID) []byte {
	return []byte(fmt.Sprintf("c/%s/", owner))
}

// keyOperation encodes the FIFO position: creation nanos zero-padded to 20
// digits so lexicographic key order is queue order, operation id as tiebreak.
func keyOperation(op *cache.SyncOperation) []byte {
	return []byte(fmt.Sprintf("op/%s/%020d/%s", op.OwnerID, op.CreatedAt.UnixNano(), op.OperationID))
}

func prefixOwnerOps(owner cache.OwnerID) []byte {
	return []byte(fmt.Sprintf("op/%s/", owner))
}

func keySize(owner cache.OwnerID) []byte {
	return []byte("sz/" + string(owner))
}

func keyLastSync(owner cache.OwnerID) []byte {
	return []byte("ls/" + string(owner))
}

func encodeContent(content *cache.CachedContent) ([]byte, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode content %s: %w", content.ContentID, err)
	}
	return data, nil
}

func decodeContentItem(item *badger.Item) (*cache.CachedContent, error) {
	var content cache.CachedContent
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &content)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode content row: %w", err)
	}
	return &content, nil
}

func encodeOperation(op *cache.SyncOperation) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation %s: %w", op.OperationID, err)
	}
	return data, nil
}

func decodeOperationItem(item *badger.Item) (*cache.SyncOperation, error) {
	var op cache.SyncOperation
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &op)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode operation row: %w", err)
	}
	return &op, nil
}

func sortByPriorityRecency(items []*cache.CachedContent) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].LastAccessed.After(items[j].LastAccessed)
	})
}

func sortOwners(owners []cache.OwnerID) {
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
}
