package hodl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	g "github.com/pandodao/generic"
	"github.com/pandodao/mtg/mtgpack"
)

var (
	lockupPrefix     = []byte("l:")
	accountPrefix    = []byte("a:")
	draftPrefix      = []byte("d:")
	draftGroupPrefix = []byte("dg:")
	orderPrefix      = []byte("o:")
	pendingPrefix    = []byte("p:")
	legPrefix        = []byte("tl:")
	propertyPrefix   = []byte("prop:")
)

var (
	ErrLockupNotFound     = errors.New("lockup not found")
	ErrDraftNotFound      = errors.New("draft not found")
	ErrDraftGroupNotFound = errors.New("draft group not found")
	ErrOrdersNotFound     = errors.New("account orders not found")
)

func buildIndexKey(prefix []byte, values ...any) []byte {
	enc := mtgpack.NewEncoder()
	if err := enc.EncodeValues(values...); err != nil {
		panic(err)
	}

	return append(prefix, enc.Bytes()...)
}

func buildAccountKey(prefix []byte, accountID string) []byte {
	return append(bytes.Clone(prefix), accountID...)
}

func getJSON(txn *badger.Txn, key []byte, out any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	return txn.SetEntry(badger.NewEntry(key, g.Must(json.Marshal(v))))
}

// properties

func saveProperty(txn *badger.Txn, name string, v any) error {
	return setJSON(txn, buildAccountKey(propertyPrefix, name), v)
}

func readProperty(txn *badger.Txn, name string, out any) error {
	err := getJSON(txn, buildAccountKey(propertyPrefix, name), out)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}

	return err
}

func ReadProperty(db *badger.DB, name string, out any) error {
	txn := db.NewTransaction(false)
	defer txn.Discard()

	return readProperty(txn, name, out)
}

// nextIndex bumps the named counter and returns its previous value, so
// indices are sequential from zero and never reused after removal.
func nextIndex(txn *badger.Txn, name string) (uint32, error) {
	var next uint32
	if err := readProperty(txn, name, &next); err != nil {
		return 0, err
	}

	if err := saveProperty(txn, name, next+1); err != nil {
		return 0, err
	}

	return next, nil
}

// lockups

func getLockup(txn *badger.Txn, index LockupIndex) (*Lockup, error) {
	var lockup Lockup
	err := getJSON(txn, buildIndexKey(lockupPrefix, uint32(index)), &lockup)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrLockupNotFound, index)
	}

	if err != nil {
		return nil, err
	}

	return &lockup, nil
}

func saveLockup(txn *badger.Txn, index LockupIndex, lockup *Lockup) error {
	return setJSON(txn, buildIndexKey(lockupPrefix, uint32(index)), lockup)
}

func numLockups(txn *badger.Txn) (uint32, error) {
	var n uint32
	err := readProperty(txn, propNextLockup, &n)
	return n, err
}

// account index

func getAccountLockups(txn *badger.Txn, accountID string) (map[LockupIndex]bool, error) {
	var indices []LockupIndex
	err := getJSON(txn, buildAccountKey(accountPrefix, accountID), &indices)
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}

	set := make(map[LockupIndex]bool, len(indices))
	for _, index := range indices {
		set[index] = true
	}

	return set, nil
}

func saveAccountLockups(txn *badger.Txn, accountID string, indices map[LockupIndex]bool) error {
	key := buildAccountKey(accountPrefix, accountID)
	if len(indices) == 0 {
		err := txn.Delete(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}

		return err
	}

	sorted := make([]LockupIndex, 0, len(indices))
	for index := range indices {
		sorted = append(sorted, index)
	}

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return setJSON(txn, key, sorted)
}

// drafts

func getDraft(txn *badger.Txn, index DraftIndex) (*Draft, error) {
	var draft Draft
	err := getJSON(txn, buildIndexKey(draftPrefix, uint32(index)), &draft)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrDraftNotFound, index)
	}

	if err != nil {
		return nil, err
	}

	return &draft, nil
}

func saveDraft(txn *badger.Txn, index DraftIndex, draft *Draft) error {
	return setJSON(txn, buildIndexKey(draftPrefix, uint32(index)), draft)
}

func deleteDraft(txn *badger.Txn, index DraftIndex) error {
	return txn.Delete(buildIndexKey(draftPrefix, uint32(index)))
}

// draft groups

func getDraftGroup(txn *badger.Txn, index DraftGroupIndex) (*DraftGroup, error) {
	var group DraftGroup
	err := getJSON(txn, buildIndexKey(draftGroupPrefix, uint32(index)), &group)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrDraftGroupNotFound, index)
	}

	if err != nil {
		return nil, err
	}

	if group.DraftIndices == nil {
		group.DraftIndices = map[DraftIndex]bool{}
	}

	return &group, nil
}

func saveDraftGroup(txn *badger.Txn, index DraftGroupIndex, group *DraftGroup) error {
	return setJSON(txn, buildIndexKey(draftGroupPrefix, uint32(index)), group)
}

func deleteDraftGroup(txn *badger.Txn, index DraftGroupIndex) error {
	return txn.Delete(buildIndexKey(draftGroupPrefix, uint32(index)))
}

// orders

func getOrders(txn *badger.Txn, accountID string) ([]LockupClaim, error) {
	var orders []LockupClaim
	err := getJSON(txn, buildAccountKey(orderPrefix, accountID), &orders)
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}

	return orders, nil
}

func saveOrders(txn *badger.Txn, accountID string, orders []LockupClaim) error {
	key := buildAccountKey(orderPrefix, accountID)
	if len(orders) == 0 {
		err := txn.Delete(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}

		return err
	}

	return setJSON(txn, key, orders)
}

// pending operations

type legRef struct {
	OpID uuid.UUID `json:"op_id"`
}

func savePendingOp(txn *badger.Txn, op *PendingOperation) error {
	for _, leg := range op.Legs {
		if err := setJSON(txn, buildIndexKey(legPrefix, leg.ID), legRef{OpID: op.ID}); err != nil {
			return err
		}
	}

	return setJSON(txn, buildIndexKey(pendingPrefix, op.ID), op)
}

func getPendingOpByLeg(txn *badger.Txn, legID uuid.UUID) (*PendingOperation, error) {
	var ref legRef
	err := getJSON(txn, buildIndexKey(legPrefix, legID), &ref)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	var op PendingOperation
	if err := getJSON(txn, buildIndexKey(pendingPrefix, ref.OpID), &op); err != nil {
		return nil, err
	}

	return &op, nil
}

func listPendingOps(txn *badger.Txn) ([]*PendingOperation, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchSize = 10
	it := txn.NewIterator(opts)
	defer it.Close()

	var ops []*PendingOperation
	for it.Seek(pendingPrefix); it.ValidForPrefix(pendingPrefix); it.Next() {
		item := it.Item()

		var op PendingOperation
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &op)
		})

		if err != nil {
			return nil, err
		}

		ops = append(ops, &op)
	}

	return ops, nil
}

func deletePendingOp(txn *badger.Txn, op *PendingOperation) error {
	for _, leg := range op.Legs {
		if err := txn.Delete(buildIndexKey(legPrefix, leg.ID)); err != nil {
			return err
		}
	}

	return txn.Delete(buildIndexKey(pendingPrefix, op.ID))
}
