package storage

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// SlotKeyWidth is the number of decimal digits in a slot key.
const SlotKeyWidth = 6

// MaxSlots is the number of distinct slot keys available.
const MaxSlots = 1_000_000

var (
	// ErrSlotOutOfRange is returned by KeyAt for an index past the last slot.
	ErrSlotOutOfRange = errors.New("slot index out of range")
	// ErrSlotsExhausted is returned by NextKey once every key has been issued.
	ErrSlotsExhausted = errors.New("slot keys exhausted")
)

var (
	recordPrefix = []byte("acct/")
	metaPrefix   = []byte("meta/")
	nextKeyKey   = []byte("next")
)

// SlotStore keeps opaque record blobs under zero-padded decimal keys.
// Enumeration order is key order, which is creation order. Deleting a slot
// never renumbers the others, and the persisted high-water mark guarantees
// a deleted key is never issued again.
//
// SlotStore does no locking of its own; callers serialize writes.
type SlotStore struct {
	records *PrefixDB
	meta    *PrefixDB
}

// NewSlotStore layers a slot index over db.
func NewSlotStore(db DB) *SlotStore {
	return &SlotStore{
		records: NewPrefixDB(db, recordPrefix),
		meta:    NewPrefixDB(db, metaPrefix),
	}
}

// FormatSlotKey renders n as a slot key.
func FormatSlotKey(n int) string {
	return fmt.Sprintf("%0*d", SlotKeyWidth, n)
}

// NextKey reserves and returns the next unused key.
func (s *SlotStore) NextKey() (string, error) {
	next, err := s.highWater()
	if err != nil {
		return "", err
	}
	if next >= MaxSlots {
		return "", ErrSlotsExhausted
	}
	if err := s.meta.Put(nextKeyKey, []byte(strconv.Itoa(next+1))); err != nil {
		return "", fmt.Errorf("persist slot counter: %w", err)
	}
	return FormatSlotKey(next), nil
}

// highWater returns the first key number never issued. Stores written
// without a counter fall back to one past the largest existing key.
func (s *SlotStore) highWater() (int, error) {
	raw, err := s.meta.Get(nextKeyKey)
	if err == nil {
		n, perr := strconv.Atoi(string(raw))
		if perr != nil || n < 0 {
			return 0, fmt.Errorf("corrupt slot counter %q", raw)
		}
		return n, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("read slot counter: %w", err)
	}

	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	last, err := strconv.Atoi(keys[len(keys)-1])
	if err != nil {
		return 0, fmt.Errorf("corrupt slot key %q", keys[len(keys)-1])
	}
	return last + 1, nil
}

// Put writes blob under key.
func (s *SlotStore) Put(key string, blob []byte) error {
	return s.records.Put([]byte(key), blob)
}

// Get returns the blob stored under key, or ErrNotFound.
func (s *SlotStore) Get(key string) ([]byte, error) {
	return s.records.Get([]byte(key))
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SlotStore) Delete(key string) error {
	return s.records.Delete([]byte(key))
}

// Keys returns every live key in ascending order.
func (s *SlotStore) Keys() ([]string, error) {
	var keys []string
	err := s.records.ForEach(nil, func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// KeyAt returns the index-th live key.
func (s *SlotStore) KeyAt(index int) (string, error) {
	keys, err := s.Keys()
	if err != nil {
		return "", err
	}
	if index < 0 || index >= len(keys) {
		return "", ErrSlotOutOfRange
	}
	return keys[index], nil
}

// Count returns the number of live keys.
func (s *SlotStore) Count() (int, error) {
	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Clear removes every record and resets the key counter.
func (s *SlotStore) Clear() error {
	if err := s.records.DeleteAll(); err != nil {
		return fmt.Errorf("clear slots: %w", err)
	}
	if err := s.meta.Delete(nextKeyKey); err != nil {
		return fmt.Errorf("reset slot counter: %w", err)
	}
	return nil
}
