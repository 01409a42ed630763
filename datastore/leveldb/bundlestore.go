package leveldb

import (
	"dtnd/datamodel/bundle"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	log "github.com/sirupsen/logrus"
)

const (
	keyPrefixID  = "BID" // Bundle record indexed by bundle ID. Followed by the textual ID
	keyPrefixSeq = "SEQ" // Bundle ID indexed by local arrival sequence. Followed by a 16-digit hexadecimal number
)

var _ bundle.Store = (*BundleStore)(nil)

// record is what is stored under the BID key. The sequence number links it to its SEQ key.
type record struct {
	Sequence uint64         `cbor:"1,keyasint"`
	Bundle   *bundle.Bundle `cbor:"2,keyasint"`
}

// BundleStore keeps bundles in LevelDB. ListBundleIDs returns bundles in arrival order.
type BundleStore struct {
	LevelDB
	seq uint64
}

func NewBundleStore(path string) (*BundleStore, error) {
	ldb, err := initLevelDb(path)
	if err != nil {
		return nil, err
	}

	maxSeq, err := lastSeq(ldb)
	if err != nil {
		ldb.Close()
		return nil, err
	}

	return &BundleStore{
		LevelDB: LevelDB{
			path: path,
			db:   ldb,
		},
		seq: maxSeq,
	}, nil
}

// lastSeq recovers the last used sequence number from the SEQ keys
func lastSeq(ldb *leveldb.DB) (uint64, error) {
	iter := ldb.NewIterator(util.BytesPrefix([]byte(keyPrefixSeq)), nil)
	defer iter.Release()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return seqFromKey(iter.Key())
}

// getRecord expects l.mu to be held
func (l *BundleStore) getRecord(id string) (*record, error) {
	raw, err := l.db.Get(keyFromID(id), nil)
	if err == errors.ErrNotFound {
		return nil, bundle.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &record{}
	if err := cbor.Unmarshal(raw, rec); err != nil {
		return nil, err
	}

	if rec.Bundle == nil || rec.Bundle.ID() != id {
		log.Errorf("BundleStore: record for %s is corrupted", id)
		return nil, ErrCorrupted
	}

	return rec, nil
}

func (l *BundleStore) Push(b *bundle.Bundle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := b.ID()
	batch := new(leveldb.Batch)

	// A replaced bundle moves to the end of the arrival order
	existing, err := l.getRecord(id)
	switch {
	case err == nil:
		batch.Delete(keyFromSeq(existing.Sequence))
	case err != bundle.ErrNotFound:
		return err
	}

	newSeq := l.seq + 1
	raw, err := cbor.Marshal(&record{Sequence: newSeq, Bundle: b})
	if err != nil {
		return err
	}

	batch.Put(keyFromID(id), raw)
	batch.Put(keyFromSeq(newSeq), []byte(id))

	if err := l.db.Write(batch, nil); err != nil {
		return err
	}

	l.seq = newSeq
	log.Debugf("BundleStore: stored %s (seq %d)", id, newSeq)

	return nil
}

func (l *BundleStore) Get(id string) (*bundle.Bundle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.getRecord(id)
	if err != nil {
		return nil, err
	}
	return rec.Bundle, nil
}

func (l *BundleStore) Has(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.db.Has(keyFromID(id), nil)
}

func (l *BundleStore) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.getRecord(id)
	if err == bundle.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	batch := new(leveldb.Batch)
	batch.Delete(keyFromID(id))
	batch.Delete(keyFromSeq(rec.Sequence))

	return l.db.Write(batch, nil)
}

func (l *BundleStore) ListBundleIDs() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []string

	iter := l.db.NewIterator(util.BytesPrefix([]byte(keyPrefixSeq)), nil)
	defer iter.Release()

	for iter.Next() {
		ids = append(ids, string(iter.Value()))
	}

	return ids, iter.Error()
}
