// Package leveldb implements the bundle.Store interface on top of LevelDB
package leveldb

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"

	log "github.com/sirupsen/logrus"
)

var ErrCorrupted = fmt.Errorf("corrupted")

type LevelDB struct {
	path string
	mu   sync.Mutex
	db   *leveldb.DB
}

func keyFromID(id string) []byte {
	return append([]byte(keyPrefixID), []byte(id)...)
}

func keyFromSeq(seq uint64) []byte {
	return append([]byte(keyPrefixSeq), []byte(fmt.Sprintf("%016x", seq))...)
}

func seqFromKey(key []byte) (uint64, error) {
	if len(key) != len(keyPrefixSeq)+16 {
		return 0, fmt.Errorf("seqFromKey: invalid key length: %d", len(key))
	}
	if string(key[:len(keyPrefixSeq)]) != keyPrefixSeq {
		return 0, fmt.Errorf("seqFromKey: invalid key prefix: %s", string(key[:len(keyPrefixSeq)]))
	}
	var seq uint64
	if _, err := fmt.Sscanf(string(key[len(keyPrefixSeq):]), "%016x", &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func initLevelDb(path string) (*leveldb.DB, error) {
	opts := &opt.Options{
		Compression: opt.SnappyCompression,
	}

	db, err := leveldb.OpenFile(path, opts)
	if errors.IsCorrupted(err) {
		log.Warnf("LevelDB at %s is corrupted, attempting recovery", path)
		db, err = leveldb.RecoverFile(path, opts)
	}

	if err != nil {
		return nil, err
	}

	log.Infof("Opened LevelDB at %s", path)

	return db, nil
}

func (l *LevelDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Close()
}
