package oplog

import (
	"encoding/binary"

	"github.com/golemcloud/golem-sub031/internal/model"
)

// Keyspace, byte-wise sortable:
// - oplog/{worker}/m             last index (be8)
// - oplog/{worker}/e/{idx_be8}   entries
// - oplog/{worker}/d             deleted regions (JSON)
// - oplog/{worker}/a/{last_be8}  archived segment refs (JSON)
// - workers/{worker}             worker index marker
//
// {worker} is "{component uuid}/{name}"; names never contain '/'.

var (
	oplogPrefix   = []byte("oplog/")
	workersPrefix = []byte("workers/")
	metaSuffix    = []byte("/m")
	entrySeg      = []byte("/e/")
	deletedSuffix = []byte("/d")
	archiveSeg    = []byte("/a/")
)

func appendBE8(dst []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, v)
}

func keyWorkerPrefix(w model.WorkerID) []byte {
	k := make([]byte, 0, len(oplogPrefix)+64)
	k = append(k, oplogPrefix...)
	k = append(k, w.String()...)
	return k
}

func keyMeta(w model.WorkerID) []byte { return append(keyWorkerPrefix(w), metaSuffix...) }

func keyDeleted(w model.WorkerID) []byte { return append(keyWorkerPrefix(w), deletedSuffix...) }

func keyEntry(w model.WorkerID, idx Index) []byte {
	k := append(keyWorkerPrefix(w), entrySeg...)
	return appendBE8(k, uint64(idx))
}

func keyArchive(w model.WorkerID, last Index) []byte {
	k := append(keyWorkerPrefix(w), archiveSeg...)
	return appendBE8(k, uint64(last))
}

func keyWorkerIndex(w model.WorkerID) []byte {
	k := make([]byte, 0, len(workersPrefix)+64)
	k = append(k, workersPrefix...)
	return append(k, w.String()...)
}

// entryBounds returns [low, high) covering every entry key of w.
func entryBounds(w model.WorkerID) ([]byte, []byte) {
	low := keyEntry(w, 0)
	high := append(keyWorkerPrefix(w), entrySeg...)
	high = appendBE8(high, ^uint64(0))
	return low, append(high, 0x00)
}

func indexFromEntryKey(k []byte) Index {
	return Index(binary.BigEndian.Uint64(k[len(k)-8:]))
}
