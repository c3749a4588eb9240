package durability

import "github.com/golemcloud/golem-sub031/internal/oplog"

// PersistenceLevel controls which durable operations are recorded.
type PersistenceLevel uint8

const (
	// PersistNothing records nothing. It is in effect while a live
	// operation runs so its transitive effects are not recorded twice.
	PersistNothing PersistenceLevel = iota
	// PersistRemoteSideEffects records only operations crossing a process
	// boundary.
	PersistRemoteSideEffects
	// Smart records every operation that is not provably deterministic.
	Smart
)

func (l PersistenceLevel) String() string {
	switch l {
	case PersistNothing:
		return "persist-nothing"
	case PersistRemoteSideEffects:
		return "persist-remote-side-effects"
	case Smart:
		return "smart"
	default:
		return "unknown"
	}
}

// Records reports whether an operation of type ft is recorded at this level.
func (l PersistenceLevel) Records(ft oplog.FunctionType) bool {
	switch l {
	case Smart:
		return true
	case PersistRemoteSideEffects:
		return ft.IsRemote()
	default:
		return false
	}
}
