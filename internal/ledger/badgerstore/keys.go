package badgerstore

import (
	"encoding/binary"
)

// Key layout. Integers are big-endian so prefix iteration yields ascending ids.
//
//	e/<id>                              entry record
//	d/<id>                              tombstone of a deleted entry awaiting purge
//	v/<vote epoch><id><session>         vote, value is the cast time
//	x/<view epoch><id><session>         exposure
//	s/<view epoch><len16><session><id>  exposure index by session
//
// Advancing an epoch hides every key written under the previous one. Hidden keys are
// removed later by purge.
var (
	entryPrefix     = []byte("e/")
	tombstonePrefix = []byte("d/")
	votePrefix      = []byte("v/")
	exposurePrefix  = []byte("x/")
	sessionPrefix   = []byte("s/")
	entrySequence   = []byte("seq/entries")
	voteEpochKey    = []byte("meta/vote-epoch")
	viewEpochKey    = []byte("meta/view-epoch")
)

func be64(id int64) []byte {
	return beU64(uint64(id))
}

func beU64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func join(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func entryKey(id int64) []byte {
	return join(entryPrefix, be64(id))
}

func tombstoneKey(id int64) []byte {
	return join(tombstonePrefix, be64(id))
}

func epochVotes(epoch uint64) []byte {
	return join(votePrefix, beU64(epoch))
}

func voteKey(epoch uint64, id int64, session string) []byte {
	return join(votePrefix, beU64(epoch), be64(id), []byte(session))
}

func epochExposures(epoch uint64) []byte {
	return join(exposurePrefix, beU64(epoch))
}

func exposureKey(epoch uint64, id int64, session string) []byte {
	return join(exposurePrefix, beU64(epoch), be64(id), []byte(session))
}

func sessionIndexPrefix(epoch uint64, session string) []byte {
	l := make([]byte, 2)
	binary.BigEndian.PutUint16(l, uint16(len(session)))
	return join(sessionPrefix, beU64(epoch), l, []byte(session))
}

func sessionIndexKey(epoch uint64, session string, id int64) []byte {
	return join(sessionIndexPrefix(epoch, session), be64(id))
}

// splitPairKey decodes a v/ or x/ key into its epoch, entry id and session.
func splitPairKey(prefix, key []byte) (uint64, int64, string, bool) {
	rest := key[len(prefix):]
	if len(rest) < 16 {
		return 0, 0, "", false
	}
	epoch := binary.BigEndian.Uint64(rest[:8])
	id := int64(binary.BigEndian.Uint64(rest[8:16]))
	return epoch, id, string(rest[16:]), true
}

// splitIndexKey decodes an s/ key into its epoch and entry id.
func splitIndexKey(key []byte) (uint64, int64, bool) {
	rest := key[len(sessionPrefix):]
	if len(rest) < 18 {
		return 0, 0, false
	}
	n := int(binary.BigEndian.Uint16(rest[8:10]))
	if len(rest) != 18+n {
		return 0, 0, false
	}
	return binary.BigEndian.Uint64(rest[:8]), int64(binary.BigEndian.Uint64(rest[10+n:])), true
}

// indexEntryID extracts the trailing id from a key directly under prefix.
func indexEntryID(prefix, key []byte) (int64, bool) {
	rest := key[len(prefix):]
	if len(rest) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(rest)), true
}
