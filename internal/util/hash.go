// Package util provides shared logging, id and statistics helpers.
package util

import "hash/fnv"

// ShortID computes a 4-byte fnv-1a hash of a participant id. Participant ids
// are usually uuids, so log lines use "[%08x]" of this value as a prefix.
func ShortID(participantID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(participantID))
	return h.Sum32()
}
