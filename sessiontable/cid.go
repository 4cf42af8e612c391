package sessiontable

import "github.com/jkiiskila/dtls-session-engine/cryptoadapter"

// ExtractCID classifies an inbound datagram that matched no table entry.
// It reports (cid, true) when cidSize > 0 and the adapter recognizes the
// datagram as carrying a CID of that length, and (nil, false) otherwise
// — in which case the caller should treat the datagram as a fresh
// handshake attempt.
func ExtractCID(adapter cryptoadapter.Adapter, cidSize int, datagram []byte) ([]byte, bool) {
	if cidSize <= 0 {
		return nil, false
	}
	return adapter.PeekCID(cidSize, datagram)
}
