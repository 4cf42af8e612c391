package refpsk

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// sessionBlob is the gob-encoded shape of a saved session: enough to
// reconstruct an establishedContext without re-running the handshake.
type sessionBlob struct {
	SendKey     []byte
	RecvKey     []byte
	SendBase    []byte
	RecvBase    []byte
	SendCounter uint64
	OwnCID      []byte
	PeerCID     []byte
	CipherSuite string
	TagSize     int
}

func marshalBlob(e *establishedContext) ([]byte, error) {
	blob := sessionBlob{
		SendKey:     e.sendKey,
		RecvKey:     e.recvKey,
		SendBase:    e.sendBase,
		RecvBase:    e.recvBase,
		SendCounter: e.sendCounter,
		OwnCID:      e.ownCID,
		PeerCID:     e.peerCID,
		CipherSuite: e.cipherSuite,
		TagSize:     e.cfg.tagSize(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blob); err != nil {
		return nil, fmt.Errorf("refpsk: encode session blob: %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalBlob(data []byte) (*sessionBlob, error) {
	var blob sessionBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return nil, fmt.Errorf("refpsk: decode session blob: %w", err)
	}
	return &blob, nil
}
