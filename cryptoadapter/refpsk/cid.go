package refpsk

import "github.com/jkiiskila/dtls-session-engine/cryptoadapter"

// cidSupplier issues random, fixed-length Connection IDs.
type cidSupplier struct {
	size int
}

func newCIDSupplier(size int) cryptoadapter.CIDSupplier {
	if size <= 0 {
		return nil
	}
	return &cidSupplier{size: size}
}

func (s *cidSupplier) Next() ([]byte, error) {
	return randomBytes(s.size)
}
