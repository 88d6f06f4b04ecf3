package sandbox

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"github.com/caffeineduck/sandproxy/policy"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Definitions without a Body are written with the opaque tag. Two opaque
// definitions with the same name hash identically whatever they do.
const (
	tagOpaque byte = iota
	tagBody
)

// Hash returns the identity hash of the sandbox configuration. It is
// computed on first use and cached until Clear. Equal hashes mean the
// policies encode identically and define the same overrides with the same
// bodies.
//
// Hash panics if the policy was mutated into a state that cannot be encoded.
func (s *Sandbox) Hash() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hash != "" {
		return s.hash
	}
	h, err := identity(s.policy)
	if err != nil {
		panic(fmt.Sprintf("sandbox: hash: %v", err))
	}
	s.hash = h
	s.metrics.IncHashComputations()
	s.logger.Debug("identity hash computed", zap.String("hash", h))
	return h
}

// Clear drops the cached hash so the next Hash call reflects the current
// policy.
func (s *Sandbox) Clear() {
	s.mu.Lock()
	s.hash = ""
	s.mu.Unlock()
}

func identity(p *policy.Policy) (string, error) {
	canonical, err := p.Canonical()
	if err != nil {
		return "", err
	}
	d, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	writeField(d, canonical)
	for _, fn := range p.Definitions() {
		writeField(d, []byte(p.Fold(fn.Name)))
		if fn.Body == "" {
			d.Write([]byte{tagOpaque})
			continue
		}
		d.Write([]byte{tagBody})
		writeField(d, []byte(fn.Body))
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

// writeField length-prefixes b so no field content can be read as a field
// boundary.
func writeField(h hash.Hash, b []byte) {
	h.Write(binary.AppendUvarint(nil, uint64(len(b))))
	h.Write(b)
}
