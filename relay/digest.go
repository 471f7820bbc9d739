package relay

import (
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/crypto/blake256"

	triviaroyale "github.com/grmkris/trivia-royale-erc7824-sub000"
)

// StateDigest is the digest both parties sign over a channel state. Signature
// fields are excluded so party and broker sign the same bytes.
func StateDigest(s *State) [32]byte {
	h := blake256.New()
	h.Write([]byte(triviaroyale.StateTagV1))
	h.Write([]byte(s.ChannelID))
	h.Write([]byte{'|'})
	var vb [8]byte
	for i := 0; i < 8; i++ {
		vb[i] = byte(s.Version >> (8 * (7 - i)))
	}
	h.Write(vb[:])
	h.Write([]byte{'|'})
	h.Write([]byte(s.Intent))
	h.Write([]byte{'|'})
	h.Write([]byte(s.Asset))
	h.Write([]byte{'|'})
	var ab [8]byte
	ua := uint64(s.Amount)
	for i := 0; i < 8; i++ {
		ab[i] = byte(ua >> (8 * (7 - i)))
	}
	h.Write(ab[:])
	h.Write([]byte{'|'})
	var rb [8]byte
	ur := uint64(s.ResizeAmount)
	for i := 0; i < 8; i++ {
		rb[i] = byte(ur >> (8 * (7 - i)))
	}
	h.Write(rb[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SessionRequestDigest is the digest every participant signs to co-sign a
// session creation request. The signed body is the definition plus the
// allocation table; signatures themselves are excluded.
func SessionRequestDigest(def SessionDefinition, allocs []Allocation) ([32]byte, error) {
	body, err := json.Marshal(struct {
		Definition  SessionDefinition `json:"definition"`
		Allocations []Allocation      `json:"allocations"`
	}{def, allocs})
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal session request body: %w", err)
	}
	h := blake256.New()
	h.Write([]byte(triviaroyale.SessionTagV1))
	h.Write(body)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
