package plugin

import (
	"encoding/json"
	"hash/fnv"
)

// canonicalHashJSON hashes raw after a decode/encode round trip, so
// whitespace and key order do not count. Invalid JSON hashes as bytes.
func canonicalHashJSON(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	b := []byte(raw)
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		if canon, err := json.Marshal(v); err == nil {
			b = canon
		}
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
