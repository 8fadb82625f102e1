package crdt

import (
	"encoding/json"
	"fmt"
)

// Fragment names are fixed, well-known addresses within a document: the
// same names on every replica, so updates target the right sub-document.
const (
	FragmentContent = "content"
	FragmentTitle   = "title"
)

const updateVersion = 1

// record is the wire form of one element's full state.
type record struct {
	Fragment string `json:"f"`
	ID       ID     `json:"i"`
	Origin   ID     `json:"o"`
	Payload  []byte `json:"p,omitempty"`
	Deleted  bool   `json:"d,omitempty"`
	Stamp    ID     `json:"t"`
}

// update is the envelope carried over the relay and persisted (base64
// encoded) as the canonical snapshot. A delta and a full-state snapshot
// share the encoding; they differ only in how many records they carry.
type update struct {
	Version int      `json:"v"`
	Records []record `json:"r"`
}

func encodeUpdate(records []record) []byte {
	data, err := json.Marshal(update{Version: updateVersion, Records: records})
	if err != nil {
		// Records hold only JSON-safe fields; this cannot fail in practice.
		return nil
	}
	return data
}

func decodeUpdate(data []byte) ([]record, error) {
	var u update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	if u.Version != updateVersion {
		return nil, fmt.Errorf("unsupported update version %d", u.Version)
	}
	for _, rec := range u.Records {
		if rec.ID.IsZero() {
			return nil, fmt.Errorf("update record with zero id")
		}
		if rec.Fragment != FragmentContent && rec.Fragment != FragmentTitle {
			return nil, fmt.Errorf("update record with unknown fragment %q", rec.Fragment)
		}
	}
	return u.Records, nil
}
