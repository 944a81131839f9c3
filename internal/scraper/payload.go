package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeItems splits a delivered payload into raw items. Vendors are
// inconsistent about the envelope: some send a bare JSON array, some wrap it
// as {"data": [...]}, and single-item deliveries arrive as one object.
func DecodeItems(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err == nil {
		return items, nil
	}

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data, nil
	}

	var single map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &single); err == nil {
		return []json.RawMessage{json.RawMessage(trimmed)}, nil
	}

	return nil, fmt.Errorf("payload is neither a JSON array, a data envelope, nor an object")
}
