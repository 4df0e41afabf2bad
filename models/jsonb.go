package models

import (
	"encoding/json"
	"fmt"
)

// jsonbBytes extracts the raw bytes pgx or database/sql hand to a Scanner for
// a JSONB or TEXT column. A nil result means the column was NULL or empty.
func jsonbBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported JSONB source type %T", value)
	}
}

// scanJSONB decodes a JSONB column into dst, leaving dst untouched for NULL.
func scanJSONB(value interface{}, dst interface{}) error {
	b, err := jsonbBytes(value)
	if err != nil || b == nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
