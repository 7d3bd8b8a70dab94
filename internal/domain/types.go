package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is the free-form mapping stored alongside a job. It round-trips
// through the database as a JSON object.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata column type %T", value)
	}

	if len(data) == 0 || string(data) == "null" {
		*m = nil
		return nil
	}

	return m.UnmarshalJSON(data)
}

// UnmarshalJSON accepts any JSON object; non-string scalars are stringified so
// legacy documents with numbers or booleans still load.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Metadata, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case map[string]interface{}, []interface{}:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	*m = out
	return nil
}
