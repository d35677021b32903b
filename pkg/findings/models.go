package findings

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is an ordered list of statements persisted as a JSON array in a
// text column. A nil list is stored as NULL.
type StringList []string

// GormDataType keeps the column a plain text column on every dialect.
func (StringList) GormDataType() string { return "text" }

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		return l.decode([]byte(v))
	case []byte:
		return l.decode(v)
	}
	return fmt.Errorf("scan string list: unsupported source %T", src)
}

func (l *StringList) decode(data []byte) error {
	if len(data) == 0 {
		*l = nil
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("scan string list: %w", err)
	}
	*l = items
	return nil
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("encode string list: %w", err)
	}
	return string(data), nil
}
