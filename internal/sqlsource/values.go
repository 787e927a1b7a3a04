package sqlsource

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arkilian/surrogate/internal/dataset"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// fromSQL converts a scanned driver value into the column's canonical type.
func fromSQL(v any, typ dataset.DataType) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		switch typ {
		case dataset.TypeBytes:
			return bytes.Clone(x), nil
		case dataset.TypeGuid:
			if len(x) == 16 {
				return uuid.FromBytes(x)
			}
		}
		return fromString(string(x), typ)
	case string:
		return fromString(x, typ)
	case int64:
		switch typ {
		case dataset.TypeBoolean:
			return x != 0, nil
		case dataset.TypeString:
			return strconv.FormatInt(x, 10), nil
		}
	case float64:
		if typ == dataset.TypeString {
			return strconv.FormatFloat(x, 'g', -1, 64), nil
		}
	case bool:
		switch typ {
		case dataset.TypeString:
			return strconv.FormatBool(x), nil
		case dataset.TypeInt32, dataset.TypeInt64:
			if x {
				return typ.Coerce(1)
			}
			return typ.Coerce(0)
		}
	case time.Time:
		if typ == dataset.TypeString {
			return x.Format(time.RFC3339Nano), nil
		}
	}
	return typ.Coerce(v)
}

func fromString(s string, typ dataset.DataType) (any, error) {
	switch typ {
	case dataset.TypeString:
		return s, nil
	case dataset.TypeBytes:
		return []byte(s), nil
	case dataset.TypeBoolean:
		switch strings.ToLower(s) {
		case "t", "true", "1", "y", "yes":
			return true, nil
		case "f", "false", "0", "n", "no":
			return false, nil
		}
	case dataset.TypeInt32, dataset.TypeInt64:
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return typ.Coerce(n)
		}
	case dataset.TypeFloat64:
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, nil
		}
	case dataset.TypeDateTime:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, nil
			}
		}
	}
	return typ.Coerce(s)
}

// toSQL converts a cell value into something every driver accepts.
func toSQL(v any) any {
	switch x := v.(type) {
	case uuid.UUID:
		return x.String()
	case int32:
		return int64(x)
	}
	return v
}

// parseDefault interprets a catalog default. Only literals are understood;
// expressions such as CURRENT_TIMESTAMP or nextval(...) yield no default.
func parseDefault(d Dialect, raw string, typ dataset.DataType) (any, bool) {
	s := strings.TrimSpace(raw)
	if d == Postgres {
		// 'abc'::character varying
		if i := strings.LastIndex(s, "::"); i > 0 && !strings.Contains(s[i:], "'") {
			s = s[:i]
		}
	}
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.EqualFold(s, "NULL") || s == "" {
		return nil, false
	}

	quoted := len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\''
	if quoted {
		s = strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	} else if typ == dataset.TypeString && d != MySQL {
		return nil, false
	}

	v, err := fromString(s, typ)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}
