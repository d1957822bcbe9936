package sqlstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// dialect papers over the differences between the sqlite and postgres schemas:
// placeholder syntax and how string lists are stored.
type dialect struct {
	name     string
	postgres bool
}

var (
	sqliteDialect   = dialect{name: "sqlite"}
	postgresDialect = dialect{name: "postgres", postgres: true}
)

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(q string) string {
	if !d.postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// listArg encodes a string list for a tags/images column.
func (d dialect) listArg(v []string) interface{} {
	if v == nil {
		v = []string{}
	}
	if d.postgres {
		return pq.Array(v)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// listDest returns a scan destination for a tags/images column.
func (d dialect) listDest(v *[]string) interface{} {
	if d.postgres {
		return pq.Array(v)
	}
	return &jsonList{dst: v}
}

// jsonList scans a JSON-encoded string list stored as TEXT.
type jsonList struct {
	dst *[]string
}

func (j *jsonList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*j.dst = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("jsonList: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*j.dst = nil
		return nil
	}
	return json.Unmarshal(raw, j.dst)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
