package siser

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// A record is a list of key / value pairs, one per line:
//
//	key: value
//
// Values that are empty, longer than maxInlineLen or not printable ASCII
// are written with their length and start on the next line:
//
//	key:+5
//	a
//	bc
//
// A newline is added after such value if it doesn't end with one.

const maxInlineLen = 120

// Entry is a single key / value pair
type Entry struct {
	Key   string
	Value string
}

// Record accumulates key / value pairs for writing
type Record struct {
	Name string
	// zero means the time of writing
	Timestamp time.Time

	buf bytes.Buffer
}

func argToString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return fmt.Sprint(v)
}

// Write adds key / value pairs given as alternating arguments
func (r *Record) Write(args ...any) error {
	if len(args) == 0 || len(args)%2 != 0 {
		return fmt.Errorf("expected key / value pairs, got %d args", len(args))
	}
	for i := 0; i < len(args); i += 2 {
		r.writeEntry(argToString(args[i]), argToString(args[i+1]))
	}
	return nil
}

func isInline(s string) bool {
	if s == "" || len(s) > maxInlineLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}

func (r *Record) writeEntry(key, val string) {
	r.buf.WriteString(key)
	if isInline(val) {
		r.buf.WriteString(": ")
		r.buf.WriteString(val)
		r.buf.WriteByte('\n')
		return
	}
	r.buf.WriteString(":+")
	r.buf.WriteString(strconv.Itoa(len(val)))
	r.buf.WriteByte('\n')
	r.buf.WriteString(val)
	if val == "" || val[len(val)-1] != '\n' {
		r.buf.WriteByte('\n')
	}
}

// Marshal returns serialized entries, valid until Reset
func (r *Record) Marshal() []byte {
	return r.buf.Bytes()
}

// Reset removes entries and the timestamp. Name is kept.
func (r *Record) Reset() {
	r.Timestamp = time.Time{}
	r.buf.Reset()
}

// ReadRecord is a decoded record
type ReadRecord struct {
	Name      string
	Timestamp time.Time
	Entries   []Entry
}

// Get returns a value for a given key
func (r *ReadRecord) Get(key string) (string, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// GetRequired returns a value for a given key or an error if key is missing
func (r *ReadRecord) GetRequired(key string) (string, error) {
	v, ok := r.Get(key)
	if !ok {
		return "", fmt.Errorf("record '%s': missing key '%s'", r.Name, key)
	}
	return v, nil
}

// GetInt returns a value for a given key parsed as int
func (r *ReadRecord) GetInt(key string) (int, error) {
	v, err := r.GetRequired(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("record '%s': key '%s' is not a number: '%s'", r.Name, key, v)
	}
	return n, nil
}

// UnmarshalRecord decodes d as written by Record.Marshal.
// r is re-used if not nil.
func UnmarshalRecord(d []byte, r *ReadRecord) (*ReadRecord, error) {
	if r == nil {
		r = &ReadRecord{}
	}
	r.Name = ""
	r.Timestamp = time.Time{}
	r.Entries = r.Entries[:0]

	for len(d) > 0 {
		line, rest, ok := bytes.Cut(d, []byte{'\n'})
		if !ok {
			return nil, fmt.Errorf("line '%s' doesn't end with newline", d)
		}
		d = rest
		key, val, ok := bytes.Cut(line, []byte{':'})
		if !ok || len(val) == 0 {
			return nil, fmt.Errorf("invalid line '%s'", line)
		}
		switch val[0] {
		case ' ':
			r.Entries = append(r.Entries, Entry{Key: string(key), Value: string(val[1:])})
		case '+':
			n, err := strconv.Atoi(string(val[1:]))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid length in line '%s'", line)
			}
			if n > len(d) {
				return nil, fmt.Errorf("value of '%s' has %d bytes, only %d left", key, n, len(d))
			}
			r.Entries = append(r.Entries, Entry{Key: string(key), Value: string(d[:n])})
			d = d[n:]
			if len(d) > 0 && d[0] == '\n' {
				d = d[1:]
			}
		default:
			return nil, fmt.Errorf("invalid line '%s'", line)
		}
	}
	return r, nil
}
