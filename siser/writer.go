package siser

import (
	"bytes"
	"io"
	"strconv"
	"time"
)

var hdrPrefix = []byte("--- ")

// Writer writes records to a stream.
// It's not safe for concurrent use.
type Writer struct {
	w io.Writer

	// Pos is the position in the stream at which the next record
	// will be written
	Pos int64

	buf bytes.Buffer
}

// NewWriter creates a writer for an empty stream
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// NewAppendWriter creates a writer for a stream that already
// has pos bytes and is positioned at its end
func NewAppendWriter(w io.Writer, pos int64) *Writer {
	return &Writer{w: w, Pos: pos}
}

// WriteRecord writes r and resets it.
// Returns position of the record data in the stream.
func (w *Writer) WriteRecord(r *Record) (int64, error) {
	dataPos, err := w.Write(r.Marshal(), r.Timestamp, r.Name)
	r.Reset()
	return dataPos, err
}

// Write writes d as a record with a given timestamp and name.
// Returns position of d in the stream i.e. after the header line.
// Pos is advanced by the number of bytes written, even on error.
func (w *Writer) Write(d []byte, t time.Time, name string) (int64, error) {
	// don't hold on to a big buffer after a single big record
	if w.buf.Cap() > 1024*1024 && len(d) < 64*1024 {
		w.buf = bytes.Buffer{}
	}
	rec := MarshalLine(name, t, d, &w.buf)
	dataPos := w.Pos + int64(bytes.IndexByte(rec, '\n')+1)
	n, err := w.w.Write(rec)
	w.Pos += int64(n)
	if err == nil && n != len(rec) {
		err = io.ErrShortWrite
	}
	return dataPos, err
}

// MarshalLine serializes d as a record:
//
//	--- ${len(d)} ${unix_ms} ${name}
//	${d}
//
// followed by a newline if d doesn't end with one. Zero t means now.
// The result is built in buf if not nil.
func MarshalLine(name string, t time.Time, d []byte, buf *bytes.Buffer) []byte {
	if buf == nil {
		buf = &bytes.Buffer{}
	}
	buf.Reset()
	if t.IsZero() {
		t = time.Now()
	}
	buf.Grow(len(hdrPrefix) + 48 + len(name) + len(d))
	buf.Write(hdrPrefix)
	buf.WriteString(strconv.Itoa(len(d)))
	buf.WriteByte(' ')
	buf.WriteString(strconv.FormatInt(t.UnixMilli(), 10))
	if name != "" {
		buf.WriteByte(' ')
		buf.WriteString(name)
	}
	buf.WriteByte('\n')
	if len(d) > 0 {
		buf.Write(d)
		if d[len(d)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}
