package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxRecord bounds a single decoded record.
const maxRecord = 1 << 30

// Writer streams frames, each prefixed by its varint length.
type Writer struct {
	w   *bufio.Writer
	buf []byte
	n   int
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends one frame to the stream.
func (w *Writer) Write(f *Frame) error {
	w.buf = f.Marshal(w.buf[:0])
	var prefix [binary.MaxVarintLen64]byte
	head := protowire.AppendVarint(prefix[:0], uint64(len(w.buf)))
	if _, err := w.w.Write(head); err != nil {
		return fmt.Errorf("write frame %d: %w", f.Tick, err)
	}
	if _, err := w.w.Write(w.buf); err != nil {
		return fmt.Errorf("write frame %d: %w", f.Tick, err)
	}
	w.n++
	return nil
}

// Count returns the number of frames written.
func (w *Writer) Count() int {
	return w.n
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Reader decodes a stream written by Writer.
type Reader struct {
	r   *bufio.Reader
	buf []byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read decodes the next frame into f. It returns io.EOF at a clean end of
// stream and io.ErrUnexpectedEOF for a truncated record.
func (r *Reader) Read(f *Frame) error {
	size, err := binary.ReadUvarint(r.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read frame length: %w", err)
	}
	if size > maxRecord {
		return fmt.Errorf("%w: record of %d bytes", ErrMalformed, size)
	}

	if uint64(cap(r.buf)) < size {
		r.buf = make([]byte, size)
	}
	r.buf = r.buf[:size]
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("read frame body: %w", err)
	}
	return f.Unmarshal(r.buf)
}
