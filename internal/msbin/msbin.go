// Package msbin implements the pipeline's private fixed-width binary
// cache format.
//
// A cache file is a headerless sequence of packed 36-byte records,
// little-endian, in this exact field order:
//
//	ts         uint64
//	mid        float32
//	log_return float32
//	bid_size   float32
//	ask_size   float32
//	spread     float32
//	bid        float32
//	ask        float32
//
// The codec is explicit byte-by-byte encoding; it never relies on Go
// struct memory layout. Files are named <symbol><year>.msbin under a
// ms_event/ or ms_clock/ subdirectory and are immutable once fully
// written: the writer emits to a temporary name and renames on Close, so
// the existence of a final-named file means it is complete.
package msbin

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/rickgao/nbbo-pipeline/internal/model"
)

// Cache subdirectories per grid mode.
const (
	SubdirEvent = "ms_event"
	SubdirClock = "ms_clock"
)

// Ext is the cache file extension.
const Ext = ".msbin"

// RecordSize is the packed on-disk size of one record.
const RecordSize = 36

// Record is one persisted per-millisecond NBBO observation. Field set
// matches model.Row; kept separate so the on-disk contract is owned by
// this package.
type Record struct {
	Ts        uint64
	Mid       float32
	LogReturn float32
	BidSize   float32
	AskSize   float32
	Spread    float32
	Bid       float32
	Ask       float32
}

// FromRow converts a finalized row into a cache record.
func FromRow(r model.Row) Record {
	return Record{
		Ts:        r.Ts,
		Mid:       r.Mid,
		LogReturn: r.LogReturn,
		BidSize:   r.BidSize,
		AskSize:   r.AskSize,
		Spread:    r.Spread,
		Bid:       r.Bid,
		Ask:       r.Ask,
	}
}

// Marshal encodes the record into buf, which must be at least RecordSize
// bytes.
func (r Record) Marshal(buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], r.Ts)
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(r.Mid))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(r.LogReturn))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(r.BidSize))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(r.AskSize))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(r.Spread))
	binary.LittleEndian.PutUint32(buf[28:32], math.Float32bits(r.Bid))
	binary.LittleEndian.PutUint32(buf[32:36], math.Float32bits(r.Ask))
}

// Unmarshal decodes a record from buf, which must hold RecordSize bytes.
func (r *Record) Unmarshal(buf []byte) {
	r.Ts = binary.LittleEndian.Uint64(buf[0:8])
	r.Mid = math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12]))
	r.LogReturn = math.Float32frombits(binary.LittleEndian.Uint32(buf[12:16]))
	r.BidSize = math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20]))
	r.AskSize = math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24]))
	r.Spread = math.Float32frombits(binary.LittleEndian.Uint32(buf[24:28]))
	r.Bid = math.Float32frombits(binary.LittleEndian.Uint32(buf[28:32]))
	r.Ask = math.Float32frombits(binary.LittleEndian.Uint32(buf[32:36]))
}

// Writer appends records to a cache file. It writes to <path>.tmp and
// renames to the final path on Close, so partially written files never
// carry the final name.
type Writer struct {
	path    string
	tmpPath string
	f       *os.File
	bw      *bufio.Writer
	buf     [RecordSize]byte
	rows    uint64
}

// NewWriter creates a cache file writer for the given final path.
func NewWriter(path string) (*Writer, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create cache file: %w", err)
	}
	return &Writer{
		path:    path,
		tmpPath: tmp,
		f:       f,
		bw:      bufio.NewWriterSize(f, 1<<20),
	}, nil
}

// Append writes one record.
func (w *Writer) Append(r Record) error {
	r.Marshal(w.buf[:])
	if _, err := w.bw.Write(w.buf[:]); err != nil {
		return fmt.Errorf("write cache record: %w", err)
	}
	w.rows++
	return nil
}

// Rows returns the number of records appended so far.
func (w *Writer) Rows() uint64 { return w.rows }

// Close flushes, syncs and renames the temporary file into place.
func (w *Writer) Close() error {
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flush cache file: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(w.tmpPath, w.path); err != nil {
		return fmt.Errorf("finalize cache file: %w", err)
	}
	return nil
}

// Abort discards the temporary file.
func (w *Writer) Abort() {
	w.f.Close()
	os.Remove(w.tmpPath)
}

// Reader streams records from a cache file.
type Reader struct {
	f   *os.File
	br  *bufio.Reader
	buf [RecordSize]byte
}

// NewReader opens a cache file for streaming reads.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cache file: %w", err)
	}
	return &Reader{f: f, br: bufio.NewReaderSize(f, 1<<20)}, nil
}

// Next reads the next record. It returns io.EOF at a clean end of file
// and an error for a truncated trailing record.
func (r *Reader) Next(rec *Record) error {
	if _, err := io.ReadFull(r.br, r.buf[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("read cache record from %s: %w", r.f.Name(), err)
	}
	rec.Unmarshal(r.buf[:])
	return nil
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// ReadAll loads every record of a cache file. Intended for tests and
// small files.
func ReadAll(path string) ([]Record, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []Record
	var rec Record
	for {
		err := r.Next(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
