// Package gzline reads gzip-compressed text files one logical line at a
// time.
//
// The reader reassembles lines that span internal buffer boundaries and
// returns the final line even when the file lacks a trailing newline.
// A failed open is reported to the caller, which skips that file only.
package gzline

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

const bufferSize = 1 << 20

// Reader yields logical lines from one gzip-compressed file.
type Reader struct {
	f  *os.File
	gz *gzip.Reader
	br *bufio.Reader
}

// Open opens a gzip-compressed file for line reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip open %s: %w", path, err)
	}
	return &Reader{
		f:  f,
		gz: gz,
		br: bufio.NewReaderSize(gz, bufferSize),
	}, nil
}

// ReadLine returns the next logical line without its trailing newline.
// It returns io.EOF after the last line. Lines longer than the internal
// buffer are reassembled transparently.
func (r *Reader) ReadLine() (string, error) {
	var assembled []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		if err == nil {
			if assembled == nil {
				return string(trimNewline(chunk)), nil
			}
			assembled = append(assembled, chunk...)
			return string(trimNewline(assembled)), nil
		}
		if err == bufio.ErrBufferFull {
			assembled = append(assembled, chunk...)
			continue
		}
		if err == io.EOF {
			assembled = append(assembled, chunk...)
			if len(assembled) == 0 {
				return "", io.EOF
			}
			return string(trimNewline(assembled)), nil
		}
		return "", fmt.Errorf("read %s: %w", r.f.Name(), err)
	}
}

// Close releases the underlying file and decompressor.
func (r *Reader) Close() error {
	gzErr := r.gz.Close()
	fErr := r.f.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

func trimNewline(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}
