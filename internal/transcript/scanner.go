// Package transcript reads the session's append-only NDJSON transcript:
// byte-offset-tracked tail reads, tolerant line parsing, and local cost
// aggregation from assistant usage blocks.
package transcript

import (
	"io"
	"os"
	"time"
)

// MaxReadBytes caps a single scan so an adversarial transcript cannot pull
// the broker into an out-of-memory read. Oversized reads keep only the tail.
const MaxReadBytes = 8 << 20

// ScanResult is the outcome of one incremental scan.
type ScanResult struct {
	NewBytes  []byte
	NewOffset int64
	MTime     time.Time
	Size      int64
	CacheHit  bool // nothing changed since the previous scan
	Truncated bool // file shrank; the whole file was re-read
	Exists    bool
	Capped    bool // read was bounded by MaxReadBytes
}

// Scan reads the bytes appended since the previous scan. Fast paths:
//
//   - file absent: zero result
//   - mtime and size unchanged: cache hit, no read
//   - file shrank below the previous offset: the user cleared it, re-read
//     everything
//   - otherwise: read only [prevOffset, size)
//
// Any I/O error yields the zero result; the broker treats it as "no news".
func Scan(path string, prevOffset int64, prevMTime time.Time) ScanResult {
	info, err := os.Stat(path)
	if err != nil {
		return ScanResult{}
	}

	res := ScanResult{
		Exists: true,
		MTime:  info.ModTime(),
		Size:   info.Size(),
	}

	if info.ModTime().Equal(prevMTime) && info.Size() == prevOffset {
		res.NewOffset = prevOffset
		res.CacheHit = true
		return res
	}

	start := prevOffset
	if info.Size() < prevOffset {
		start = 0
		res.Truncated = true
	}

	length := info.Size() - start
	if length > MaxReadBytes {
		start = info.Size() - MaxReadBytes
		length = MaxReadBytes
		res.Capped = true
	}

	f, err := os.Open(path)
	if err != nil {
		return ScanResult{}
	}
	defer f.Close() //nolint:errcheck

	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			return ScanResult{}
		}
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return ScanResult{}
	}

	res.NewBytes = buf[:n]
	res.NewOffset = start + int64(n)
	return res
}
