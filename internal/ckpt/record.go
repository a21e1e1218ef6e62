package ckpt

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// HashBlockSize is the size of the blocks fed to the hasher.
const HashBlockSize = 4096

// HashWidth is the number of hex digits in a rendered hash.
const HashWidth = 16

// Earliest and latest capture times a sidecar may carry (years 1 and 9999).
const (
	minEpoch = -62135596800
	maxEpoch = 253402300799
)

// Record is the change-detection fingerprint of one tracked file.
// Records are values: a changed file gets a new Record, never an update.
type Record struct {
	Size       int64
	Hash       string
	CapturedAt time.Time
}

// NewRecord builds a Record, truncating capturedAt to whole seconds in UTC.
func NewRecord(size int64, hash string, capturedAt time.Time) Record {
	return Record{
		Size:       size,
		Hash:       hash,
		CapturedAt: capturedAt.UTC().Truncate(time.Second),
	}
}

// HashContent streams r through XXH3-64 in HashBlockSize blocks and returns
// the digest as fixed-width lowercase hex along with the number of bytes read.
func HashContent(r io.Reader) (string, int64, error) {
	h := xxh3.New()
	n, err := io.CopyBuffer(h, r, make([]byte, HashBlockSize))
	if err != nil {
		return "", n, err
	}
	return fmt.Sprintf("%0*x", HashWidth, h.Sum64()), n, nil
}

// CaptureRecord fingerprints the file at path: size from filesystem metadata,
// hash from its content. Errors from the filesystem are wrapped, not replaced,
// so callers can still test for fs.ErrNotExist or fs.ErrPermission.
func CaptureRecord(fsmgr FilesystemManager, path string, now time.Time) (Record, error) {
	info, err := fsmgr.Stat(path)
	if err != nil {
		return Record{}, fmt.Errorf("stat %s: %w", path, err)
	}

	f, err := fsmgr.Open(path)
	if err != nil {
		return Record{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	hash, _, err := HashContent(f)
	if err != nil {
		return Record{}, fmt.Errorf("hashing %s: %w", path, err)
	}

	return NewRecord(info.Size(), hash, now), nil
}

// Marshal renders the record as its persisted sidecar form:
// size, hash and epoch seconds on three newline-terminated lines.
func (r Record) Marshal() []byte {
	return []byte(fmt.Sprintf("%d\n%s\n%d\n", r.Size, r.Hash, r.CapturedAt.Unix()))
}

// ParseRecord reads a record from its sidecar form. Fields must appear in
// the fixed order size, hash, timestamp; anything after the third line is
// ignored. All failures wrap ErrMalformedRecord.
func ParseRecord(data []byte) (Record, error) {
	lines := strings.Split(string(data), "\n")
	field := func(i int, name string) (string, error) {
		if i >= len(lines) {
			return "", fmt.Errorf("%w: missing %s", ErrMalformedRecord, name)
		}
		v := strings.TrimSuffix(lines[i], "\r")
		if v == "" {
			return "", fmt.Errorf("%w: missing %s", ErrMalformedRecord, name)
		}
		return v, nil
	}

	rawSize, err := field(0, "size")
	if err != nil {
		return Record{}, err
	}
	size, err := strconv.ParseInt(rawSize, 10, 64)
	if err != nil || size < 0 {
		return Record{}, fmt.Errorf("%w: invalid size %q", ErrMalformedRecord, rawSize)
	}

	hash, err := field(1, "hash")
	if err != nil {
		return Record{}, err
	}
	if !validHash(hash) {
		return Record{}, fmt.Errorf("%w: invalid hash %q", ErrMalformedRecord, hash)
	}

	rawTS, err := field(2, "timestamp")
	if err != nil {
		return Record{}, err
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil || ts < minEpoch || ts > maxEpoch {
		return Record{}, fmt.Errorf("%w: invalid timestamp %q", ErrMalformedRecord, rawTS)
	}

	return Record{Size: size, Hash: hash, CapturedAt: time.Unix(ts, 0).UTC()}, nil
}

// Unchanged reports whether two records describe the same content.
// CapturedAt is informational and not compared.
func Unchanged(a, b Record) bool {
	return a.Size == b.Size && a.Hash == b.Hash
}

func validHash(s string) bool {
	if len(s) != HashWidth {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
