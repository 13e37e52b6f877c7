package persistence

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"github.com/talgya/tilecity/internal/city"
)

// SnapshotExt is the extension of snapshot files.
const SnapshotExt = ".json.zst"

// SnapshotPath names the snapshot file for a tick inside dir.
func SnapshotPath(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("city-%010d%s", tick, SnapshotExt))
}

// WriteSnapshotFile writes snap as zstd-compressed JSON. The file appears
// atomically: it is written under a temporary name and renamed into place.
func WriteSnapshotFile(path string, snap *city.Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if err := writeCompressed(f, snap); err != nil {
		f.Close()
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeCompressed(f *os.File, snap *city.Snapshot) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)
	if err := snap.Encode(bw); err != nil {
		enc.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// ReadSnapshotFile reads a snapshot written by WriteSnapshotFile. The result
// still has to go through city.Restore to be checked.
func ReadSnapshotFile(path string) (*city.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	snap, err := city.DecodeSnapshot(bufio.NewReaderSize(dec, 256*1024))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}
	return snap, nil
}

// ExportSnapshot writes snap into dir under its tick's name and returns the path.
func ExportSnapshot(dir string, snap *city.Snapshot) (string, error) {
	start := time.Now()
	path := SnapshotPath(dir, snap.Stats.Tick)
	if err := WriteSnapshotFile(path, snap); err != nil {
		return "", err
	}
	logSnapshot(path, time.Since(start))
	return path, nil
}

func logSnapshot(path string, took time.Duration) {
	var size int64
	if fi, err := os.Stat(path); err == nil {
		size = fi.Size()
	}
	slog.Info("snapshot exported", "path", path, "size", humanize.Bytes(uint64(size)), "took", took.Round(time.Millisecond))
}
