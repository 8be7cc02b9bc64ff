package concurrent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// Destination is the working file of one download. Chunk tasks write into it
// at disjoint offsets; it tracks which byte ranges have been confirmed written
// so a failed attempt can be cut back to a safe resume point.
type Destination struct {
	WorkPath     string
	FinalPath    string
	ExpectedSize int64 // <= 0 when unknown

	// StartOffset is the first byte still missing on disk
	StartOffset int64
	// Complete is set when the final file already holds ExpectedSize bytes
	Complete bool
	// Resumed is set when an earlier partial working file was reused
	Resumed bool

	file *os.File

	mu      sync.Mutex
	written []span // confirmed ranges, sorted and merged
}

type span struct{ start, end int64 } // [start, end)

// Prepare opens the working file for a download of expectedSize bytes.
//
// A final file already at expectedSize makes the download a no-op. A shorter
// working file is reopened in place and its size becomes StartOffset. A working
// file at or beyond expectedSize has unknown contents and is cleared. When the
// size is unknown the working file always starts empty.
func Prepare(workPath, finalPath string, expectedSize int64) (*Destination, error) {
	d := &Destination{WorkPath: workPath, FinalPath: finalPath, ExpectedSize: expectedSize}

	if expectedSize > 0 {
		if info, err := os.Stat(finalPath); err == nil && info.Mode().IsRegular() && info.Size() == expectedSize {
			utils.Debug("destination: %s already complete", finalPath)
			d.Complete = true
			d.StartOffset = expectedSize
			return d, nil
		}
	}

	f, err := os.OpenFile(workPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, types.NewError(types.KindIO, "", fmt.Errorf("open working file: %w", err))
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, types.NewError(types.KindIO, "", fmt.Errorf("stat working file: %w", err))
	}

	size := info.Size()
	switch {
	case expectedSize > 0 && size > 0 && size < expectedSize:
		d.StartOffset = size
		d.Resumed = true
		utils.Debug("destination: resuming %s at %d/%d", workPath, size, expectedSize)
	case size > 0:
		if err := f.Truncate(0); err != nil {
			_ = f.Close()
			return nil, types.NewError(types.KindIO, "", fmt.Errorf("reset working file: %w", err))
		}
		utils.Debug("destination: discarded %d stale bytes in %s", size, workPath)
	}

	if expectedSize > 0 {
		if err := f.Truncate(expectedSize); err != nil {
			_ = f.Close()
			return nil, types.NewError(types.KindIO, "", fmt.Errorf("preallocate: %w", err))
		}
	}

	d.file = f
	if d.StartOffset > 0 {
		d.written = []span{{0, d.StartOffset}}
	}
	return d, nil
}

// WriteAt writes p at off and records the range as confirmed
func (d *Destination) WriteAt(p []byte, off int64) (int, error) {
	n, err := d.file.WriteAt(p, off)
	if n > 0 {
		d.mark(off, off+int64(n))
	}
	return n, err
}

// Write appends sequentially after the watermark. Used by the single-stream path.
func (d *Destination) Write(p []byte) (int, error) {
	return d.WriteAt(p, d.Watermark())
}

func (d *Destination) mark(start, end int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := sort.Search(len(d.written), func(i int) bool { return d.written[i].start > start })
	d.written = append(d.written, span{})
	copy(d.written[i+1:], d.written[i:])
	d.written[i] = span{start, end}

	merged := d.written[:1]
	for _, s := range d.written[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			last.end = max(last.end, s.end)
			continue
		}
		merged = append(merged, s)
	}
	d.written = merged
}

// Watermark is the highest offset W such that every byte in [0, W) is confirmed written
func (d *Destination) Watermark() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.written) == 0 || d.written[0].start > 0 {
		return 0
	}
	return d.written[0].end
}

// Rollback truncates the working file to the watermark, keeping it open
func (d *Destination) Rollback() error {
	if d.file == nil {
		return nil
	}
	w := d.Watermark()
	utils.Debug("destination: rolling %s back to %d", d.WorkPath, w)
	if err := d.file.Truncate(w); err != nil {
		return types.NewError(types.KindIO, "", fmt.Errorf("truncate to watermark: %w", err))
	}
	return nil
}

// Reset clears the working file so the download restarts from zero
func (d *Destination) Reset() error {
	if d.file == nil {
		return nil
	}
	if err := d.file.Truncate(0); err != nil {
		return types.NewError(types.KindIO, "", fmt.Errorf("reset working file: %w", err))
	}
	if d.ExpectedSize > 0 {
		if err := d.file.Truncate(d.ExpectedSize); err != nil {
			return types.NewError(types.KindIO, "", fmt.Errorf("preallocate: %w", err))
		}
	}
	d.mu.Lock()
	d.written = nil
	d.mu.Unlock()
	d.StartOffset = 0
	d.Resumed = false
	return nil
}

// Reader opens the working (or completed) file for reading from the start
func (d *Destination) Reader() (io.ReadCloser, error) {
	path := d.WorkPath
	if d.Complete {
		path = d.FinalPath
	}
	return os.Open(path)
}

// Close releases the working file without finalizing it
func (d *Destination) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

// Finalize syncs the working file and moves it to FinalPath.
// size is the number of bytes that make up the file.
func (d *Destination) Finalize(size int64) error {
	if d.Complete {
		return nil
	}
	if d.file == nil {
		return types.NewError(types.KindIO, "", errors.New("working file already closed"))
	}

	if err := d.file.Truncate(size); err != nil {
		return types.NewError(types.KindIO, "", fmt.Errorf("truncate: %w", err))
	}
	if err := d.file.Sync(); err != nil {
		return types.NewError(types.KindIO, "", fmt.Errorf("sync: %w", err))
	}
	if err := d.Close(); err != nil {
		return types.NewError(types.KindIO, "", fmt.Errorf("close: %w", err))
	}

	if err := os.Rename(d.WorkPath, d.FinalPath); err != nil {
		// Fallback: copy if rename fails (cross-device)
		if copyErr := copyFile(d.WorkPath, d.FinalPath); copyErr != nil {
			return types.NewError(types.KindIO, "", fmt.Errorf("finalize: %w", copyErr))
		}
		_ = os.Remove(d.WorkPath)
	}
	d.Complete = true
	return nil
}

// copyFile copies a file from src to dst (fallback when rename fails)
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if err := in.Close(); err != nil {
			utils.Debug("Error closing input file: %v", err)
		}
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			utils.Debug("Error closing output file: %v", err)
		}
	}()

	buf := make([]byte, 1024*1024)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		return err
	}
	return out.Sync()
}
