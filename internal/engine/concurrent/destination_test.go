package concurrent

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/testutil"
)

func paths(t *testing.T) (work, final string) {
	t.Helper()
	final = filepath.Join(t.TempDir(), "file.bin")
	return final + types.IncompleteSuffix, final
}

func TestPrepare_Fresh(t *testing.T) {
	work, final := paths(t)

	dest, err := Prepare(work, final, 4096)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer dest.Close()

	if dest.StartOffset != 0 || dest.Resumed || dest.Complete {
		t.Errorf("unexpected state: %+v", dest)
	}
	if err := testutil.VerifyFileSize(work, 4096); err != nil {
		t.Errorf("working file not preallocated: %v", err)
	}
}

func TestPrepare_FinalAlreadyComplete(t *testing.T) {
	work, final := paths(t)
	if err := os.WriteFile(final, make([]byte, 1000), 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := Prepare(work, final, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if !dest.Complete || dest.StartOffset != 1000 {
		t.Fatalf("expected no-op destination, got %+v", dest)
	}
	if testutil.FileExists(work) {
		t.Error("no working file should be created for a complete download")
	}
	if err := dest.Finalize(1000); err != nil {
		t.Errorf("Finalize on complete destination: %v", err)
	}
}

func TestPrepare_FinalWrongSizeIsRedownloaded(t *testing.T) {
	work, final := paths(t)
	if err := os.WriteFile(final, make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := Prepare(work, final, 1000)
	if err != nil {
		t.Fatal(err)
	}
	defer dest.Close()
	if dest.Complete {
		t.Error("a final file of the wrong size must not count as complete")
	}
}

func TestPrepare_ResumesShorterWorkingFile(t *testing.T) {
	work, final := paths(t)
	prefix := bytes.Repeat([]byte{0xAB}, 300)
	if err := os.WriteFile(work, prefix, 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := Prepare(work, final, 1000)
	if err != nil {
		t.Fatal(err)
	}
	defer dest.Close()

	if !dest.Resumed || dest.StartOffset != 300 || dest.Watermark() != 300 {
		t.Fatalf("expected resume at 300, got offset=%d watermark=%d", dest.StartOffset, dest.Watermark())
	}

	got, err := os.ReadFile(work)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got[:300], prefix) {
		t.Error("existing bytes were not preserved")
	}
}

func TestPrepare_OversizedWorkingFileIsCleared(t *testing.T) {
	work, final := paths(t)
	if err := os.WriteFile(work, bytes.Repeat([]byte{0xFF}, 2000), 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := Prepare(work, final, 1000)
	if err != nil {
		t.Fatal(err)
	}
	defer dest.Close()

	if dest.Resumed || dest.StartOffset != 0 {
		t.Errorf("oversized working file must restart from 0, got %d", dest.StartOffset)
	}
	got, _ := os.ReadFile(work)
	if int64(len(got)) != 1000 || bytes.Contains(got, []byte{0xFF}) {
		t.Error("stale bytes survived the reset")
	}
}

func TestPrepare_UnknownSizeStartsEmpty(t *testing.T) {
	work, final := paths(t)
	if err := os.WriteFile(work, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := Prepare(work, final, 0)
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range [][]byte{[]byte("hello "), []byte("world")} {
		if _, err := dest.Write(p); err != nil {
			t.Fatal(err)
		}
	}
	if err := dest.Finalize(dest.Watermark()); err != nil {
		t.Fatal(err)
	}
	if err := testutil.VerifyFileContent(final, []byte("hello world")); err != nil {
		t.Error(err)
	}
}

func TestDestination_WatermarkOutOfOrder(t *testing.T) {
	work, final := paths(t)
	dest, err := Prepare(work, final, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer dest.Close()

	write := func(off, n int64) {
		if _, err := dest.WriteAt(make([]byte, n), off); err != nil {
			t.Fatal(err)
		}
	}

	write(50, 25)
	if w := dest.Watermark(); w != 0 {
		t.Errorf("gap at 0: watermark = %d", w)
	}
	write(0, 20)
	if w := dest.Watermark(); w != 20 {
		t.Errorf("watermark = %d, want 20", w)
	}
	write(20, 30)
	if w := dest.Watermark(); w != 75 {
		t.Errorf("gap closed: watermark = %d, want 75", w)
	}
	write(75, 25)
	if w := dest.Watermark(); w != 100 {
		t.Errorf("watermark = %d, want 100", w)
	}
}

func TestDestination_RollbackAndReset(t *testing.T) {
	work, final := paths(t)
	dest, err := Prepare(work, final, 100)
	if err != nil {
		t.Fatal(err)
	}
	defer dest.Close()

	_, _ = dest.WriteAt(make([]byte, 40), 0)
	_, _ = dest.WriteAt(make([]byte, 10), 60)

	if err := dest.Rollback(); err != nil {
		t.Fatal(err)
	}
	if err := testutil.VerifyFileSize(work, 40); err != nil {
		t.Error(err)
	}

	if err := dest.Reset(); err != nil {
		t.Fatal(err)
	}
	if dest.Watermark() != 0 || dest.StartOffset != 0 {
		t.Errorf("reset left watermark %d", dest.Watermark())
	}
	if err := testutil.VerifyFileSize(work, 100); err != nil {
		t.Error(err)
	}
}
