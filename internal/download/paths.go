package download

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
)

// numbered matches a trailing "(N)" copy counter
var numbered = regexp.MustCompile(`^(.*)\((\d+)\)$`)

// resolvePath turns the caller's destination into the final file path.
// A directory destination gets filename appended. An existing file that cannot
// be this download (wrong or unknown size) is never overwritten; a numbered
// sibling is used instead. A file already at expectedSize is kept so the
// download can short-circuit.
func resolvePath(dest, filename string, expectedSize int64) string {
	path := dest
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		if filename == "" {
			filename = "download"
		}
		path = filepath.Join(dest, filename)
	}

	info, err := os.Stat(path)
	if err != nil {
		return path
	}
	if expectedSize > 0 && info.Mode().IsRegular() && info.Size() == expectedSize {
		return path
	}
	return uniqueFilePath(path)
}

// uniqueFilePath returns path, or the first "name(N).ext" sibling for which
// neither the file nor its working file exists.
func uniqueFilePath(path string) string {
	if !exists(path) && !exists(path+types.IncompleteSuffix) {
		return path
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	name := filepath.Base(path)
	name = name[:len(name)-len(ext)]

	n := 1
	if m := numbered.FindStringSubmatch(name); m != nil {
		name = m[1]
		if v, err := strconv.Atoi(m[2]); err == nil {
			n = v + 1
		}
	}

	for ; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", name, n, ext))
		if !exists(candidate) && !exists(candidate+types.IncompleteSuffix) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
