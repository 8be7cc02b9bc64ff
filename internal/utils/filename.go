package utils

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/vfaronov/httpheader"
)

// DetermineFilename picks a local file name from the response headers, falling back to the URL
func DetermineFilename(rawURL string, h http.Header) string {
	if h != nil {
		if _, name, _ := httpheader.ContentDisposition(h); name != "" {
			if name = sanitizeFilename(name); name != "" {
				return name
			}
		}
	}
	if name := sanitizeFilename(FilenameFromURL(rawURL)); name != "" {
		return name
	}
	return "download.bin"
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
