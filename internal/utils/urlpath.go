package utils

import (
	"net"
	"net/url"
	"path"
	"strings"
)

// knownSources maps well-known hosts to their source names
var knownSources = map[string]string{
	"github.com":                           "github",
	"objects.githubusercontent.com":        "github",
	"release-assets.githubusercontent.com": "github",
	"cdn.jsdelivr.net":                     "jsdelivr",
	"fastly.jsdelivr.net":                  "jsdelivr",
	"gcore.jsdelivr.net":                   "jsdelivr",
}

// SourceNameFromURL derives a source name for a URL that came without one.
// Known CDNs map to their provider name; anything else uses the registrable
// part of the host, e.g. https://dl.mirror.example.org/x -> "mirror.example.org".
func SourceNameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(parsed.Hostname())
	if name, ok := knownSources[host]; ok {
		return name
	}
	if net.ParseIP(host) != nil {
		return host
	}
	if strings.HasSuffix(host, ".amazonaws.com") {
		return "s3"
	}
	labels := strings.Split(host, ".")
	if len(labels) > 3 {
		labels = labels[len(labels)-3:]
	}
	return strings.Join(labels, ".")
}

// FilenameFromURL returns the last path segment of a URL, or "" if there is none
func FilenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
