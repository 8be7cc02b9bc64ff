// Package compliance decides whether a request may run and which candidate
// hosts it may touch. It runs before any network call.
package compliance

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// ErrRejected is returned when a request or every candidate fails validation
var ErrRejected = errors.New("rejected by compliance policy")

var (
	repoPattern    = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9_.+-]+$`)
)

// blockedHosts are never contacted, allowlist or not
var blockedHosts = []string{
	"localhost",
	"metadata.google.internal",
	"169.254.169.254",
}

// Validator checks requests and filters candidate URLs by host
type Validator struct {
	validate *validator.Validate
	allowed  []string

	// AllowPrivate permits loopback and private addresses (tests, LAN mirrors).
	AllowPrivate bool
}

// New returns a validator. An empty allowlist admits any public host.
// Entries match the host itself and its subdomains.
func New(allowedDomains []string) *Validator {
	v := &Validator{validate: validator.New()}
	_ = v.validate.RegisterValidation("repo", func(fl validator.FieldLevel) bool {
		return repoPattern.MatchString(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("version", func(fl validator.FieldLevel) bool {
		return versionPattern.MatchString(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("filename", validateFilename)
	_ = v.validate.RegisterValidation("mirror_url", v.validateMirrorURL)

	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(d, ".")))
		if d != "" {
			v.allowed = append(v.allowed, d)
		}
	}
	return v
}

// CheckRequest validates the file identity and destination
func (v *Validator) CheckRequest(id types.FileIdentity, dest string) error {
	if err := v.validate.Struct(id); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s fails %q", ErrRejected, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if strings.TrimSpace(dest) == "" {
		return fmt.Errorf("%w: empty destination", ErrRejected)
	}
	return nil
}

// AllowURL reports whether a candidate URL may be contacted
func (v *Validator) AllowURL(raw string) bool {
	return v.validate.Var(raw, "required,mirror_url") == nil
}

// FilterCandidates splits candidates into the ones that may be used and the ones that may not
func (v *Validator) FilterCandidates(candidates []types.CandidateURL) (kept, rejected []types.CandidateURL) {
	for _, c := range candidates {
		if v.AllowURL(c.URL) {
			kept = append(kept, c)
			continue
		}
		utils.Debug("compliance: dropping %s", c.URL)
		rejected = append(rejected, c)
	}
	return kept, rejected
}

func (v *Validator) validateMirrorURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.User != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	for _, blocked := range blockedHosts {
		if host == blocked {
			return false
		}
	}
	if ip := net.ParseIP(host); ip != nil && !v.AllowPrivate {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return false
		}
	}

	if len(v.allowed) == 0 {
		return true
	}
	for _, d := range v.allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// validateFilename accepts a bare file name: no separators, no traversal
func validateFilename(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`+"\x00") {
		return false
	}
	return filepath.Base(name) == name
}
