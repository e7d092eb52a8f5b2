package route

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidPrefix = errors.New("route: prefix must start with /")
	ErrInvalidTarget = errors.New("route: target must be an http(s) base URL with a host")
)

// Rule forwards every request under Prefix to Target.
type Rule struct {
	Prefix        string
	Target        *url.URL
	RewriteOrigin bool
}

// NewRule parses target and normalises prefix.
func NewRule(prefix, target string, rewriteOrigin bool) (Rule, error) {
	if !strings.HasPrefix(prefix, "/") {
		return Rule{}, fmt.Errorf("%w: %q", ErrInvalidPrefix, prefix)
	}

	u, err := url.Parse(target)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Rule{}, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}

	// Requests keep their path, so the target is only scheme and authority.
	if strings.Trim(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		return Rule{}, fmt.Errorf("%w: %q has a path or query", ErrInvalidTarget, target)
	}
	u.Path, u.RawPath = "", ""

	return Rule{
		Prefix:        normalize(prefix),
		Target:        u,
		RewriteOrigin: rewriteOrigin,
	}, nil
}

// Matches reports whether path falls under the rule's prefix on a path
// segment boundary: /api/auth matches /api/auth and /api/auth/login but not
// /api/authz.
func (r Rule) Matches(path string) bool {
	if r.Prefix == "/" {
		return strings.HasPrefix(path, "/")
	}

	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}

	return len(path) == len(r.Prefix) || path[len(r.Prefix)] == '/'
}

func (r Rule) String() string {
	return r.Prefix + " -> " + r.Target.String()
}

func normalize(prefix string) string {
	trimmed := strings.TrimRight(prefix, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}
