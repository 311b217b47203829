package provider

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

const separator = '/'

// NormalizePath turns a caller-supplied path into the backend-relative key
// every provider stores. Backslashes become slashes, redundant separators and
// "." / ".." segments are resolved, and the leading slash is dropped.
// Paths that are empty or resolve above the logical root are rejected.
func NormalizePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("%w: path is empty", ErrInvalidArgument)
	}
	clean := path.Clean("/" + strings.ReplaceAll(p, `\`, "/"))
	if escapesRoot(p) {
		return "", fmt.Errorf("%w: path %q escapes the storage root", ErrInvalidArgument, p)
	}
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" {
		return "", fmt.Errorf("%w: path %q names the storage root", ErrInvalidArgument, p)
	}
	return clean, nil
}

// escapesRoot reports whether the relative walk of p ever climbs above the root.
func escapesRoot(p string) bool {
	depth := 0
	for _, seg := range strings.Split(strings.ReplaceAll(p, `\`, "/"), "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// Pattern selects entries for listing and bulk deletion.
//
// The grammar is glob with "/" as the separator: "*" matches within one
// segment, "**" matches across segments, and "?", "[a-z]" and "{a,b}" behave
// as usual. A pattern ending in "/" selects everything below that folder.
// A pattern without wildcards selects exactly one path. Matching is case
// sensitive.
//
// The zero value is AllFiles.
type Pattern struct {
	expr string
	set  bool
}

// AllFiles matches every entry of a backend.
var AllFiles = Pattern{}

// Match builds a Pattern from a glob expression.
// An empty expression, or one that resolves to the root itself such as "/"
// or "a/..", is rejected by the provider that receives it; use AllFiles to
// select everything.
func Match(expr string) Pattern {
	return Pattern{expr: expr, set: true}
}

// IsAll reports whether the pattern selects every entry.
func (p Pattern) IsAll() bool {
	return !p.set
}

func (p Pattern) String() string {
	if !p.set {
		return "**"
	}
	return p.expr
}

func (p Pattern) validate() error {
	_, err := p.normalized()
	return err
}

// normalized resolves separators the same way NormalizePath does while
// keeping the trailing-slash folder form. Backslashes are separators here
// too, so glob escapes are not available.
func (p Pattern) normalized() (string, error) {
	if !p.set {
		return "**", nil
	}
	if p.expr == "" {
		return "", fmt.Errorf("%w: search pattern is empty", ErrInvalidArgument)
	}
	if escapesRoot(p.expr) {
		return "", fmt.Errorf("%w: pattern %q escapes the storage root", ErrInvalidArgument, p.expr)
	}
	expr := strings.ReplaceAll(p.expr, `\`, "/")
	folder := strings.HasSuffix(expr, "/")
	clean := strings.TrimPrefix(path.Clean("/"+expr), "/")
	switch {
	case clean == "":
		return "", fmt.Errorf("%w: pattern %q names the storage root", ErrInvalidArgument, p.expr)
	case folder:
		return clean + "/**", nil
	default:
		return clean, nil
	}
}

// Matcher is a compiled Pattern.
type Matcher struct {
	g      glob.Glob
	prefix string
}

// Compile validates and compiles the pattern.
func (p Pattern) Compile() (*Matcher, error) {
	expr, err := p.normalized()
	if err != nil {
		return nil, err
	}
	if expr == "**" {
		return &Matcher{}, nil
	}
	g, err := glob.Compile(expr, separator)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidArgument, p.expr, err)
	}
	return &Matcher{g: g, prefix: literalPrefix(expr)}, nil
}

// Match reports whether the normalized key is selected.
func (m *Matcher) Match(key string) bool {
	if m.g == nil {
		return true
	}
	return m.g.Match(key)
}

// Prefix is the literal head of the pattern. Every matching key starts with
// it, so backends may use it to narrow a server-side listing.
func (m *Matcher) Prefix() string {
	return m.prefix
}

func literalPrefix(expr string) string {
	if i := strings.IndexAny(expr, "*?[{"); i >= 0 {
		return expr[:i]
	}
	return expr
}
