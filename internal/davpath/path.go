// Package davpath models request paths as segment sequences and renders
// them back into paths and URLs.
//
// Collections and objects share one segment model but differ in how they are
// rendered: the canonical URL of a collection always ends with a separator,
// the canonical URL of an object never does.
package davpath

import (
	"net/url"
	"strings"
)

// Separator is the path separator used on the wire.
const Separator = "/"

// Path is an ordered sequence of non-empty segments. The root is the empty
// sequence.
type Path []string

// Parse splits raw on the separator and drops empty segments, so repeated,
// leading and trailing separators all collapse. It never fails.
func Parse(raw string) Path {
	parts := strings.Split(raw, Separator)
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		p = append(p, part)
	}
	return p
}

// Join returns a new path with segs appended. Each seg is parsed, so a seg
// containing separators contributes several segments.
func Join(p Path, segs ...string) Path {
	out := make(Path, len(p), len(p)+len(segs))
	copy(out, p)
	for _, seg := range segs {
		out = append(out, Parse(seg)...)
	}
	return out
}

// Dirname returns every segment but the last, separator-joined and
// separator-prefixed. The dirname of the root is the separator alone.
func Dirname(p Path) string {
	if len(p) <= 1 {
		return Separator
	}
	return Separator + strings.Join(p[:len(p)-1], Separator)
}

// Basename returns the last segment, or "" for the root.
func Basename(p Path) string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// URL appends the escaped segments of p to base. The result ends with a
// separator iff isCollection; the root always maps to base itself.
func URL(base string, p Path, isCollection bool) string {
	if len(p) == 0 {
		return base
	}
	escaped := make([]string, len(p))
	for i, seg := range p {
		escaped[i] = url.PathEscape(seg)
	}
	u := strings.TrimSuffix(base, Separator) + Separator + strings.Join(escaped, Separator)
	if isCollection {
		u += Separator
	}
	return u
}

// String renders p as an absolute, separator-prefixed path without a
// trailing separator.
func (p Path) String() string {
	return Separator + strings.Join(p, Separator)
}

// Key is the canonical map key for p.
func (p Path) Key() string {
	return p.String()
}

func (p Path) IsRoot() bool {
	return len(p) == 0
}

func (p Path) Equal(q Path) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether q is p or an ancestor of p.
func (p Path) HasPrefix(q Path) bool {
	if len(q) > len(p) {
		return false
	}
	return p[:len(q)].Equal(q)
}

// Parent returns the path of the enclosing collection. The parent of the
// root is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Path{}
	}
	return append(Path{}, p[:len(p)-1]...)
}

// Rel returns the segments of p below base. ok is false when base is not a
// prefix of p.
func (p Path) Rel(base Path) (Path, bool) {
	if !p.HasPrefix(base) {
		return nil, false
	}
	return append(Path{}, p[len(base):]...), true
}
