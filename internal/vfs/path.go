package vfs

import (
	"fmt"
	"regexp"
	"strings"
)

// maxNameLen is the longest folder name (and file stem) accepted at creation.
const maxNameLen = 20

var (
	nameRe      = regexp.MustCompile(`^[A-Za-z0-9]{1,20}$`)
	extensionRe = regexp.MustCompile(`^[A-Za-z0-9]{1,10}$`)
)

// Path is a normalized virtual path: an ordered list of segments. The zero
// value is the root. Segments never contain "/" and are never "." or "..".
type Path struct {
	segs []string
}

// Root is the account's top-level folder.
var Root = Path{}

// Breadcrumb is one navigable ancestor of a path.
type Breadcrumb struct {
	Label string `json:"label"`
	Path  Path   `json:"path"`
}

// ValidateName checks a folder name against the creation rule.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q must be 1-%d letters or digits", ErrInvalidName, name, maxNameLen)
	}
	return nil
}

// ParsePath normalizes a trusted path string such as "/Trips/Paris" or
// "Trips/Paris/". Empty segments collapse; "." and ".." are rejected.
func ParsePath(s string) (Path, error) {
	var p Path
	for _, seg := range strings.Split(s, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return Root, fmt.Errorf("%w: path %q contains %q", ErrInvalidName, s, seg)
		}
		p.segs = append(p.segs, seg)
	}
	return p, nil
}

// MustParsePath is ParsePath for literals known to be valid.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Join appends a new folder segment. It is the only fallible path
// operation: name must be 1-20 characters of [A-Za-z0-9].
func (p Path) Join(name string) (Path, error) {
	if err := ValidateName(name); err != nil {
		return Root, err
	}
	return p.append(name), nil
}

// Child appends a trusted leaf name (an uploaded file's name). Only the
// structural rules apply: no "/", not empty, not "." or "..". The marker
// name is reserved.
func (p Path) Child(name string) (Path, error) {
	if name == MarkerName {
		return Root, fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return p.entry(name)
}

// entry appends the name of a stored object, markers included.
func (p Path) entry(name string) (Path, error) {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return Root, fmt.Errorf("%w: %q is not a valid entry name", ErrInvalidName, name)
	}
	return p.append(name), nil
}

func (p Path) append(name string) Path {
	segs := make([]string, len(p.segs), len(p.segs)+1)
	copy(segs, p.segs)
	return Path{segs: append(segs, name)}
}

// Parent strips the last segment; the root is its own parent.
func (p Path) Parent() Path {
	if len(p.segs) == 0 {
		return Root
	}
	return Path{segs: p.segs[:len(p.segs)-1:len(p.segs)-1]}
}

// Name returns the last segment, or "" for the root.
func (p Path) Name() string {
	if len(p.segs) == 0 {
		return ""
	}
	return p.segs[len(p.segs)-1]
}

// IsRoot reports whether p is the root.
func (p Path) IsRoot() bool { return len(p.segs) == 0 }

// Depth returns the number of segments.
func (p Path) Depth() int { return len(p.segs) }

// Equal reports whether both paths have the same segments.
func (p Path) Equal(q Path) bool {
	if len(p.segs) != len(q.segs) {
		return false
	}
	for i := range p.segs {
		if p.segs[i] != q.segs[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether q is p or one of p's ancestors.
func (p Path) HasPrefix(q Path) bool {
	if len(q.segs) > len(p.segs) {
		return false
	}
	for i := range q.segs {
		if p.segs[i] != q.segs[i] {
			return false
		}
	}
	return true
}

// Rebase replaces the leading from prefix of p with to.
// p must have from as a prefix.
func (p Path) Rebase(from, to Path) Path {
	rest := p.segs[len(from.segs):]
	segs := make([]string, 0, len(to.segs)+len(rest))
	segs = append(segs, to.segs...)
	return Path{segs: append(segs, rest...)}
}

// Breadcrumbs returns root first, then each successive ancestor, p last.
func (p Path) Breadcrumbs() []Breadcrumb {
	crumbs := make([]Breadcrumb, 0, len(p.segs)+1)
	crumbs = append(crumbs, Breadcrumb{Label: "/", Path: Root})
	for i := range p.segs {
		crumbs = append(crumbs, Breadcrumb{
			Label: p.segs[i],
			Path:  Path{segs: p.segs[: i+1 : i+1]},
		})
	}
	return crumbs
}

// String renders "/" for the root and "/a/b" otherwise.
func (p Path) String() string {
	return "/" + strings.Join(p.segs, "/")
}

// MarshalText renders the path as a string in JSON.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a path from JSON.
func (p *Path) UnmarshalText(b []byte) error {
	parsed, err := ParsePath(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// RenameTarget computes the destination of renaming the file at old to
// newName. The stem of newName follows the folder-name rule and an optional
// extension of 1-10 letters or digits is allowed. Without an extension the
// old one is kept, so "b" renames "a.jpg" to "b.jpg".
func RenameTarget(old Path, newName string) (Path, error) {
	if old.IsRoot() {
		return Root, fmt.Errorf("%w: the root cannot be renamed", ErrInvalidName)
	}
	stem, ext, hasExt := strings.Cut(newName, ".")
	if err := ValidateName(stem); err != nil {
		return Root, err
	}
	if hasExt {
		if !extensionRe.MatchString(ext) {
			return Root, fmt.Errorf("%w: extension %q must be 1-10 letters or digits", ErrInvalidName, ext)
		}
	} else if i := strings.LastIndexByte(old.Name(), '.'); i > 0 {
		newName += old.Name()[i:]
	}
	return old.Parent().append(newName), nil
}
