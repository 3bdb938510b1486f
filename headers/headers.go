// Package headers implements HeaderSet: a case-insensitive, multi-valued,
// insertion-ordered HTTP header store (spec §3, §4.3, §6).
package headers

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrRestrictedHeader is returned when user code attempts to Add or Set a
// header name that may only be written through a dedicated accessor.
var ErrRestrictedHeader = errors.New("headers: restricted header name")

// Set is a case-insensitive, multi-valued header collection that preserves
// insertion order for iteration.
//
// forRequest controls which half of the classification table (§6) governs
// multi-valuedness: true for a request's headers, false for a response's.
type Set struct {
	forRequest bool
	order      []string            // original-case names, first-seen order
	values     map[string][]string // keyed by case-folded name
	original   map[string]string   // case-folded name -> first-seen original case
}

// New creates an empty Set. forRequest selects the request-side or
// response-side multi-valued classification rules.
func New(forRequest bool) *Set {
	return &Set{
		forRequest: forRequest,
		values:     make(map[string][]string),
		original:   make(map[string]string),
	}
}

func foldName(name string) string { return strings.ToLower(name) }

// AddRaw appends a value without enforcing the restricted-header policy.
// Used internally by the preamble parser, which is privileged to set any
// header (Host, Content-Length, ...); user code must go through Add.
func (s *Set) AddRaw(name, value string) {
	key := foldName(name)
	if _, seen := s.values[key]; !seen {
		s.order = append(s.order, name)
		s.original[key] = name
	}
	if IsMultiValued(name, s.forRequest) {
		s.values[key] = append(s.values[key], value)
		return
	}
	// single-valued: add behaves as replace, per spec §4.3
	s.values[key] = []string{value}
}

// Add appends a value for name, replacing it if the header is
// single-valued, or appending if it is multi-valued for this Set's side.
// Returns ErrRestrictedHeader if name is in the restricted set.
func (s *Set) Add(name, value string) error {
	if IsRestricted(name) {
		return errors.Wrapf(ErrRestrictedHeader, "add %q", name)
	}
	s.AddRaw(name, value)
	return nil
}

// Set replaces all values of name with a single value, regardless of its
// multi-valued classification. Returns ErrRestrictedHeader if name is
// restricted.
func (s *Set) Set(name, value string) error {
	if IsRestricted(name) {
		return errors.Wrapf(ErrRestrictedHeader, "set %q", name)
	}
	s.SetRaw(name, value)
	return nil
}

// SetRaw is the unrestricted counterpart of Set, used by dedicated
// accessors and the internal parser.
func (s *Set) SetRaw(name, value string) {
	key := foldName(name)
	if _, seen := s.values[key]; !seen {
		s.order = append(s.order, name)
		s.original[key] = name
	}
	s.values[key] = []string{value}
}

// Values returns all values recorded for name, or nil if absent. The
// returned slice must not be mutated by the caller.
func (s *Set) Values(name string) []string {
	return s.values[foldName(name)]
}

// Get returns the first value recorded for name, or "" if absent.
func (s *Set) Get(name string) string {
	vs := s.values[foldName(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Has reports whether name has at least one value.
func (s *Set) Has(name string) bool {
	return len(s.values[foldName(name)]) > 0
}

// Remove deletes all values for name.
func (s *Set) Remove(name string) {
	key := foldName(name)
	delete(s.values, key)
	delete(s.original, key)
	for i, n := range s.order {
		if foldName(n) == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Iter calls visit once per header name, in insertion order, with all of
// its values. Iteration stops early if visit returns false.
func (s *Set) Iter(visit func(name string, values []string) bool) {
	for _, name := range s.order {
		key := foldName(name)
		vs, ok := s.values[key]
		if !ok || len(vs) == 0 {
			continue
		}
		if !visit(s.original[key], vs) {
			return
		}
	}
}

// Len returns the number of distinct header names currently stored.
func (s *Set) Len() int {
	return len(s.order)
}
