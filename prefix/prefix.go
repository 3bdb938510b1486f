// Package prefix implements PrefixSpec: a parsed scheme://host:port/path/
// literal used to register and match listeners against incoming requests.
package prefix

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Scheme is the URI scheme a Spec was registered under.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Host wildcard markers. Any other host value is a literal DNS name and is
// compared case-insensitively.
const (
	HostUnhandled = "*" // unhandled by any specific host
	HostCatchAll  = "+" // matches any host
)

// Sentinel errors, named in the teacher's "pkg: condition" convention
// (see shockwave/pkg/shockwave/http11/errors.go).
var (
	ErrInvalidScheme = errors.New("prefix: invalid or unsupported scheme")
	ErrInvalidHost   = errors.New("prefix: invalid host")
	ErrInvalidPort   = errors.New("prefix: invalid port")
	ErrInvalidPath   = errors.New("prefix: invalid path")
)

// Spec is a parsed scheme://host:port/path/ prefix literal.
//
// Two Specs are equal iff (Scheme, Host, Port, Path) are equal after
// case-folding Host. Path always ends in '/'.
type Spec struct {
	Scheme Scheme
	Host   string
	Port   uint16
	Path   string
}

// Parse parses a prefix literal such as "http://+:80/api/" into a Spec.
//
// Validation performed (spec §4.1):
//   - scheme must be http or https
//   - host must be non-empty (or one of the wildcards * / +)
//   - port must be a decimal integer in 1..65535
//   - path must start with '/', end with '/', and must not contain '%'
//     or '//'
func Parse(literal string) (Spec, error) {
	scheme, rest, ok := cutScheme(literal)
	if !ok {
		return Spec{}, errors.Wrapf(ErrInvalidScheme, "parsing %q", literal)
	}

	hostPort, path, ok := strings.Cut(rest, "/")
	if !ok {
		return Spec{}, errors.Wrapf(ErrInvalidPath, "parsing %q: missing path", literal)
	}
	path = "/" + path

	host, portStr, ok := strings.Cut(hostPort, ":")
	if !ok {
		return Spec{}, errors.Wrapf(ErrInvalidPort, "parsing %q: missing port", literal)
	}

	host = strings.TrimSpace(host)
	if host == "" {
		return Spec{}, errors.Wrapf(ErrInvalidHost, "parsing %q", literal)
	}

	port, err := parsePort(portStr)
	if err != nil {
		return Spec{}, errors.Wrapf(err, "parsing %q", literal)
	}

	if err := validatePath(path); err != nil {
		return Spec{}, errors.Wrapf(err, "parsing %q", literal)
	}

	return Spec{
		Scheme: scheme,
		Host:   foldHost(host),
		Port:   port,
		Path:   path,
	}, nil
}

func cutScheme(literal string) (Scheme, string, bool) {
	idx := strings.Index(literal, "://")
	if idx <= 0 {
		return "", "", false
	}
	switch strings.ToLower(literal[:idx]) {
	case string(SchemeHTTP):
		return SchemeHTTP, literal[idx+3:], true
	case string(SchemeHTTPS):
		return SchemeHTTPS, literal[idx+3:], true
	default:
		return "", "", false
	}
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 65535 {
		return 0, ErrInvalidPort
	}
	return uint16(n), nil
}

func validatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return ErrInvalidPath
	}
	if !strings.HasSuffix(path, "/") {
		return ErrInvalidPath
	}
	if strings.Contains(path, "%") {
		return ErrInvalidPath
	}
	if strings.Contains(path, "//") {
		return ErrInvalidPath
	}
	return nil
}

// foldHost case-folds a literal host name; the wildcard markers are left
// untouched since they are not DNS names.
func foldHost(host string) string {
	if host == HostUnhandled || host == HostCatchAll {
		return host
	}
	return strings.ToLower(host)
}

// IsUnhandled reports whether this Spec's host is the "*" wildcard.
func (s Spec) IsUnhandled() bool { return s.Host == HostUnhandled }

// IsCatchAll reports whether this Spec's host is the "+" wildcard.
func (s Spec) IsCatchAll() bool { return s.Host == HostCatchAll }

// String renders the Spec back to its literal form.
func (s Spec) String() string {
	var b strings.Builder
	b.WriteString(string(s.Scheme))
	b.WriteString("://")
	b.WriteString(s.Host)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(int(s.Port)))
	b.WriteString(s.Path)
	return b.String()
}

// Equal reports whether two Specs are equal per §4.1's equality rule.
func (s Spec) Equal(other Spec) bool {
	return s.Scheme == other.Scheme && s.Host == other.Host &&
		s.Port == other.Port && s.Path == other.Path
}
