package httpconn

// AuthScheme is the authentication scheme selected for a request, per spec
// §4.9 — only the selection is part of this specification; the scheme
// implementations (Basic/Digest/NTLM credential verification) are external
// collaborators.
type AuthScheme int

const (
	AuthAnonymous AuthScheme = iota
	AuthNone
	AuthBasic
	AuthDigest
)

// AuthResult is what an external Authenticator reports back to the core.
type AuthResult struct {
	Authenticated bool
	Principal     any
	// Challenge is the WWW-Authenticate header value to emit on a 401 when
	// Authenticated is false.
	Challenge string
}

// Authenticator is the external collaborator that turns a selected
// AuthScheme plus a request preamble into an authentication decision. The
// core only consults it at the point of delivering a challenge or an
// authenticated principal (spec §1 Out of scope).
type Authenticator interface {
	Authenticate(scheme AuthScheme, p *RequestPreamble) AuthResult
}
