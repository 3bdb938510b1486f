package headers

// Class describes how a header name is allowed to be used, per the
// classification table in spec §3 and §6.
type Class int

const (
	// ClassBoth headers may appear in requests or responses.
	ClassBoth Class = iota
	ClassRequestOnly
	ClassResponseOnly
)

// Multiplicity describes how many values a header name may carry.
type Multiplicity int

const (
	SingleValued Multiplicity = iota
	MultiValuedInRequests
	MultiValuedInResponses
)

// rule is one row of the static classification table.
type rule struct {
	class        Class
	multiplicity Multiplicity
	restricted   bool
}

// classify is keyed by the case-folded header name. Unlisted names default
// to ClassBoth / SingleValued / not restricted.
var classify = map[string]rule{
	// multi-valued on request (spec §6 excerpt)
	"accept":           {ClassRequestOnly, MultiValuedInRequests, false},
	"accept-charset":   {ClassRequestOnly, MultiValuedInRequests, false},
	"accept-encoding":  {ClassRequestOnly, MultiValuedInRequests, false},
	"accept-language":  {ClassRequestOnly, MultiValuedInRequests, false},
	"allow":            {ClassBoth, MultiValuedInRequests, false},
	"cache-control":    {ClassBoth, MultiValuedInRequests, false},
	"connection":       {ClassBoth, MultiValuedInRequests, false},
	"cookie":           {ClassRequestOnly, MultiValuedInRequests, false},
	"pragma":           {ClassBoth, MultiValuedInRequests, false},
	"transfer-encoding": {ClassBoth, MultiValuedInRequests, true},
	"trailer":          {ClassBoth, MultiValuedInRequests, false},
	"upgrade":          {ClassBoth, MultiValuedInRequests, false},
	"via":              {ClassBoth, MultiValuedInRequests, false},
	"warning":          {ClassBoth, MultiValuedInRequests, false},

	// restricted, request side
	"content-length":      {ClassBoth, SingleValued, true},
	"date":                {ClassBoth, SingleValued, true},
	"expect":              {ClassRequestOnly, SingleValued, true},
	"host":                {ClassRequestOnly, SingleValued, true},
	"if-modified-since":   {ClassRequestOnly, SingleValued, true},
	"range":               {ClassRequestOnly, SingleValued, true},
	"user-agent":          {ClassRequestOnly, SingleValued, true},

	// restricted, response side (content-length/date/transfer-encoding
	// already listed above as shared restricted names)
	"server":           {ClassResponseOnly, SingleValued, true},
	"www-authenticate": {ClassResponseOnly, SingleValued, true},
}

// Classify returns the classification rule for a header name, defaulting to
// an unrestricted single-valued "both" header when the name is unlisted.
func Classify(name string) (class Class, multiplicity Multiplicity, restricted bool) {
	r, ok := classify[foldName(name)]
	if !ok {
		return ClassBoth, SingleValued, false
	}
	return r.class, r.multiplicity, r.restricted
}

// IsRestricted reports whether name may only be set via a dedicated
// accessor, never through the general Add/Set API from user code.
func IsRestricted(name string) bool {
	_, _, restricted := Classify(name)
	return restricted
}

// IsMultiValued reports whether name accumulates multiple values when
// requests (forRequest=true) or responses (forRequest=false) Add it
// repeatedly.
func IsMultiValued(name string, forRequest bool) bool {
	_, mult, _ := Classify(name)
	switch mult {
	case MultiValuedInRequests:
		return forRequest
	case MultiValuedInResponses:
		return !forRequest
	default:
		return false
	}
}
