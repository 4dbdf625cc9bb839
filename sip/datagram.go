package sip

// Datagram is the parsed form of a SIP message: an insertion-ordered
// header mapping plus an ordered sequence of SDP lines. It is the only
// representation the rest of this daemon operates on — there is no
// richer Request/Response object model, by design (spec §9: "Duck-typed
// 'template' tables... encode as plain data records").
type Datagram struct {
	SIP *Headers
	SDP []string
}

// NewDatagram returns an empty, ready-to-use Datagram.
func NewDatagram() *Datagram {
	return &Datagram{SIP: NewHeaders()}
}

// CallID returns the Call-ID header value, or "" if absent.
func (d *Datagram) CallID() string {
	return d.SIP.Get("Call-ID")
}

// Method returns the pseudo-header carrying the request method, or ""
// if it was never set. The parser always sets it; a "SIP/2.0 200 OK"
// status line yields "OK".
func (d *Datagram) Method() string {
	return d.SIP.Get(MethodHeader)
}

// Clone returns a deep-enough copy safe to mutate independently (used
// when a handler augments the datagram with RTP-negotiated SDP without
// racing the caller who still holds the original).
func (d *Datagram) Clone() *Datagram {
	out := NewDatagram()
	for _, kv := range d.SIP.entries {
		out.SIP.Set(kv.key, kv.value)
	}
	out.SDP = append([]string(nil), d.SDP...)
	return out
}

// Headers is an insertion-ordered, case-preserving string->string map.
// Header lookup in this daemon is done by exact (case-sensitive) key as
// received — the spec does not require case-insensitive matching, and
// the teacher's own dynamic-header overlay (config defaults, Contact)
// writes the same casing it expects to read back.
type Headers struct {
	entries []headerEntry
	index   map[string]int
}

type headerEntry struct {
	key   string
	value string
}

// NewHeaders returns an empty Headers map.
func NewHeaders() *Headers {
	return &Headers{index: make(map[string]int)}
}

// Get returns the header value, or "" if the header is absent.
func (h *Headers) Get(key string) string {
	if i, ok := h.index[key]; ok {
		return h.entries[i].value
	}
	return ""
}

// Has reports whether key is present (even if its value is empty).
func (h *Headers) Has(key string) bool {
	_, ok := h.index[key]
	return ok
}

// Set assigns key to value, replacing any existing value but preserving
// the header's original position in iteration order.
func (h *Headers) Set(key, value string) {
	if i, ok := h.index[key]; ok {
		h.entries[i].value = value
		return
	}
	h.index[key] = len(h.entries)
	h.entries = append(h.entries, headerEntry{key: key, value: value})
}

// Append adds value to an existing header, joining with ", " per spec
// §3 ("duplicated headers ... are concatenated with ', ' preserving
// arrival order"). If key is new, it behaves like Set.
func (h *Headers) Append(key, value string) {
	if i, ok := h.index[key]; ok {
		h.entries[i].value += ", " + value
		return
	}
	h.Set(key, value)
}

// Keys returns header names in insertion order.
func (h *Headers) Keys() []string {
	keys := make([]string, len(h.entries))
	for i, e := range h.entries {
		keys[i] = e.key
	}
	return keys
}

// Range calls fn for each header in insertion order.
func (h *Headers) Range(fn func(key, value string)) {
	for _, e := range h.entries {
		fn(e.key, e.value)
	}
}

// Len reports the number of distinct headers.
func (h *Headers) Len() int {
	return len(h.entries)
}
