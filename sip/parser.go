package sip

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// sdpLine matches "x=..." SDP content lines per spec §4.1 step 3.
var sdpLine = regexp.MustCompile(`^[a-z]=.+$`)

// Parser turns a raw SIP datagram into a Datagram. It is pure and safe
// for concurrent use; its output is memoized in a bounded LRU keyed by
// the raw message, per spec §4.1.
type Parser struct {
	log   zerolog.Logger
	cache *lruCache
}

// ParserOption configures a Parser at construction time.
type ParserOption func(*Parser)

// WithParserLogger overrides the parser's logger.
func WithParserLogger(logger zerolog.Logger) ParserOption {
	return func(p *Parser) { p.log = logger }
}

// WithCacheSize overrides the memoization cache size (minimum enforced
// by newLRUCache is DefaultCacheSize regardless).
func WithCacheSize(size int) ParserOption {
	return func(p *Parser) { p.cache = newLRUCache(size) }
}

// NewParser builds a Parser ready for concurrent use by worker goroutines.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		log:   log.Logger.With().Str("component", "sip.Parser").Logger(),
		cache: newLRUCache(DefaultCacheSize),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Parse implements spec §4.1. It never returns a partially filled
// Datagram on error.
func (p *Parser) Parse(data []byte) (*Datagram, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	if !IsSIP(data) {
		return nil, ErrInvalidSignature
	}

	key := string(data)
	if cached, ok := p.cache.get(key); ok {
		return cached.(*Datagram), nil
	}

	dg, err := parse(data)
	if err != nil {
		p.log.Warn().Err(err).Msg("dropping malformed datagram")
		return nil, err
	}

	p.cache.put(key, dg)
	return dg, nil
}

// parse does the actual line-oriented decomposition described in spec
// §4.1, steps 1-4.
func parse(data []byte) (*Datagram, error) {
	normalized := strings.ReplaceAll(string(data), "\r\n", "\n")

	var lines []string
	for _, line := range strings.Split(normalized, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, ErrMalformedRequest
	}

	startLine := lines[0]
	method, ok := extractMethod(startLine)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedRequest, startLine)
	}

	dg := NewDatagram()
	if method != "" {
		dg.SIP.Set(MethodHeader, method)
	}

	// Per-header accumulation preserves arrival order before the final
	// comma-join collapse (spec §4.1 step 3-4); SDP lines are kept in a
	// separate ordered slice, never collapsed.
	for _, line := range lines[1:] {
		if sdpLine.MatchString(line) {
			dg.SDP = append(dg.SDP, line)
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		dg.SIP.Append(name, value)
	}

	return dg, nil
}

// extractMethod intersects the whitespace-split tokens of the start-line
// with the allowed method set and pops one element, per spec §4.1 step
// 2. Iteration order over `methods` is fixed, so when a start-line
// (malformed or adversarial) carries more than one recognized token, the
// choice is deterministic rather than dependent on map iteration order.
func extractMethod(startLine string) (string, bool) {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(startLine) {
		tokens[strings.ToUpper(tok)] = struct{}{}
	}
	for _, m := range methods {
		if _, ok := tokens[string(m)]; ok {
			return string(m), true
		}
	}
	return "", false
}
