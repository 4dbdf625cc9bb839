package sip

import (
	"strconv"
	"strings"
)

const crlf = "\r\n"

// serializerCache memoizes Serialize results per spec §4.1 ("the
// template+datagram pair is memoizable"); keyed on template status line
// + the raw datagram's rendered header/SDP content, since Datagram
// itself isn't comparable.
var serializerCache = newLRUCache(DefaultCacheSize)

// Serialize renders a template + datagram pair into the wire bytes of a
// SIP response, per spec §4.1 steps 1-5.
func Serialize(tmpl Template, dg *Datagram) ([]byte, error) {
	key := cacheKey(tmpl, dg)
	if cached, ok := serializerCache.get(key); ok {
		return append([]byte(nil), cached.([]byte)...), nil
	}

	var b strings.Builder
	b.WriteString(tmpl.StatusLine)
	b.WriteString(crlf)

	for _, name := range tmpl.Headers {
		value := dg.SIP.Get(name)
		if value == "" {
			continue
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString(crlf)
	}

	if tmpl.SDP {
		b.WriteString("Content-Type: application/sdp")
		b.WriteString(crlf)
		body := strings.Join(dg.SDP, crlf)
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(body)))
		b.WriteString(crlf)
		b.WriteString(crlf)
		b.WriteString(body)
	} else {
		b.WriteString("Content-Length: 0")
		b.WriteString(crlf)
		b.WriteString(crlf)
	}

	out := b.String()
	if !strings.HasSuffix(out, crlf) {
		out += crlf
	}

	data := []byte(out)
	serializerCache.put(key, data)
	return data, nil
}

// cacheKey renders a string uniquely identifying this (template,
// datagram) pair for memoization purposes without requiring Datagram to
// be comparable.
func cacheKey(tmpl Template, dg *Datagram) string {
	var b strings.Builder
	b.WriteString(tmpl.StatusLine)
	b.WriteByte('\x00')
	for _, name := range tmpl.Headers {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(dg.SIP.Get(name))
		b.WriteByte('\x01')
	}
	if tmpl.SDP {
		b.WriteByte('\x02')
		for _, line := range dg.SDP {
			b.WriteString(line)
			b.WriteByte('\x01')
		}
	}
	return b.String()
}
