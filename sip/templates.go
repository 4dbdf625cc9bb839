package sip

// Template is a static, compile-time response shape per spec §4.7: a
// status line, the ordered list of headers to emit if present, and
// whether to append an SDP body. Templates are plain data — no
// polymorphism is needed (spec §9 "Duck-typed 'template' tables").
type Template struct {
	StatusLine string
	Headers    []string
	SDP        bool
}

// Required templates from spec §4.7, grounded line-for-line on
// original_source/src/src/sip/static/{trying,ringing,ok,terminated,
// busy,options}.py.
var (
	Trying = Template{
		StatusLine: "SIP/2.0 100 Trying",
		Headers:    []string{"CSeq", "From", "To", "Via", "Call-ID", "Allow", "Contact"},
	}

	Ringing = Template{
		StatusLine: "SIP/2.0 180 Ringing",
		Headers:    []string{"From", "To", "Via", "Call-ID", "Contact", "CSeq", "Allow"},
	}

	OKWithSDP = Template{
		StatusLine: "SIP/2.0 200 OK",
		Headers: []string{
			"Via", "From", "To", "CSeq", "Max-Forwards", "Call-ID", "Contact",
			"Supported", "Require", "Session-Expires", "Server", "Allow", "Min-SE",
		},
		SDP: true,
	}

	OKNoSDP = Template{
		StatusLine: "SIP/2.0 200 OK",
		Headers: []string{
			"Via", "From", "To", "CSeq", "Max-Forwards", "Call-ID", "Contact",
			"Supported", "Require", "Session-Expires", "Server", "Allow", "Min-SE",
		},
	}

	Busy = Template{
		StatusLine: "SIP/2.0 486 Busy Here",
		Headers:    []string{"Contact"},
	}

	Terminated = Template{
		StatusLine: "SIP/2.0 487 Request Terminated",
		Headers:    []string{"From", "To", "Via", "Call-ID", "Contact"},
	}

	OptionsTemplate = Template{
		StatusLine: "SIP/2.0 200 OK",
		Headers: []string{
			"Allow", "Call-ID", "From", "Max-Forwards", "Supported", "To", "Via", "CSeq", "Contact",
		},
	}
)
