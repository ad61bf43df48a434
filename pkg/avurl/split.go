package avurl

import "strings"

// layout records the punctuation seen while splitting so that join can
// reproduce the input byte for byte.
type layout struct {
	scheme   bool
	slashes  int
	at       bool
	brackets bool
	port     bool
	junk     string
}

// split breaks a media URL into scheme, userinfo, host, port and the
// path/query/fragment remainder, following FFmpeg's av_url_split rules:
//   - no ':' at all means the whole input is a plain file path;
//   - up to two '/' after the scheme are skipped;
//   - userinfo ends at the last '@' of the authority;
//   - "[...]" hosts are IPv6 literals.
//
// The port is kept as the raw substring; validation happens in Parse.
func split(raw string) (scheme, userinfo, host, port, rest string, l layout) {
	colon := strings.IndexByte(raw, ':')
	if colon == -1 {
		rest = raw
		return
	}
	l.scheme = true
	scheme = raw[:colon]

	pos := colon + 1
	for l.slashes < 2 && pos < len(raw) && raw[pos] == '/' {
		pos++
		l.slashes++
	}
	if pos == len(raw) {
		return
	}

	end := pos + strings.IndexAny(raw[pos:]+"/", "/?#")
	rest = raw[end:]
	if end == pos {
		return
	}

	start := pos
	for {
		i := strings.IndexByte(raw[pos:end], '@')
		if i == -1 {
			break
		}
		l.at = true
		userinfo = raw[start : pos+i]
		pos += i + 1
		if pos == end {
			return
		}
	}

	authority := raw[pos:end]
	if cb := strings.IndexByte(authority, ']'); cb != -1 && authority[0] == '[' {
		l.brackets = true
		host = authority[1:cb]
		tail := authority[cb+1:]
		switch {
		case tail == "":
		case tail[0] == ':':
			l.port = true
			port = tail[1:]
		default:
			l.junk = tail
		}
		return
	}

	if i := strings.IndexByte(authority, ':'); i != -1 {
		l.port = true
		host, port = authority[:i], authority[i+1:]
		return
	}
	host = authority
	return
}

// join is the inverse of split.
func join(scheme, userinfo, host, port, rest string, l layout) string {
	var b strings.Builder
	b.WriteString(scheme)
	if l.scheme {
		b.WriteByte(':')
	}
	b.WriteString(strings.Repeat("/", l.slashes))
	b.WriteString(userinfo)
	if l.at {
		b.WriteByte('@')
	}
	if l.brackets {
		b.WriteString("[" + host + "]")
	} else {
		b.WriteString(host)
	}
	if l.port {
		b.WriteByte(':')
	}
	b.WriteString(port)
	b.WriteString(l.junk)
	b.WriteString(rest)
	return b.String()
}
