package portal

import (
	"strings"
)

// Jar is an ordered name->value cookie set. Merges return a new Jar;
// existing names keep their position and new names are appended.
type Jar struct {
	names  []string
	values map[string]string
}

// ParseJar reads a request Cookie header ("a=1; b=2").
func ParseJar(header string) Jar {
	j := Jar{values: map[string]string{}}
	for _, part := range strings.Split(header, ";") {
		j.set(splitPair(part))
	}
	return j
}

// Merge applies Set-Cookie header values. Each value may itself be a
// comma-joined list of cookies. Empty values are skipped so an expiring
// cookie keeps its prior value.
func (j Jar) Merge(setCookies ...string) Jar {
	out := j.clone()
	for _, h := range setCookies {
		for _, c := range SplitSetCookie(h) {
			first, _, _ := strings.Cut(c, ";")
			if name, value := splitPair(first); value != "" {
				out.set(name, value)
			}
		}
	}
	return out
}

func (j Jar) Header() string {
	parts := make([]string, 0, len(j.names))
	for _, n := range j.names {
		parts = append(parts, n+"="+j.values[n])
	}
	return strings.Join(parts, "; ")
}

func (j Jar) Names() []string {
	return append([]string(nil), j.names...)
}

func (j Jar) Get(name string) (string, bool) {
	v, ok := j.values[name]
	return v, ok
}

func (j Jar) Len() int { return len(j.names) }

func (j Jar) clone() Jar {
	out := Jar{names: append([]string(nil), j.names...), values: make(map[string]string, len(j.values))}
	for k, v := range j.values {
		out.values[k] = v
	}
	return out
}

func (j *Jar) set(name, value string) {
	if name == "" {
		return
	}
	if j.values == nil {
		j.values = map[string]string{}
	}
	if _, ok := j.values[name]; !ok {
		j.names = append(j.names, name)
	}
	j.values[name] = value
}

func splitPair(s string) (string, string) {
	name, value, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return "", ""
	}
	return strings.TrimSpace(name), strings.TrimSpace(value)
}

// SplitSetCookie splits a comma-joined Set-Cookie value at commas that start
// a new "name=" pair, leaving commas inside attributes such as Expires alone.
func SplitSetCookie(h string) []string {
	var out []string
	start := 0
	for i := 0; i < len(h); i++ {
		if h[i] != ',' || !startsPair(h[i+1:]) {
			continue
		}
		if p := strings.TrimSpace(h[start:i]); p != "" {
			out = append(out, p)
		}
		start = i + 1
	}
	if p := strings.TrimSpace(h[start:]); p != "" {
		out = append(out, p)
	}
	return out
}

func startsPair(s string) bool {
	s = strings.TrimLeft(s, " \t")
	n := 0
	for n < len(s) && isTokenChar(s[n]) {
		n++
	}
	return n > 0 && n < len(s) && s[n] == '='
}

func isTokenChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0
}

// ExtractCookieHeader turns a Set-Cookie value into a request Cookie header.
func ExtractCookieHeader(setCookie string) string {
	return Jar{}.Merge(setCookie).Header()
}

// MergeCookieHeader merges a Set-Cookie value into an existing Cookie header.
func MergeCookieHeader(current, setCookie string) string {
	return ParseJar(current).Merge(setCookie).Header()
}

// cookieSummary lists cookie names only.
func cookieSummary(j Jar) string {
	if j.Len() == 0 {
		return "none"
	}
	return strings.Join(j.names, ", ")
}
