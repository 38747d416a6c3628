package message

import (
	"strconv"
	"strings"
)

// Cookies is an ordered, case-insensitive-by-name multimap, matching
// the header multimap's accessor shape. Unlike hdr.Header this stores plain strings
// without a canonical-casing rewrite, since cookie names are
// conventionally treated literally on the wire; lookups fold case.
type Cookies map[string][]string

// Change replaces the first value for key and deletes the rest (spec
// §3: "change(key, v) replaces the first value and deletes the
// rest").
func (c Cookies) Change(key, value string) {
	k := foldKey(c, key)
	c[k] = []string{value}
}

// Add appends a new value for key (spec §3: "add(key, v) appends").
func (c Cookies) Add(key, value string) {
	k := foldKey(c, key)
	c[k] = append(c[k], value)
}

// Get returns the first value for key, or "" if absent.
func (c Cookies) Get(key string) string {
	k := foldKey(c, key)
	if vs := c[k]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// All returns every value for key, in insertion order.
func (c Cookies) All(key string) []string {
	return c[foldKey(c, key)]
}

// foldKey finds an existing key matching name case-insensitively, so
// repeated Add/Change calls with differently-cased names accumulate
// under one entry; falls back to name itself when none exists yet.
func foldKey(c Cookies, name string) string {
	for k := range c {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

// ParseCookieHeader parses a "Cookie" request header value
// ("a=b; c=d") into dst, following RFC 6265 §4.2 informally: cookies
// are separated by "; ", names and values by the first "=".
func ParseCookieHeader(dst Cookies, header string) {
	parts := strings.Split(header, ";")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])
		value = strings.Trim(value, `"`)
		if name == "" {
			continue
		}
		dst.Add(name, value)
	}
}

// SetCookie describes a single Set-Cookie value for name=value with
// the given attributes; String renders it. Attributes left at their zero value are
// omitted; this is a minimal encoder, not a full cookie-jar.
type SetCookie struct {
	Name, Value string
	Path        string
	Domain      string
	MaxAge      int
	HTTPOnly    bool
	Secure      bool
}

func (sc SetCookie) String() string {
	var b strings.Builder
	b.WriteString(sc.Name)
	b.WriteByte('=')
	b.WriteString(sc.Value)
	if sc.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(sc.Path)
	}
	if sc.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(sc.Domain)
	}
	if sc.MaxAge != 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(sc.MaxAge))
	}
	if sc.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	if sc.Secure {
		b.WriteString("; Secure")
	}
	return b.String()
}
