// Package session holds the browser session credential used to talk to Amazon
// and the cookie header parsing and merging rules applied to it.
package session

import (
	"net/http"
	"sort"
	"strings"
	"time"
)

// Jar is an ordered cookie name/value map parsed from a Cookie header.
//
// Keys keep their first-seen position; later values for the same key overwrite in place.
type Jar struct {
	keys   []string
	values map[string]string
}

// ParseHeader parses a "k=v; k2=v2" Cookie header.
//
// Parts without '=' or with an empty name are ignored. Values are split on the first '='.
func ParseHeader(header string) *Jar {
	j := &Jar{values: make(map[string]string)}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		j.Set(name, strings.TrimSpace(value))
	}
	return j
}

// Get returns the value stored for name.
func (j *Jar) Get(name string) (string, bool) {
	v, ok := j.values[name]
	return v, ok
}

// Set stores value under name and reports whether the jar changed.
func (j *Jar) Set(name, value string) bool {
	old, ok := j.values[name]
	if !ok {
		j.keys = append(j.keys, name)
	} else if old == value {
		return false
	}
	j.values[name] = value
	return true
}

// Names returns cookie names in header order.
func (j *Jar) Names() []string {
	return append([]string(nil), j.keys...)
}

// Len returns the number of cookies in the jar.
func (j *Jar) Len() int {
	return len(j.keys)
}

// String serializes the jar as a Cookie header joined by "; ".
func (j *Jar) String() string {
	parts := make([]string, 0, len(j.keys))
	for _, k := range j.keys {
		parts = append(parts, k+"="+j.values[k])
	}
	return strings.Join(parts, "; ")
}

// Merge overlays fresh cookies onto an existing header.
//
// Overwritten keys keep their position and new keys are appended in name order.
// An empty fresh map returns existing untouched.
func Merge(existing string, fresh map[string]string) string {
	if len(fresh) == 0 {
		return existing
	}

	jar := ParseHeader(existing)
	names := make([]string, 0, len(fresh))
	for name := range fresh {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		jar.Set(name, fresh[name])
	}
	return jar.String()
}

// FreshCookies collects live Set-Cookie values from responses, later responses winning.
//
// Cookies the server deletes or that are already expired are skipped.
func FreshCookies(now time.Time, cookies ...[]*http.Cookie) map[string]string {
	fresh := make(map[string]string)
	for _, batch := range cookies {
		for _, c := range batch {
			if c == nil || c.Name == "" {
				continue
			}
			if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
				delete(fresh, c.Name)
				continue
			}
			fresh[c.Name] = c.Value
		}
	}
	return fresh
}
