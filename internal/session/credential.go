package session

import (
	"strings"
)

// Credential is the harvested browser session used to authenticate against Amazon.
//
// Cookies is the raw Cookie header. CSRFToken is advisory; a fresh one is
// discovered on every library fetch.
type Credential struct {
	Cookies   string `json:"cookies"`
	CSRFToken string `json:"csrf_token,omitempty"`
}

// Empty reports whether no cookies are available.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.Cookies) == ""
}

// Refresh merges fresh cookies into the credential and reports whether anything changed.
//
// A credential with an unchanged cookie set is returned as is.
func (c Credential) Refresh(fresh map[string]string) (Credential, bool) {
	if len(fresh) == 0 {
		return c, false
	}

	jar := ParseHeader(c.Cookies)
	changed := false
	for name, value := range fresh {
		if cur, ok := jar.Get(name); !ok || cur != value {
			changed = true
			break
		}
	}
	if !changed {
		return c, false
	}

	merged := Merge(c.Cookies, fresh)
	if strings.TrimSpace(merged) == "" {
		return c, false
	}
	return Credential{Cookies: merged, CSRFToken: c.CSRFToken}, true
}

// WithToken returns a copy carrying token, reporting whether it differs.
func (c Credential) WithToken(token string) (Credential, bool) {
	if token == "" || token == c.CSRFToken {
		return c, false
	}
	c.CSRFToken = token
	return c, true
}

// Names lists the cookie names in the credential.
func (c Credential) Names() []string {
	return ParseHeader(c.Cookies).Names()
}
