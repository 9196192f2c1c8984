package oauth

import "fmt"

const redacted = "[REDACTED]"

// RedactedToken holds a secret (a client secret, a backend function key, a
// store password) so that printing or encoding it yields "[REDACTED]". Value
// is the only way back to the secret and belongs at the point where the
// secret leaves the process: a request header or a client config.
type RedactedToken struct {
	secret string
}

// NewRedactedToken wraps secret.
func NewRedactedToken(secret string) RedactedToken {
	return RedactedToken{secret: secret}
}

// Value returns the secret.
func (t RedactedToken) Value() string {
	return t.secret
}

// IsEmpty reports whether no secret is held.
func (t RedactedToken) IsEmpty() bool {
	return t.secret == ""
}

func (t RedactedToken) String() string {
	return redacted
}

// Format covers every fmt verb, including %q, %x and %#v.
func (t RedactedToken) Format(f fmt.State, verb rune) {
	if verb == 'v' && f.Flag('#') {
		_, _ = fmt.Fprint(f, "oauth.RedactedToken{"+redacted+"}")
		return
	}
	_, _ = fmt.Fprint(f, redacted)
}

func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
