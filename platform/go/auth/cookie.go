package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const (
	SessionCookieName  = "session"
	IdentityCookieName = "identity"
	SecrecyCookieName  = "secrecy"

	// PendingCookieTTL bounds the TOTP window opened by a password check.
	PendingCookieTTL = 10 * time.Minute
)

// Cookies writes and reads the authentication cookies. Pending cookies (identity and
// secrecy) are signed so a client cannot choose their content.
type Cookies struct {
	secure bool
	key    []byte
	clock  clock.Clock
}

// NewCookies returns a cookie writer. secure is false only in development.
func NewCookies(secure bool, key []byte, clk clock.Clock) *Cookies {
	if len(key) == 0 {
		panic("auth: cookie key is required")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Cookies{secure: secure, key: key, clock: clk}
}

// SetSessionCookie issues the session cookie for domain, expiring with the session.
func (c *Cookies) SetSessionCookie(w http.ResponseWriter, domain, token string, expiresAt time.Time) {
	http.SetCookie(w, c.cookie(SessionCookieName, domain, token, expiresAt))
}

// DeleteSessionCookie clears the session cookie.
func (c *Cookies) DeleteSessionCookie(w http.ResponseWriter, domain string) {
	http.SetCookie(w, c.expired(SessionCookieName, domain))
}

// SessionToken returns the raw session token sent with r.
func (c *Cookies) SessionToken(r *http.Request) string {
	ck, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return ck.Value
}

// SetIdentityCookie records the user awaiting a second factor.
func (c *Cookies) SetIdentityCookie(w http.ResponseWriter, domain string, userID uuid.UUID) {
	expires := c.clock.Now().Add(PendingCookieTTL)
	value := c.sign(IdentityCookieName, userID.String(), expires)
	http.SetCookie(w, c.cookie(IdentityCookieName, domain, value, expires))
}

// PendingIdentity returns the user recorded by SetIdentityCookie.
func (c *Cookies) PendingIdentity(r *http.Request) (uuid.UUID, bool) {
	raw, ok := c.verified(r, IdentityCookieName)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// DeleteIdentityCookie clears the pending identity.
func (c *Cookies) DeleteIdentityCookie(w http.ResponseWriter, domain string) {
	http.SetCookie(w, c.expired(IdentityCookieName, domain))
}

// SetSecrecyCookie holds a TOTP secret offered during enrolment.
func (c *Cookies) SetSecrecyCookie(w http.ResponseWriter, domain, secret string) {
	expires := c.clock.Now().Add(PendingCookieTTL)
	value := c.sign(SecrecyCookieName, secret, expires)
	http.SetCookie(w, c.cookie(SecrecyCookieName, domain, value, expires))
}

// PendingSecret returns the secret recorded by SetSecrecyCookie.
func (c *Cookies) PendingSecret(r *http.Request) (string, bool) {
	return c.verified(r, SecrecyCookieName)
}

// DeleteSecrecyCookie clears the enrolment secret.
func (c *Cookies) DeleteSecrecyCookie(w http.ResponseWriter, domain string) {
	http.SetCookie(w, c.expired(SecrecyCookieName, domain))
}

func (c *Cookies) cookie(name, domain, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   domain,
		Expires:  expires.UTC(),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c *Cookies) expired(name, domain string) *http.Cookie {
	ck := c.cookie(name, domain, "", time.Unix(0, 0))
	ck.MaxAge = -1
	return ck
}

// sign binds value to its expiry: value.expiresUnix.mac. The browser's Expires is not
// trusted; verified enforces the embedded deadline.
func (c *Cookies) sign(name, value string, expires time.Time) string {
	payload := value + "." + strconv.FormatInt(expires.Unix(), 10)
	return payload + "." + c.mac(name, payload)
}

func (c *Cookies) verified(r *http.Request, name string) (string, bool) {
	ck, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	i := strings.LastIndexByte(ck.Value, '.')
	if i <= 0 {
		return "", false
	}
	payload, sig := ck.Value[:i], ck.Value[i+1:]
	if !hmac.Equal([]byte(sig), []byte(c.mac(name, payload))) {
		return "", false
	}
	j := strings.LastIndexByte(payload, '.')
	if j <= 0 {
		return "", false
	}
	expires, err := strconv.ParseInt(payload[j+1:], 10, 64)
	if err != nil || !c.clock.Now().Before(time.Unix(expires, 0)) {
		return "", false
	}
	return payload[:j], true
}

func (c *Cookies) mac(name, value string) string {
	m := hmac.New(sha256.New, c.key)
	m.Write([]byte(name))
	m.Write([]byte{0})
	m.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}
