// Package identity resolves the anonymous session and display name a request
// belongs to.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	SessionHeaderName = "X-Session-ID"
	UserNameHeader    = "X-User-Name"
	maxUserNameRunes  = 64
)

type contextKey int

const (
	sessionIDKey contextKey = iota
	userNameKey
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// SessionIDFromContext extracts the session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// UserNameFromContext extracts the display name from the request context.
func UserNameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userNameKey).(string); ok {
		return v
	}
	return ""
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// SanitizeSessionID returns id when it is a well-formed session id and ""
// otherwise.
func SanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return ""
	}
	return id
}

// SanitizeUserName trims name, drops control characters and caps its length.
func SanitizeUserName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	if utf8.RuneCountInString(name) > maxUserNameRunes {
		name = string([]rune(name)[:maxUserNameRunes])
	}
	return name
}

// Resolve picks the session id for a request body: the body value when it is
// valid, then the header-derived id in ctx, then a new id.
func Resolve(ctx context.Context, bodySessionID string) string {
	if id := SanitizeSessionID(bodySessionID); id != "" {
		return id
	}
	if id := SessionIDFromContext(ctx); id != "" {
		return id
	}
	return NewSessionID()
}

// Middleware injects the header session id and display name into the request
// context. A missing or malformed session header leaves the id empty so that
// the body may still supply one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if sid := SanitizeSessionID(r.Header.Get(SessionHeaderName)); sid != "" {
			ctx = context.WithValue(ctx, sessionIDKey, sid)
		}
		if name := SanitizeUserName(r.Header.Get(UserNameHeader)); name != "" {
			ctx = context.WithValue(ctx, userNameKey, name)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP for rate limiting.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
