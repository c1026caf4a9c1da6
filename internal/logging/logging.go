// Package logging builds the process-wide slog.Logger: JSON in production,
// text everywhere else, with bearer tokens and email addresses masked.
package logging

import (
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/m-mizutani/masq"
)

var (
	// Firebase ID tokens are compact JWS: three base64url segments, header
	// starting with {"alg" → "eyJ".
	jwtPattern   = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// Redactor returns the ReplaceAttr hook that masks secrets and personal data
// in every record.
func Redactor() func(groups []string, a slog.Attr) slog.Attr {
	return masq.New(
		masq.WithFieldName("Authorization"),
		masq.WithFieldName("IDToken"),
		masq.WithFieldName("Email"),
		masq.WithFieldName("NotifyEmail"),
		masq.WithFieldName("APIKey"),
		masq.WithContain("Bearer "),
		masq.WithRegex(jwtPattern),
		masq.WithRegex(emailPattern),
	)
}

// ParseLevel maps debug, info, warn and error onto slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to w.
func New(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: Redactor(),
	}
	if env == "production" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
