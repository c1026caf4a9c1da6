// Package auth verifies Firebase ID tokens presented as bearer tokens.
//
// Sign-in itself happens in the client against Firebase; this package only
// checks the resulting RS256 token against Google's published keys.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/m-mizutani/goerr/v2"
)

// FirebaseJWKSURL serves the public keys Firebase signs ID tokens with.
const FirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

const issuerPrefix = "https://securetoken.google.com/"

var (
	// ErrInvalidToken covers every reason a presented token is rejected.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrKeySetUnavailable means the provider's public keys could not be fetched.
	ErrKeySetUnavailable = errors.New("auth: key set unavailable")
)

// User is the identity carried by a verified token.
type User struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// Verifier turns a raw bearer token into a User.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (User, error)
}

// ─── FIREBASE ─────────────────────────────────────────────────────────────────

// FirebaseConfig configures NewFirebaseVerifier. Keys and Tokens default to
// fresh caches; JWKSURL defaults to FirebaseJWKSURL.
type FirebaseConfig struct {
	ProjectID  string
	JWKSURL    string
	Keys       *KeySetCache
	Tokens     *TokenCache
	HTTPClient *http.Client
}

// FirebaseVerifier verifies Firebase ID tokens.
type FirebaseVerifier struct {
	projectID  string
	issuer     string
	jwksURL    string
	keys       *KeySetCache
	tokens     *TokenCache
	httpClient *http.Client
}

// NewFirebaseVerifier returns a verifier for tokens issued to cfg.ProjectID.
func NewFirebaseVerifier(cfg FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, goerr.New("firebase project id is required")
	}
	if cfg.JWKSURL == "" {
		cfg.JWKSURL = FirebaseJWKSURL
	}
	if cfg.Keys == nil {
		cfg.Keys = NewKeySetCache(0)
	}
	if cfg.Tokens == nil {
		cfg.Tokens = NewTokenCache(0)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &FirebaseVerifier{
		projectID:  cfg.ProjectID,
		issuer:     issuerPrefix + cfg.ProjectID,
		jwksURL:    cfg.JWKSURL,
		keys:       cfg.Keys,
		tokens:     cfg.Tokens,
		httpClient: cfg.HTTPClient,
	}, nil
}

// Verify checks signature, audience, issuer, expiry and subject. A signature
// failure against a cached key set triggers one refetch, which covers
// Google's key rotation.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (User, error) {
	if idToken == "" {
		return User{}, goerr.Wrap(ErrInvalidToken, "empty token")
	}
	if user, ok := v.tokens.Get(idToken); ok {
		return user, nil
	}

	set, cached, err := v.keySet(ctx)
	if err != nil {
		return User{}, err
	}
	tok, err := v.parse(idToken, set)
	if err != nil && cached && !jwt.IsValidationError(err) {
		v.keys.Invalidate()
		if set, _, err = v.keySet(ctx); err != nil {
			return User{}, err
		}
		tok, err = v.parse(idToken, set)
	}
	if err != nil {
		return User{}, goerr.Wrap(ErrInvalidToken, "failed to parse or verify ID token", goerr.V("reason", err.Error()))
	}

	user, err := userFromToken(tok)
	if err != nil {
		return User{}, err
	}
	v.tokens.Put(idToken, user, tok.Expiration())
	return user, nil
}

func (v *FirebaseVerifier) parse(idToken string, set jwk.Set) (jwt.Token, error) {
	// Allow 10 seconds of clock skew between Google and this host.
	return jwt.Parse([]byte(idToken),
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithAudience(v.projectID),
		jwt.WithIssuer(v.issuer),
		jwt.WithAcceptableSkew(10*time.Second),
	)
}

// keySet returns the cached key set, fetching it on a miss. The boolean
// reports whether the set came from the cache.
func (v *FirebaseVerifier) keySet(ctx context.Context) (jwk.Set, bool, error) {
	if set, ok := v.keys.Get(); ok {
		return set, true, nil
	}
	set, err := jwk.Fetch(ctx, v.jwksURL, jwk.WithHTTPClient(v.httpClient))
	if err != nil {
		return nil, false, goerr.Wrap(ErrKeySetUnavailable, "failed to fetch Firebase public keys",
			goerr.V("jwks_url", v.jwksURL), goerr.V("reason", err.Error()))
	}
	v.keys.Put(set)
	return set, false, nil
}

func userFromToken(tok jwt.Token) (User, error) {
	if tok.Subject() == "" {
		return User{}, goerr.Wrap(ErrInvalidToken, "sub claim is empty")
	}
	user := User{UID: tok.Subject()}
	if v, ok := tok.Get("email"); ok {
		user.Email, _ = v.(string)
	}
	if v, ok := tok.Get("email_verified"); ok {
		user.EmailVerified, _ = v.(bool)
	}
	if v, ok := tok.Get("name"); ok {
		user.Name, _ = v.(string)
	}
	if v, ok := tok.Get("picture"); ok {
		user.Picture, _ = v.(string)
	}
	return user, nil
}

// ─── STATIC ───────────────────────────────────────────────────────────────────

// StaticVerifier accepts any non-empty token as the same user. It exists for
// local development with AUTH_DISABLED=true and for tests.
type StaticVerifier struct {
	User User
}

func (s StaticVerifier) Verify(_ context.Context, idToken string) (User, error) {
	if idToken == "" {
		return User{}, goerr.Wrap(ErrInvalidToken, "empty token")
	}
	return s.User, nil
}

// ─── CONTEXT ──────────────────────────────────────────────────────────────────

type ctxKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFrom returns the user stored by WithUser.
func UserFrom(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}
