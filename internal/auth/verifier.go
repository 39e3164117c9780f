package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/treasurehub/treasurehub-api/internal/common"
)

// rolesClaim is the private claim carrying the caller's roles.
const rolesClaim = "roles"

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Roles  []string
}

// Config configures a Verifier. Exactly one of Secret or JWKSURL is used;
// Secret wins when both are set.
type Config struct {
	Secret    string
	JWKSURL   string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	// HTTPClient fetches the JWKS document. Defaults to an otelhttp client.
	HTTPClient *http.Client
}

// Verifier validates bearer tokens issued by the identity provider.
// Token issuance lives outside this service.
type Verifier struct {
	secret    []byte
	keys      jwk.Set
	validator TokenValidator
	now       func() time.Time
}

// NewVerifier builds a Verifier. With a JWKS URL the key set is fetched once
// up front and refreshed in the background by jwk.Cache.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	v := &Verifier{
		validator: TokenValidator{
			Issuer:    strings.TrimSpace(cfg.Issuer),
			Audience:  strings.TrimSpace(cfg.Audience),
			ClockSkew: cfg.ClockSkew,
		},
		now: time.Now,
	}
	if secret := strings.TrimSpace(cfg.Secret); secret != "" {
		v.secret = []byte(secret)
		v.validator.Algorithm = jwa.HS256
		return v, nil
	}
	url := strings.TrimSpace(cfg.JWKSURL)
	if url == "" {
		return nil, errors.New("auth: secret or JWKS URL is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(url, jwk.WithHTTPClient(client)); err != nil {
		return nil, fmt.Errorf("auth: register jwks: %w", err)
	}
	if _, err := cache.Refresh(ctx, url); err != nil {
		return nil, fmt.Errorf("auth: fetch jwks: %w", err)
	}
	v.keys = jwk.NewCachedSet(cache, url)
	return v, nil
}

// WithNow allows tests to override the time provider.
func (v *Verifier) WithNow(now func() time.Time) {
	if now != nil {
		v.now = now
	}
}

// Verify parses and validates token and returns the caller it names.
func (v *Verifier) Verify(token string) (Principal, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Principal{}, common.Unauthorized("missing token")
	}
	algorithm, err := extractTokenAlgorithm(trimmed)
	if err != nil {
		return Principal{}, invalidToken(err)
	}
	if v.validator.Algorithm != "" && algorithm != v.validator.Algorithm {
		return Principal{}, invalidToken(fmt.Errorf("unexpected token algorithm %s", algorithm))
	}
	var keyOpt jwt.ParseOption
	if v.keys != nil {
		keyOpt = jwt.WithKeySet(v.keys, jws.WithInferAlgorithmFromKey(true))
	} else {
		keyOpt = jwt.WithKey(algorithm, v.secret)
	}
	parsed, err := jwt.ParseString(trimmed, keyOpt, jwt.WithValidate(false))
	if err != nil {
		return Principal{}, invalidToken(err)
	}
	if err := v.validator.Validate(parsed, algorithm, v.now()); err != nil {
		return Principal{}, invalidToken(err)
	}
	return Principal{UserID: parsed.Subject(), Roles: rolesOf(parsed)}, nil
}

// Sign issues an HS256 token. It exists for local tooling and tests and
// fails when the verifier is backed by a JWKS.
func (v *Verifier) Sign(subject string, roles []string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("auth: signing requires a shared secret")
	}
	now := v.now()
	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(ttl))
	if v.validator.Issuer != "" {
		builder = builder.Issuer(v.validator.Issuer)
	}
	if v.validator.Audience != "" {
		builder = builder.Audience([]string{v.validator.Audience})
	}
	if len(roles) > 0 {
		builder = builder.Claim(rolesClaim, roles)
	}
	tok, err := builder.Build()
	if err != nil {
		return "", err
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, v.secret))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}

// rolesOf accepts a JSON array of strings or a single space separated string.
func rolesOf(tok jwt.Token) []string {
	raw, ok := tok.Get(rolesClaim)
	if !ok {
		return nil
	}
	switch vals := raw.(type) {
	case []string:
		return vals
	case []any:
		out := make([]string, 0, len(vals))
		for _, r := range vals {
			if s, ok := r.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(vals)
	}
	return nil
}

func invalidToken(err error) error {
	return common.NewAppError("UNAUTHORIZED", "invalid token", http.StatusUnauthorized, err)
}

func extractTokenAlgorithm(token string) (jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(token)
	if err != nil {
		return "", err
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return "", errors.New("auth: token contains no signatures")
	}
	var algorithm jwa.SignatureAlgorithm
	for _, sig := range signatures {
		headers := sig.ProtectedHeaders()
		if headers == nil {
			return "", errors.New("auth: token missing protected headers")
		}
		alg := headers.Algorithm()
		if alg == "" {
			return "", errors.New("auth: token missing algorithm")
		}
		if alg == jwa.NoSignature {
			return "", errors.New("auth: token uses none algorithm")
		}
		if algorithm == "" {
			algorithm = alg
		} else if algorithm != alg {
			return "", errors.New("auth: mixed token algorithms detected")
		}
	}
	return algorithm, nil
}
