package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"

	"github.com/treasurehub/treasurehub-api/internal/common"
)

func newHMACVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(context.Background(), Config{Secret: "s3cret", Issuer: "treasurehub-idp", Audience: "treasurehub-api"})
	require.NoError(t, err)
	return v
}

func whoami(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	common.JSON(w, http.StatusOK, map[string]any{"userId": userID, "admin": common.HasRole(r.Context(), common.RoleAdmin)})
}

func serve(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireAuth(t *testing.T) {
	v := newHMACVerifier(t)
	h := Middleware{Verifier: v}.RequireAuth(http.HandlerFunc(whoami))

	require.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
	require.Equal(t, http.StatusUnauthorized, serve(h, "not-a-jwt").Code)

	token, err := v.Sign("buyer-1", nil, time.Minute)
	require.NoError(t, err)
	rec := serve(h, token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"userId":"buyer-1","admin":false}`, rec.Body.String())

	other, err := NewVerifier(context.Background(), Config{Secret: "different", Issuer: "treasurehub-idp", Audience: "treasurehub-api"})
	require.NoError(t, err)
	forged, err := other.Sign("buyer-1", []string{common.RoleAdmin}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, serve(h, forged).Code)
}

func TestRequireAuthRejectsExpired(t *testing.T) {
	v := newHMACVerifier(t)
	v.WithNow(func() time.Time { return time.Now().Add(-time.Hour) })
	token, err := v.Sign("buyer-1", nil, time.Minute)
	require.NoError(t, err)
	v.WithNow(time.Now)

	rec := serve(Middleware{Verifier: v}.RequireAuth(http.HandlerFunc(whoami)), token)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole(t *testing.T) {
	v := newHMACVerifier(t)
	h := Middleware{Verifier: v}.RequireAuth(RequireRole(common.RoleAdmin)(http.HandlerFunc(whoami)))

	buyer, err := v.Sign("buyer-1", []string{"buyer"}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, serve(h, buyer).Code)

	admin, err := v.Sign("admin-1", []string{"buyer", common.RoleAdmin}, time.Minute)
	require.NoError(t, err)
	rec := serve(h, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"userId":"admin-1","admin":true}`, rec.Body.String())

	require.Equal(t, http.StatusUnauthorized, serve(RequireRole(common.RoleAdmin)(http.HandlerFunc(whoami)), "").Code)
}

func TestAuthenticateIsOptional(t *testing.T) {
	v := newHMACVerifier(t)
	h := Middleware{Verifier: v}.Authenticate(http.HandlerFunc(whoami))

	rec := serve(h, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"userId":"","admin":false}`, rec.Body.String())
}

func TestVerifierWithJWKS(t *testing.T) {
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	private, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, private.Set(jwk.KeyIDKey, "k1"))
	require.NoError(t, private.Set(jwk.AlgorithmKey, jwa.RS256))
	public, err := jwk.PublicKeyOf(private)
	require.NoError(t, err)
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(public))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	v, err := NewVerifier(ctx, Config{JWKSURL: srv.URL, Audience: "treasurehub-api", HTTPClient: srv.Client()})
	require.NoError(t, err)

	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject("buyer-9").
		Audience([]string{"treasurehub-api"}).
		IssuedAt(now).
		Expiration(now.Add(time.Minute)).
		Claim("roles", "buyer admin").
		Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, private))
	require.NoError(t, err)

	p, err := v.Verify(string(signed))
	require.NoError(t, err)
	require.Equal(t, "buyer-9", p.UserID)
	require.Equal(t, []string{"buyer", "admin"}, p.Roles)

	_, err = v.Sign("x", nil, time.Minute)
	require.Error(t, err)
}
