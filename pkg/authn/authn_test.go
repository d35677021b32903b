package authn

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderExtractor(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    Identity
	}{
		{"no headers", nil, Identity{Principal: "system", Role: RoleViewer}},
		{"principal only", map[string]string{PrincipalHeader: "alice"}, Identity{Principal: "alice", Role: RoleViewer}},
		{"operator", map[string]string{PrincipalHeader: "alice", RoleHeader: "Operator"}, Identity{Principal: "alice", Role: RoleOperator}},
		{"role as principal", map[string]string{RoleHeader: "operator"}, Identity{Principal: "operator", Role: RoleOperator}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, HeaderExtractor(r))
		})
	}
}

func TestJWTExtractor(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
		require.NoError(t, err)
		return s
	}
	exp := time.Now().Add(time.Hour).Unix()

	pub, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "jwt.pem")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}), 0o600))

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	forged, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "mallory", "role": "operator", "exp": exp}).SignedString(otherKey)
	require.NoError(t, err)

	tests := []struct {
		name   string
		cfg    JWTConfig
		auth   string
		header map[string]string
		want   Identity
	}{
		{
			name: "verified operator",
			cfg:  JWTConfig{PublicKeyPath: keyPath},
			auth: "Bearer " + sign(jwt.MapClaims{"sub": "alice", "role": "operator", "exp": exp}),
			want: Identity{Principal: "alice", Role: RoleOperator},
		},
		{
			name: "nested role array",
			cfg:  JWTConfig{RoleClaim: "realm_access.roles", PrincipalClaim: "preferred_username"},
			auth: "Bearer " + sign(jwt.MapClaims{"preferred_username": "bob", "realm_access": map[string]any{"roles": []any{"user", "operator"}}, "exp": exp}),
			want: Identity{Principal: "bob", Role: RoleOperator},
		},
		{
			name: "viewer claim",
			cfg:  JWTConfig{},
			auth: "Bearer " + sign(jwt.MapClaims{"sub": "carol", "role": "viewer", "exp": exp}),
			want: Identity{Principal: "carol", Role: RoleViewer},
		},
		{
			name: "forged signature",
			cfg:  JWTConfig{PublicKeyPath: keyPath},
			auth: "Bearer " + forged,
			want: Identity{Principal: "system", Role: RoleViewer},
		},
		{
			name: "wrong issuer",
			cfg:  JWTConfig{PublicKeyPath: keyPath, Issuer: "https://idp.example"},
			auth: "Bearer " + sign(jwt.MapClaims{"sub": "alice", "role": "operator", "iss": "https://other", "exp": exp}),
			want: Identity{Principal: "system", Role: RoleViewer},
		},
		{
			name:   "no token ignores role header",
			cfg:    JWTConfig{},
			header: map[string]string{PrincipalHeader: "dave", RoleHeader: "operator"},
			want:   Identity{Principal: "dave", Role: RoleViewer},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extract, err := NewJWTExtractor(tt.cfg)
			require.NoError(t, err)
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.auth != "" {
				r.Header.Set("Authorization", tt.auth)
			}
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extract(r))
		})
	}

	_, err = NewJWTExtractor(JWTConfig{PublicKeyPath: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)
}

func TestMiddlewareAndRequireOperator(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(FromContext(r.Context()).Principal))
	})

	tests := []struct {
		name     string
		enabled  bool
		role     string
		wantCode int
	}{
		{"gate disabled", false, "", http.StatusOK},
		{"viewer rejected", true, "viewer", http.StatusForbidden},
		{"operator allowed", true, "operator", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Middleware(nil)(RequireOperator(tt.enabled)(ok))
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.Header.Set(PrincipalHeader, "alice")
			if tt.role != "" {
				r.Header.Set(RoleHeader, tt.role)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}

	assert.Equal(t, Identity{Principal: "system", Role: RoleViewer}, FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
