package authn

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures the bearer-token extractor.
type JWTConfig struct {
	// PrincipalClaim names the claim holding the actor. Default: "sub".
	PrincipalClaim string

	// RoleClaim is the claim path holding the role. Dot-notation reaches
	// nested claims (e.g. "realm_access.roles"). Default: "role".
	RoleClaim string

	// OperatorRoleValue is the claim value that grants RoleOperator.
	// Default: "operator".
	OperatorRoleValue string

	// PublicKeyPath is a PEM-encoded RSA public key for RS256 verification.
	// When empty, tokens are parsed without verification (trusted proxy mode).
	PublicKeyPath string

	Issuer   string
	Audience string

	Logger *slog.Logger
}

// NewJWTExtractor creates an Extractor that reads the identity from
// "Authorization: Bearer <token>". Requests without a usable token fall back
// to the proxy headers but never gain the operator role from them.
func NewJWTExtractor(cfg JWTConfig) (Extractor, error) {
	if cfg.PrincipalClaim == "" {
		cfg.PrincipalClaim = "sub"
	}
	if cfg.RoleClaim == "" {
		cfg.RoleClaim = "role"
	}
	if cfg.OperatorRoleValue == "" {
		cfg.OperatorRoleValue = string(RoleOperator)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var publicKey *rsa.PublicKey
	if cfg.PublicKeyPath != "" {
		key, err := loadPublicKey(cfg.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		publicKey = key
		cfg.Logger.Info("JWT identity: using RS256 verification", "keyPath", cfg.PublicKeyPath)
	} else {
		cfg.Logger.Warn("JWT identity: no public key configured, tokens parsed without verification (trusted proxy mode)")
	}

	return func(r *http.Request) Identity {
		token := bearerToken(r)
		if token == "" {
			id := HeaderExtractor(r)
			id.Role = RoleViewer
			return id
		}
		claims, err := parseClaims(token, publicKey, cfg)
		if err != nil {
			cfg.Logger.Debug("JWT parse failed, treating caller as anonymous viewer", "error", err)
			return Identity{Principal: anonymous, Role: RoleViewer}
		}
		id := Identity{Principal: anonymous, Role: roleFromClaims(claims, cfg.RoleClaim, cfg.OperatorRoleValue)}
		if p, ok := claimAt(claims, cfg.PrincipalClaim).(string); ok && p != "" {
			id.Principal = p
		}
		return id
	}, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read JWT public key from %s: %w", path, err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("decode PEM block from %s", path)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA (got %T)", parsed)
	}
	return rsaKey, nil
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseClaims(tokenString string, publicKey *rsa.PublicKey, cfg JWTConfig) (jwt.MapClaims, error) {
	var opts []jwt.ParserOption
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	var (
		token *jwt.Token
		err   error
	)
	if publicKey != nil {
		token, err = jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return publicKey, nil
		}, opts...)
	} else {
		token, _, err = jwt.NewParser(opts...).ParseUnverified(tokenString, jwt.MapClaims{})
	}
	if err != nil {
		return nil, fmt.Errorf("JWT parse error: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	return claims, nil
}

func claimAt(claims jwt.MapClaims, path string) any {
	var current any = map[string]any(claims)
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		if current, ok = m[part]; !ok {
			return nil
		}
	}
	return current
}

// roleFromClaims accepts a string claim or an array of strings.
func roleFromClaims(claims jwt.MapClaims, path, operatorValue string) Role {
	switch v := claimAt(claims, path).(type) {
	case string:
		if strings.EqualFold(v, operatorValue) {
			return RoleOperator
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.EqualFold(s, operatorValue) {
				return RoleOperator
			}
		}
	}
	return RoleViewer
}
