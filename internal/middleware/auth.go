package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"storyboard/internal/domain"
)

// TokenClaims is the payload of the HS256 bearer tokens issued to principals.
type TokenClaims struct {
	Sub      string `json:"sub"`
	Tenant   string `json:"tenant"`
	Role     string `json:"role"`
	Exp      int64  `json:"exp"`
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
}

type accessKey string

const accessContextKey accessKey = "access_context"

func SignJWT(secret string, claims TokenClaims) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	headerJSON, _ := json.Marshal(header)
	payloadJSON, _ := json.Marshal(claims)
	headerEnc := base64.RawURLEncoding.EncodeToString(headerJSON)
	payloadEnc := base64.RawURLEncoding.EncodeToString(payloadJSON)
	data := headerEnc + "." + payloadEnc
	sig := hmacSign(secret, data)
	return data + "." + sig, nil
}

func hmacSign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func VerifyJWT(secret, token string) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid token")
	}
	expected := hmacSign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, errors.New("invalid signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, err
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, err
	}
	if claims.Exp != 0 && time.Now().Unix() > claims.Exp {
		return nil, errors.New("token expired")
	}
	return &claims, nil
}

// Auth resolves the caller's access context from the bearer token once per
// request. Identity never flows through request bodies.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing authorization", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid authorization", http.StatusUnauthorized)
				return
			}
			claims, err := VerifyJWT(secret, parts[1])
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			role := domain.PrincipalRole(claims.Role)
			if role == "" {
				role = domain.RoleMember
			}
			ac := domain.AccessContext{
				PrincipalID: claims.Sub,
				Role:        role,
				TenantID:    claims.Tenant,
				ClientIP:    ClientIP(r),
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAccess(r.Context(), ac)))
		})
	}
}

// AccessFromContext returns the access context resolved by Auth, or false when
// the request was not authenticated.
func AccessFromContext(ctx context.Context) (domain.AccessContext, bool) {
	ac, ok := ctx.Value(accessContextKey).(domain.AccessContext)
	return ac, ok
}

func ContextWithAccess(ctx context.Context, ac domain.AccessContext) context.Context {
	return context.WithValue(ctx, accessContextKey, ac)
}
