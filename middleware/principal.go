package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// PrincipalFromJWT returns a PrincipalFunc that derives the principal from
// the subject claim of a verified bearer token. Invalid or absent tokens
// yield an anonymous identity — authorization stays downstream; the gate
// only needs a stable accounting key.
func PrincipalFromJWT(keyfunc jwt.Keyfunc) PrincipalFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{
		"HS256", "HS384", "HS512", "RS256", "ES256", "EdDSA",
	}))

	return func(r *http.Request) string {
		raw, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			return ""
		}

		token, err := parser.Parse(raw, keyfunc)
		if err != nil || !token.Valid {
			return ""
		}

		subject, err := token.Claims.GetSubject()
		if err != nil {
			return ""
		}
		return subject
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
