package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/wondertwin-ai/recordtwin/internal/record"
	"github.com/wondertwin-ai/recordtwin/pkg/twincore"
)

// tokenSigningKey signs tokens minted by MintToken. The twin never verifies
// signatures; any bearer token is accepted.
var tokenSigningKey = []byte("recordtwin-sim-signing-key")

// Fixed identifiers reported by WhoAmI.
var (
	BusinessUnitID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("recordtwin:businessunit")).String()
	OrganizationID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("recordtwin:organization")).String()
)

type callerKey struct{}

// MintToken returns a signed bearer token whose oid claim is userID. Any
// string works as userID; non-GUID values are mapped to a stable GUID.
func MintToken(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": "https://sts.twin.recordtwin.dev/",
		"aud": "https://org.twin.recordtwin.dev",
		"oid": userID,
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tokenSigningKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// CallerID returns the user id a bearer token identifies: the oid claim, or
// sub, of a JWT. Opaque tokens identify a caller derived from the token text.
func CallerID(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		for _, name := range []string{"oid", "sub"} {
			if s, ok := claims[name].(string); ok && s != "" {
				return userGUID(s)
			}
		}
	}
	return userGUID(token)
}

func userGUID(s string) string {
	if id, err := record.ParseID(s); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("recordtwin:user:"+s)).String()
}

// bearerAuthMiddleware requires an "Authorization: Bearer" header and puts
// the caller id on the request context. In sim mode tokens are never verified.
func (h *Handler) bearerAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer authorization_uri="https://login.twin.recordtwin.dev/oauth2/authorize"`)
			twincore.Error(w, http.StatusUnauthorized, record.CodeUnauthorized, "Bearer token is required")
			return
		}
		ctx := context.WithValue(r.Context(), callerKey{}, CallerID(token))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// WhoAmI handles GET /WhoAmI.
func (h *Handler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	twincore.JSON(w, http.StatusOK, map[string]any{
		"@odata.context": serviceRoot(r) + "/$metadata#Microsoft.Dynamics.CRM.WhoAmIResponse",
		"BusinessUnitId": BusinessUnitID,
		"UserId":         callerFrom(r.Context()),
		"OrganizationId": OrganizationID,
	})
}
