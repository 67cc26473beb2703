// Package testutil drives a record twin from tests: an OData-speaking HTTP
// client, bearer tokens for a chosen caller, and admin API helpers.
package testutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenKey signs test tokens. The twin decodes claims without verifying
// the signature, so any key is accepted.
var tokenKey = []byte("recordtwin-testutil")

// BearerToken returns an HS256 token naming userID in both the oid and sub
// claims, valid for an hour.
func BearerToken(t *testing.T, userID string) string {
	t.Helper()
	issued := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, struct {
		OID string `json:"oid"`
		jwt.RegisteredClaims
	}{userID, claims})
	signed, err := token.SignedString(tokenKey)
	if err != nil {
		t.Fatalf("signing token for %s: %v", userID, err)
	}
	return signed
}
