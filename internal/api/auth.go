package api

import (
	"errors"
	"strings"
)

// minAPIKeyLength is the shortest key the proxy accepts. The proxy
// fronts trusted infrastructure; the check only rejects obviously
// malformed credentials, it does not validate them against anything.
const minAPIKeyLength = 10

var (
	errMissingAuth  = errors.New("Missing Authorization header")
	errMalformedKey = errors.New("Invalid API key format")
)

// validateAPIKey extracts the API key from an Authorization header
// value. An optional "Bearer " prefix is stripped; the remainder must
// be at least minAPIKeyLength characters.
func validateAPIKey(authorization string) (string, error) {
	if authorization == "" {
		return "", errMissingAuth
	}
	key := strings.TrimPrefix(authorization, "Bearer ")
	if len(key) < minAPIKeyLength {
		return "", errMalformedKey
	}
	return key, nil
}
