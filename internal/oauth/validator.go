// Package oauth implements the OAuth 2.1 bearer-token validator: JWKS-cached
// RSA JWT verification with audience/scope/claim checks, plus RFC 7662
// introspection as an alternative mode selected by oauth.token_validation. It never trusts an unverified signature — spec
// §9 calls out the source's signature-bypass bug as a hard security bug
// that must not be carried forward.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Kong/mcp-bridge/internal/access"
	"github.com/Kong/mcp-bridge/internal/config"
)

// FailureReason is a machine-readable reason for an AuthFailed error
// (spec §4.5 "Failure modes"); never includes the raw token.
type FailureReason string

const (
	ReasonMissingToken      FailureReason = "missing_token"
	ReasonMalformedToken    FailureReason = "malformed_token"
	ReasonUnsupportedAlg    FailureReason = "unsupported_alg"
	ReasonUnknownKID        FailureReason = "unknown_kid"
	ReasonSignatureInvalid  FailureReason = "signature_invalid"
	ReasonExpired           FailureReason = "expired"
	ReasonNotYetValid       FailureReason = "not_yet_valid"
	ReasonAudienceMismatch  FailureReason = "audience_mismatch"
	ReasonMissingScope      FailureReason = "missing_scope"
	ReasonJWKSUnreachable   FailureReason = "jwks_unreachable"
	ReasonIntrospectionFail FailureReason = "introspection_failed"
	ReasonInactiveToken     FailureReason = "inactive_token"
)

// AuthFailed is the single error type surfaced for every bearer-token
// validation failure (spec §7).
type AuthFailed struct {
	Reason FailureReason
	Detail string
}

func (e *AuthFailed) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("authentication failed: %s", e.Detail)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func failed(reason FailureReason, detail string) *AuthFailed {
	return &AuthFailed{Reason: reason, Detail: detail}
}

// Validator validates bearer tokens per spec §4.5.
type Validator struct {
	jwks          *JWKSCache
	httpClient    *http.Client
	introspection *IntrospectionCache
}

// NewValidator creates a Validator with the given JWKS TTL (DefaultJWKSTTL
// if zero).
func NewValidator(jwksTTL time.Duration) *Validator {
	return &Validator{
		jwks:          NewJWKSCache(jwksTTL),
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		introspection: NewIntrospectionCache(),
	}
}

// JWKSCache exposes the underlying cache so callers can wire OnResult to
// metrics without the Validator depending on internal/metrics directly.
func (v *Validator) JWKSCache() *JWKSCache { return v.jwks }

// Validate implements spec §4.5. An empty token and cfg.Enabled == false
// both short-circuit before any network access.
func (v *Validator) Validate(ctx context.Context, token string, cfg config.OAuthConfig) (access.ClaimSet, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if token == "" {
		return nil, failed(ReasonMissingToken, "Missing authorization token")
	}

	switch cfg.TokenValidation {
	case config.TokenValidationIntrospection:
		return v.validateIntrospection(ctx, token, cfg)
	default:
		return v.validateJWT(ctx, token, cfg)
	}
}

func (v *Validator) validateJWT(ctx context.Context, tokenStr string, cfg config.OAuthConfig) (access.ClaimSet, error) {
	var resolveErr error
	var unknownKIDErr error
	claims := jwt.MapClaims{}

	_, err := jwt.ParseWithClaims(tokenStr, claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unsupported signing method: %v", tok.Header["alg"])
		}
		kid, _ := tok.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token header has no kid")
		}

		iss, _ := claims["iss"].(string)
		jwksURL, err := v.resolveJWKSURL(ctx, iss, cfg)
		if err != nil {
			resolveErr = err
			return nil, err
		}

		key, err := v.jwks.Key(ctx, jwksURL, kid)
		if err != nil {
			if errors.Is(err, ErrUnknownKID) {
				unknownKIDErr = err
			} else {
				resolveErr = err
			}
			return nil, err
		}
		return key, nil
	})

	if err != nil {
		return nil, classifyJWTError(err, resolveErr, unknownKIDErr)
	}

	claimSet := access.ClaimSet(claims)

	if err := checkAudience(claimSet, cfg.Audience); err != nil {
		return nil, err
	}
	if err := checkScopes(claimSet, cfg.RequiredScopes); err != nil {
		return nil, err
	}

	return claimSet, nil
}

// resolveJWKSURL tries every configured authorization server in turn,
// preferring one whose issuer matches the token's iss claim when known.
func (v *Validator) resolveJWKSURL(ctx context.Context, iss string, cfg config.OAuthConfig) (string, error) {
	servers := cfg.AuthorizationServers
	if len(servers) == 0 {
		return "", fmt.Errorf("no authorization servers configured")
	}

	candidates := servers
	if iss != "" {
		for _, s := range servers {
			if strings.TrimRight(s, "/") == strings.TrimRight(iss, "/") {
				candidates = []string{s}
				break
			}
		}
	}

	var lastErr error
	for _, s := range candidates {
		url, err := ResolveJWKSURL(ctx, v.httpClient, s)
		if err == nil {
			return url, nil
		}
		lastErr = err
	}
	return "", lastErr
}

// classifyJWTError maps a jwt.ParseWithClaims failure to a FailureReason.
// unknownKIDErr and resolveErr are set by the keyfunc above and take
// priority over string-sniffing the parse error itself, since the parse
// error just wraps whatever the keyfunc returned: a JWKS that answered but
// didn't have the requested kid (unknownKIDErr) must not be reported as
// jwks_unreachable, and vice versa.
func classifyJWTError(err, resolveErr, unknownKIDErr error) *AuthFailed {
	if unknownKIDErr != nil {
		return failed(ReasonUnknownKID, unknownKIDErr.Error())
	}
	if resolveErr != nil {
		return failed(ReasonJWKSUnreachable, resolveErr.Error())
	}
	switch {
	case strings.Contains(err.Error(), "unsupported signing method"):
		return failed(ReasonUnsupportedAlg, err.Error())
	case isExpiredErr(err):
		return failed(ReasonExpired, "token is expired")
	case isNotYetValidErr(err):
		return failed(ReasonNotYetValid, "token is not yet valid")
	case isSignatureErr(err):
		return failed(ReasonSignatureInvalid, "signature verification failed")
	default:
		return failed(ReasonMalformedToken, err.Error())
	}
}

func isExpiredErr(err error) bool {
	return strings.Contains(err.Error(), "token is expired")
}

func isNotYetValidErr(err error) bool {
	return strings.Contains(err.Error(), "token is not valid yet") ||
		strings.Contains(err.Error(), "used before issued")
}

func isSignatureErr(err error) bool {
	return strings.Contains(err.Error(), "signature is invalid") ||
		strings.Contains(err.Error(), "crypto/rsa: verification error")
}

// checkAudience implements spec §4.5 step 7.
func checkAudience(claims access.ClaimSet, required string) error {
	if required == "" {
		return nil
	}
	raw, ok := claims["aud"]
	if !ok {
		return failed(ReasonAudienceMismatch, "token has no aud claim")
	}
	switch v := raw.(type) {
	case string:
		if v == required {
			return nil
		}
	case []any:
		for _, a := range v {
			if s, ok := a.(string); ok && s == required {
				return nil
			}
		}
	}
	return failed(ReasonAudienceMismatch, fmt.Sprintf("required audience %q not present", required))
}

// checkScopes implements spec §4.5 step 8.
func checkScopes(claims access.ClaimSet, required []string) error {
	if len(required) == 0 {
		return nil
	}
	scopeStr, _ := claims["scope"].(string)
	have := make(map[string]struct{})
	for _, s := range strings.Fields(scopeStr) {
		have[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return failed(ReasonMissingScope, fmt.Sprintf("required scope %q not granted", r))
		}
	}
	return nil
}
