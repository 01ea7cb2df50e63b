package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"viberesume/internal/types"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Session is the verified content of an identity provider session token.
type Session struct {
	Subject   string
	SessionID string
	// PlanClaim is the raw "pla" claim, e.g. "u:viberesume_pro".
	PlanClaim string
	ExpiresAt time.Time
}

// SessionClaims are the claims carried by a Clerk session JWT.
type SessionClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty string `json:"azp,omitempty"`
	SessionID       string `json:"sid,omitempty"`
	Plan            string `json:"pla,omitempty"`
}

// SessionVerifierConfig configures key sourcing and claim checks.
type SessionVerifierConfig struct {
	// JWKSURL is used when PEMKey is empty.
	JWKSURL string
	// PEMKey is the instance's RSA public key, for networkless verification.
	PEMKey string
	// AuthorizedParties, when non-empty, restricts the azp claim.
	AuthorizedParties []string
	Leeway            time.Duration
}

// SessionVerifier validates RS256 session tokens.
type SessionVerifier struct {
	keyfunc           jwt.Keyfunc
	parser            *jwt.Parser
	authorizedParties map[string]bool
}

// NewSessionVerifier builds a verifier from a PEM key when one is configured,
// otherwise from the JWKS endpoint. The JWKS is fetched once here and
// refreshed in the background until ctx is cancelled.
func NewSessionVerifier(ctx context.Context, cfg SessionVerifierConfig, clock types.Clock) (*SessionVerifier, error) {
	switch {
	case cfg.PEMKey != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PEMKey))
		if err != nil {
			return nil, fmt.Errorf("parse session public key: %w", err)
		}
		return NewSessionVerifierWithKeyfunc(func(*jwt.Token) (any, error) { return key, nil }, cfg, clock), nil
	case cfg.JWKSURL != "":
		k, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JWKSURL})
		if err != nil {
			return nil, fmt.Errorf("load JWKS from %s: %w", cfg.JWKSURL, err)
		}
		return NewSessionVerifierWithKeyfunc(k.Keyfunc, cfg, clock), nil
	default:
		return nil, errors.New("session verifier needs a JWKS URL or a PEM key")
	}
}

// NewSessionVerifierWithKeyfunc builds a verifier around an explicit key
// lookup.
func NewSessionVerifierWithKeyfunc(kf jwt.Keyfunc, cfg SessionVerifierConfig, clock types.Clock) *SessionVerifier {
	if clock == nil {
		clock = types.RealClock{}
	}
	parties := make(map[string]bool, len(cfg.AuthorizedParties))
	for _, p := range cfg.AuthorizedParties {
		if p = strings.TrimSpace(p); p != "" {
			parties[p] = true
		}
	}
	return &SessionVerifier{
		keyfunc: kf,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithTimeFunc(clock.Now),
		),
		authorizedParties: parties,
	}
}

// Verify checks signature, expiry and authorized party, and returns the
// session. Errors are AppErrors with auth_token_* codes.
func (v *SessionVerifier) Verify(token string) (*Session, error) {
	if token == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenMissing, "session token is required", nil)
	}

	var claims SessionClaims
	_, err := v.parser.ParseWithClaims(token, &claims, v.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "session token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session token is invalid", err)
	}

	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "session token has no subject", nil)
	}
	if len(v.authorizedParties) > 0 && !v.authorizedParties[claims.AuthorizedParty] {
		return nil, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			fmt.Sprintf("session token issued for unauthorized party %q", claims.AuthorizedParty),
			nil,
		)
	}

	s := &Session{
		Subject:   claims.Subject,
		SessionID: claims.SessionID,
		PlanClaim: claims.Plan,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}
