package accounts

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionClaims are the JWT claims of a login session
type SessionClaims struct {
	jwt.RegisteredClaims
	Username string `json:"usr,omitempty"`
	Role     string `json:"role,omitempty"`
	Admin    bool   `json:"adm,omitempty"`
}

// AccountID parses the subject back into an account id
func (c *SessionClaims) AccountID() (int64, error) {
	if c == nil {
		return 0, ErrSessionInvalid
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, errorWith(ErrSessionInvalid, map[string]any{"subject": c.Subject})
	}
	return id, nil
}

// TokenService mints and validates session tokens
type TokenService interface {
	Generate(identity Identity) (string, error)
	Validate(token string) (*SessionClaims, error)
}

type tokenService struct {
	method     *jwt.SigningMethodHMAC
	signingKey []byte
	expiration time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        Clock
	logger     Logger
}

// DefaultSigningMethod is used when the configured method is empty
const DefaultSigningMethod = "HS256"

// SigningMethod resolves name to one of the HMAC methods (HS256, HS384,
// HS512). Empty names resolve to DefaultSigningMethod.
func SigningMethod(name string) (*jwt.SigningMethodHMAC, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		name = DefaultSigningMethod
	}
	method, ok := jwt.GetSigningMethod(name).(*jwt.SigningMethodHMAC)
	return method, ok
}

// NewTokenService creates a TokenService from cfg. Expiration is in hours.
// Unsupported signing methods fall back to HS256.
func NewTokenService(cfg Config, logger Logger) TokenService {
	logger = normalizeLogger(logger)

	hours := cfg.GetTokenExpiration()
	if hours <= 0 {
		hours = 24
	}

	method, ok := SigningMethod(cfg.GetSigningMethod())
	if !ok {
		logger.Warn("unsupported signing method, using default", "method", cfg.GetSigningMethod(), "default", DefaultSigningMethod)
		method = jwt.SigningMethodHS256
	}

	return &tokenService{
		method:     method,
		signingKey: []byte(cfg.GetSigningKey()),
		expiration: time.Duration(hours) * time.Hour,
		issuer:     cfg.GetIssuer(),
		audience:   cfg.GetAudience(),
		now:        Now,
		logger:     logger,
	}
}

func (ts *tokenService) Generate(identity Identity) (string, error) {
	now := ts.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   identity.GetID(),
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.expiration)),
		},
		Username: identity.GetUsername(),
		Role:     identity.GetRole(),
		Admin:    identity.IsAdmin(),
	}

	token := jwt.NewWithClaims(ts.method, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}
	return signed, nil
}

func (ts *tokenService) Validate(tokenString string) (*SessionClaims, error) {
	parserOptions := make([]jwt.ParserOption, 0, 3)
	parserOptions = append(parserOptions, jwt.WithValidMethods([]string{ts.method.Alg()}))
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)
	if err != nil {
		return nil, errorWith(ErrSessionInvalid, map[string]any{"reason": err.Error()})
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrSessionInvalid
	}
	return claims, nil
}
