package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token has expired")
	ErrWrongTokenType = errors.New("wrong token type for this endpoint")
)

type TokenType string

const (
	TokenTypeSession TokenType = "session"
	TokenTypePayment TokenType = "payment"
	TokenTypeAdmin   TokenType = "admin"
)

// Claims are shared by every token the service issues.
type Claims struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email,omitempty"`
	CaseID    string    `json:"case_id,omitempty"`
	Type      TokenType `json:"type"`
	jwt.RegisteredClaims
}

type TokenManager interface {
	// GenerateSessionToken logs the applicant into the portal after intake.
	GenerateSessionToken(accountID, email string) (string, error)
	// GeneratePaymentToken authorizes follow-up payment pages for one case.
	GeneratePaymentToken(accountID, caseID string) (string, error)
	GenerateAdminToken(adminID, email string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type tokenManager struct {
	secret        []byte
	sessionExpiry time.Duration
	paymentExpiry time.Duration
	adminExpiry   time.Duration
	now           func() time.Time
}

func NewTokenManager(secret string, sessionExpiry, paymentExpiry time.Duration) TokenManager {
	return &tokenManager{
		secret:        []byte(secret),
		sessionExpiry: sessionExpiry,
		paymentExpiry: paymentExpiry,
		adminExpiry:   8 * time.Hour,
		now:           time.Now,
	}
}

func (m *tokenManager) GenerateSessionToken(accountID, email string) (string, error) {
	return m.sign(Claims{AccountID: accountID, Email: email, Type: TokenTypeSession}, m.sessionExpiry, "portal")
}

func (m *tokenManager) GeneratePaymentToken(accountID, caseID string) (string, error) {
	return m.sign(Claims{AccountID: accountID, CaseID: caseID, Type: TokenTypePayment}, m.paymentExpiry, "payment")
}

func (m *tokenManager) GenerateAdminToken(adminID, email string) (string, error) {
	return m.sign(Claims{AccountID: adminID, Email: email, Type: TokenTypeAdmin}, m.adminExpiry, "admin")
}

func (m *tokenManager) sign(claims Claims, ttl time.Duration, audience string) (string, error) {
	now := m.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.AccountID,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    "expedite-backend",
		Audience:  jwt.ClaimStrings{audience},
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *tokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.AccountID == "" {
			claims.AccountID = claims.Subject
		}
		return claims, nil
	}
	return nil, ErrInvalidToken
}
