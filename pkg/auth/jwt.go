package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dentalops/dentalflow/internal/config"
	"github.com/dentalops/dentalflow/internal/domain"
)

var (
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenInvalid = errors.New("token is invalid")
)

// Tokens are issued by the clinic identity service; this API only validates
// them and extracts the acting principal.
type dentalflowClaims struct {
	jwt.RegisteredClaims
	Role           string     `json:"role"`
	PatientID      *uuid.UUID `json:"patient_id,omitempty"`
	PractitionerID *uuid.UUID `json:"practitioner_id,omitempty"`
}

type Verifier struct {
	cfg config.JWTConfig
}

func NewVerifier(cfg config.JWTConfig) *Verifier {
	return &Verifier{cfg: cfg}
}

func (v *Verifier) ActorFromToken(tokenString string) (domain.Actor, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&dentalflowClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(v.cfg.Secret), nil
		},
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Actor{}, ErrTokenExpired
		}
		return domain.Actor{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*dentalflowClaims)
	if !ok || !token.Valid {
		return domain.Actor{}, ErrTokenInvalid
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.Actor{}, ErrTokenInvalid
	}

	role := domain.Role(claims.Role)
	if !role.IsValid() {
		return domain.Actor{}, ErrTokenInvalid
	}

	return domain.Actor{
		ID:             userID,
		Role:           role,
		PatientID:      claims.PatientID,
		PractitionerID: claims.PractitionerID,
	}, nil
}
