package jwt

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/parleyhq/parley/pkg/errcode"
)

// Claims represents the identity claims the auth collaborator issues.
// The core only consumes tokens; it never signs them.
type Claims struct {
	UserId   string `json:"user_id"`
	DeviceId string `json:"device_id"`
	jwt.RegisteredClaims
}

// ParseToken parses and validates a JWT token
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errcode.ErrTokenExpired.Wrap(err)
		}
		return nil, errcode.ErrTokenInvalid.Wrap(err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errcode.ErrTokenInvalid
}

// ValidateToken validates token and checks that the claimed identity
// matches the one the connection announced
func ValidateToken(tokenString, secret, expectedUserId string) (*Claims, error) {
	claims, err := ParseToken(tokenString, secret)
	if err != nil {
		return nil, err
	}

	if claims.UserId != expectedUserId {
		return nil, errcode.ErrTokenMismatch
	}

	return claims, nil
}
