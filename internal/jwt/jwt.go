package jwt

import (
	"errors"
	"net/http"
	"time"

	"talkroom/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const CookieName = "sender"

// SenderToken pins the identity a client posts as. Rooms never take the
// author id or moderator flag from a request body, only from this token.
type SenderToken struct {
	Sender models.Author `json:"sender"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret  []byte
	isHttps bool
}

func NewIssuer(key string, isHttps bool) (*Issuer, error) {
	if len(key) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	return &Issuer{secret: []byte(key), isHttps: isHttps}, nil
}

func (i *Issuer) CreateToken(sender models.Author, lifetime time.Duration) (http.Cookie, error) {
	currentTime := time.Now().UTC()
	expirationDate := currentTime.Add(lifetime)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, SenderToken{
		Sender: sender,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(expirationDate),
		},
	})

	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return http.Cookie{}, err
	}

	return http.Cookie{
		Name:     CookieName,
		Value:    tokenString,
		Path:     "/",
		Expires:  expirationDate,
		HttpOnly: true,
		Secure:   i.isHttps,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

func (i *Issuer) VerifyToken(tokenString string) (SenderToken, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SenderToken{}, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return SenderToken{}, err
	} else if claims, ok := token.Claims.(*SenderToken); ok {
		return *claims, nil
	} else {
		return SenderToken{}, errors.New("invalid token")
	}
}
