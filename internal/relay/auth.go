package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const participantKey = "participant_id"

var ErrInvalidToken = errors.New("invalid token")

// Claims identify the participant a token was issued to.
type Claims struct {
	ParticipantID string `json:"participant_id"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token for id, valid for ttl.
func IssueToken(secret, id string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	if id == "" {
		return "", errors.New("participant id is empty")
	}
	now := time.Now()
	claims := Claims{
		ParticipantID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates token and returns the participant id it carries.
func ParseToken(secret, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ParticipantID == "" {
		return "", ErrInvalidToken
	}
	return claims.ParticipantID, nil
}

// Authenticate resolves the connecting participant. With a secret the bearer
// token decides the id and a conflicting ?id= is refused; without one the
// relay is open and trusts ?id=.
func Authenticate(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		queryID := c.Query("id")

		if secret == "" {
			if queryID == "" {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id is required"})
				return
			}
			c.Set(participantKey, queryID)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		id, err := ParseToken(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		if queryID != "" && queryID != id {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "id does not match token"})
			return
		}

		c.Set(participantKey, id)
		c.Next()
	}
}
