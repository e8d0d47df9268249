package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mossy-p/webrtc-mesh/internal/middleware"
	"github.com/mossy-p/webrtc-mesh/internal/models"
)

const tokenLifetime = 24 * time.Hour

// Login issues the token guarding room creation and deletion. Any
// credential pair is accepted and the username becomes the token's user
// id; joining and signaling never need a token.
// TODO: validate against a user backend once one exists.
func Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.LoginResult{Error: "Invalid request body"})
			return
		}

		now := time.Now()
		claims := middleware.JWTClaims{
			UserID: req.Username,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.LoginResult{Error: "Failed to generate token"})
			return
		}

		c.JSON(http.StatusOK, models.LoginResult{Success: true, Token: token, UserID: req.Username})
	}
}
