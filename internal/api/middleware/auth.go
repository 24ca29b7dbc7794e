package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/naturemedica/fulfillment-api/internal/domain"
	"github.com/naturemedica/fulfillment-api/internal/repository"
)

const staffContextKey = "staff"

// AuthMiddleware authenticates staff API keys. Keys are stored bcrypt hashed,
// so the presented key is verified against each active staff hash.
func AuthMiddleware(repos *repository.Repositories, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		apiKey := strings.TrimPrefix(header, "Bearer ")

		staff, err := repos.Staff.ListActive(c.Request.Context())
		if err != nil {
			logger.Error("Failed to load staff accounts", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		for _, s := range staff {
			if bcrypt.CompareHashAndPassword([]byte(s.APIKeyHash), []byte(apiKey)) == nil {
				c.Set(staffContextKey, s)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
	}
}

// GetStaffFromContext returns the authenticated staff member
func GetStaffFromContext(c *gin.Context) (*domain.Staff, bool) {
	val, ok := c.Get(staffContextKey)
	if !ok {
		return nil, false
	}
	staff, ok := val.(*domain.Staff)
	return staff, ok
}
