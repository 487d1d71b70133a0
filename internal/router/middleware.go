package router

import (
	"crypto/subtle"
	"net/http"
	"time"

	"earshot/internal/config"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// NoCache disables client and proxy caching on experiment endpoints so a
// reloaded page always re-enters the workflow controller instead of
// replaying a stale step.
func NoCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "-1")
		c.Next()
	}
}

// AdminAuth protects the reporting endpoints with basic auth against the
// configured user and bcrypt password hash. Credentials are read through
// the manager on every request so a hot-reloaded rotation takes effect
// without a restart.
func AdminAuth(log *zap.Logger, cfg *config.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin := cfg.Current().Admin
		if admin.PasswordHash == "" {
			log.Error("Admin endpoints requested but no admin password hash is configured")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}

		user, password, ok := c.Request.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(admin.User)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)) != nil {
			c.Header("WWW-Authenticate", `Basic realm="earshot admin"`)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}
