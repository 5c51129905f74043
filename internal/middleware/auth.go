package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/draftdeck/draftdeck/internal/config"
	"github.com/draftdeck/draftdeck/internal/modules/model"
	"github.com/draftdeck/draftdeck/internal/modules/serializer"
)

// CompanyAuth returns a middleware that authenticates requests with company
// API keys. The key travels as a bearer token carrying the configured prefix;
// the matching company row lands in the gin context under "company".
// It also sets the company_id attribute on the current span for telemetry filtering.
func CompanyAuth(cfg *config.Config, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, serializer.AuthErr("Unauthorized"))
			return
		}
		raw := strings.TrimPrefix(auth, "Bearer ")
		if cfg.Root.CompanyBearerTokenPrefix != "" && !strings.HasPrefix(raw, cfg.Root.CompanyBearerTokenPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, serializer.AuthErr("Unauthorized"))
			return
		}

		var company model.Company
		if err := db.WithContext(c.Request.Context()).Where(&model.Company{APIKey: raw}).First(&company).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, serializer.AuthErr("Unauthorized"))
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, serializer.DBErr("", err))
			return
		}

		// Set company_id attribute on the current span for telemetry filtering
		span := trace.SpanFromContext(c.Request.Context())
		if span.SpanContext().IsValid() {
			span.SetAttributes(attribute.String("company_id", company.ID.String()))
		}

		c.Set("company", &company)
		c.Next()
	}
}
