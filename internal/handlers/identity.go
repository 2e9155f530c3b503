package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/orders"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	RoleAdmin = "ADMIN"

	identityKey = "identity"
)

// Identity is the caller as established by the upstream authenticator.
type Identity struct {
	UserID int64
	Admin  bool
}

// Scope limits order queries to the caller unless they are an admin.
func (i Identity) Scope() orders.Scope {
	if i.Admin {
		return orders.AllBuyers
	}
	return orders.Buyer(i.UserID)
}

// RequireIdentity rejects requests that carry no usable caller identity.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(strings.TrimSpace(c.GetHeader(HeaderUserID)), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + HeaderUserID})
			return
		}
		c.Set(identityKey, Identity{
			UserID: id,
			Admin:  strings.EqualFold(c.GetHeader(HeaderUserRole), RoleAdmin),
		})
		c.Next()
	}
}

// RequireAdmin must run after RequireIdentity.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identityFrom(c).Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(Identity)
	return id
}
