package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ecard/internal/middleware"
)

// mayActFor reports whether the caller may read or act on driverID's
// records. Drivers only see their own; every other role is already scoped by
// the route's RequireRole.
func mayActFor(c *gin.Context, driverID string) bool {
	role, _ := middleware.Role(c)
	if role != middleware.RoleDriver {
		return true
	}
	subject, _ := middleware.Subject(c)
	return subject != "" && subject == driverID
}

func respondForbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, ErrorResponse{Error: ErrorBody{Kind: "forbidden", Message: "drivers may only access their own records"}})
}
