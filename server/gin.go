package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/erpcore/access/permission"
)

// NewGinEngine builds the Gin router with every route of the service.
func NewGinEngine(s *Server) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.Logger))

	r.GET("/healthz", s.HandleHealthGin)
	r.GET("/metrics", s.Metrics.Handler())

	g := s.Gate
	api := r.Group("/api/v1")

	// Public
	api.POST("/auth/register", s.HandleRegisterGin)
	api.POST("/auth/login", s.HandleLoginGin)
	api.POST("/auth/refresh", s.HandleRefreshGin)
	api.GET("/auth/status", g.OptionalAuthenticate(), s.HandleStatusGin)

	// Authenticated
	authed := api.Group("")
	authed.Use(g.Authenticate())
	authed.POST("/auth/logout", s.HandleLogoutGin)
	authed.POST("/auth/logout-all", s.HandleLogoutAllGin)
	authed.GET("/auth/me", s.HandleMeGin)
	authed.POST("/auth/change-password", s.HandleChangePasswordGin)
	authed.GET("/auth/sessions", s.HandleListSessionsGin)

	admin := func(action, resource string) gin.HandlerFunc {
		return g.Authorize(permission.ModuleAdmin, action, AuthorizeOptions{Resource: resource})
	}
	// roles and permissions are shared by every branch
	globalAdmin := func(action, resource string) gin.HandlerFunc {
		return g.Authorize(permission.ModuleAdmin, action, AuthorizeOptions{Resource: resource, Global: true})
	}

	// Roles
	authed.GET("/rbac/roles", globalAdmin(permission.READ, "ROLE"), s.HandleListRolesGin)
	authed.POST("/rbac/roles", globalAdmin(permission.CREATE, "ROLE"), s.HandleCreateRoleGin)
	authed.GET("/rbac/roles/:id", globalAdmin(permission.READ, "ROLE"), s.HandleGetRoleGin)
	authed.PUT("/rbac/roles/:id", globalAdmin(permission.UPDATE, "ROLE"), s.HandleUpdateRoleGin)
	authed.DELETE("/rbac/roles/:id", globalAdmin(permission.DELETE, "ROLE"), s.HandleDeleteRoleGin)
	authed.PUT("/rbac/roles/:id/permissions", globalAdmin(permission.UPDATE, "ROLE"), s.HandleSetRolePermissionsGin)
	authed.POST("/rbac/seed", globalAdmin(permission.MANAGE, "ROLE"), s.HandleSeedRolesGin)

	// Permissions
	authed.GET("/rbac/permissions", globalAdmin(permission.READ, "PERMISSION"), s.HandleListPermissionsGin)
	authed.POST("/rbac/permissions", globalAdmin(permission.CREATE, "PERMISSION"), s.HandleCreatePermissionGin)
	authed.POST("/rbac/check", globalAdmin(permission.READ, "PERMISSION"), s.HandleCheckPermissionGin)

	// Assignments and introspection. Assign and revoke re-check against the
	// branch of the edge they change.
	authed.POST("/rbac/users/:userId/roles", admin(permission.UPDATE, "USER"), s.HandleAssignRoleGin)
	authed.DELETE("/rbac/users/:userId/roles/:roleId", admin(permission.UPDATE, "USER"), s.HandleRevokeRoleGin)
	authed.GET("/rbac/users/:userId/permissions", admin(permission.READ, "USER"), s.HandleUserPermissionsGin)
	authed.GET("/rbac/users/:userId/branches", admin(permission.READ, "USER"), s.HandleUserBranchesGin)

	// Branches
	authed.GET("/branches", admin(permission.READ, "BRANCH"), s.HandleListBranchesGin)
	authed.PUT("/branches/:branchId/active", admin(permission.UPDATE, "BRANCH"), s.HandleSetBranchActiveGin)

	return r
}

// HandleHealthGin pings the database.
func (s *Server) HandleHealthGin(c *gin.Context) {
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		s.Logger.WithError(err).Warn("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
