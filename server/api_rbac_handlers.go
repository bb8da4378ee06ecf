package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/erpcore/access/dto"
	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/models"
	"github.com/erpcore/access/permission"
	"github.com/erpcore/access/seed"
	"github.com/erpcore/access/store"
)

// HandleListRolesGin lists roles; ?include_inactive=true adds deactivated ones.
func (s *Server) HandleListRolesGin(c *gin.Context) {
	includeInactive, _ := strconv.ParseBool(c.Query("include_inactive"))
	roles, err := s.Perms.ListRoles(c.Request.Context(), includeInactive)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.FromRoles(roles))
}

func (s *Server) HandleCreateRoleGin(c *gin.Context) {
	var req dto.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, s.Logger, "name is required")
		return
	}
	role, err := s.Perms.CreateRole(c.Request.Context(), req.Name, req.Description, req.Permissions)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusCreated, dto.FromRole(role))
}

func (s *Server) HandleGetRoleGin(c *gin.Context) {
	role, err := s.Perms.GetRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.FromRole(role))
}

func (s *Server) HandleUpdateRoleGin(c *gin.Context) {
	var req dto.UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, s.Logger, "invalid JSON body")
		return
	}
	role, err := s.Perms.UpdateRole(c.Request.Context(), c.Param("id"), store.RoleUpdate{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.FromRole(role))
}

// HandleDeleteRoleGin deactivates a role. Roles still assigned are refused with ROLE_IN_USE.
func (s *Server) HandleDeleteRoleGin(c *gin.Context) {
	if err := s.Perms.DeleteRole(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respondMessage(c, "role deactivated")
}

func (s *Server) HandleSetRolePermissionsGin(c *gin.Context) {
	var req dto.SetRolePermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, s.Logger, "permissions must be a list of MODULE:ACTION[:RESOURCE]")
		return
	}
	role, err := s.Perms.SetRolePermissions(c.Request.Context(), c.Param("id"), req.Permissions)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.FromRole(role))
}

func (s *Server) HandleListPermissionsGin(c *gin.Context) {
	perms, err := s.Perms.ListPermissions(c.Request.Context(), c.Query("module"))
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.FromPermissions(perms))
}

func (s *Server) HandleCreatePermissionGin(c *gin.Context) {
	var req dto.CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, s.Logger, "invalid JSON body")
		return
	}
	t, err := permission.ParseTriple(req.Triple())
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	p, err := s.Perms.UpsertPermission(c.Request.Context(), t, req.Description)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusCreated, dto.FromPermission(*p))
}

// authorizeAssignment checks the caller may change role edges in branchID, or
// everywhere when branchID is empty. Only a super-admin grants or revokes SUPER_ADMIN.
func (s *Server) authorizeAssignment(c *gin.Context, roleName, branchID string) bool {
	id := identityFrom(c)
	if id.IsSuperAdmin() {
		return true
	}
	ok := false
	if store.NormalizeRoleName(roleName) != models.SuperAdminRole {
		var err error
		ctx := c.Request.Context()
		if branchID == "" {
			ok, err = s.Perms.HasGlobalPermission(ctx, id.UserID, permission.ModuleAdmin, permission.UPDATE, "USER")
		} else {
			ok, err = s.Perms.HasPermission(ctx, id.UserID, permission.ModuleAdmin, permission.UPDATE, "USER", branchID)
		}
		if err != nil {
			abortWithError(c, s.Logger, err)
			return false
		}
	}
	if !ok {
		s.Logger.WithFields(logrus.Fields{
			"user_id": id.UserID,
			"role":    roleName,
			"branch":  branchID,
		}).Info("role assignment outside caller scope")
		abortWithError(c, s.Logger, errors.ErrForbidden)
	}
	return ok
}

// HandleAssignRoleGin assigns a role by id or name, globally or within branch_id.
func (s *Server) HandleAssignRoleGin(c *gin.Context) {
	var req dto.AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.RoleID == "" && req.RoleName == "") {
		abortInvalid(c, s.Logger, "role_id or role_name is required")
		return
	}
	ctx := c.Request.Context()
	userID := c.Param("userId")
	by := identityFrom(c).UserID

	roleName := req.RoleName
	if req.RoleID != "" {
		role, err := s.Perms.GetRole(ctx, req.RoleID)
		if err != nil {
			abortWithError(c, s.Logger, err)
			return
		}
		roleName = role.Name
	}
	if !s.authorizeAssignment(c, roleName, req.BranchID) {
		return
	}

	var (
		assigned *models.UserRole
		err      error
	)
	if req.RoleID != "" {
		assigned, err = s.Perms.AssignRole(ctx, userID, req.RoleID, req.BranchID, by)
	} else {
		assigned, err = s.Perms.AssignRoleByName(ctx, userID, req.RoleName, req.BranchID, by)
	}
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusCreated, assigned)
}

// HandleRevokeRoleGin deactivates an assignment. Without ?branchId every
// assignment of the role to the user is revoked, which needs global rights.
func (s *Server) HandleRevokeRoleGin(c *gin.Context) {
	ctx := c.Request.Context()
	var branchID *string
	scope := ""
	if v, ok := c.GetQuery(branchParam); ok {
		branchID = &v
		scope = v
	}
	role, err := s.Perms.GetRole(ctx, c.Param("roleId"))
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	if !s.authorizeAssignment(c, role.Name, scope) {
		return
	}
	if err := s.Perms.RevokeRole(ctx, c.Param("userId"), c.Param("roleId"), branchID); err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respondMessage(c, "role revoked")
}

func (s *Server) HandleUserPermissionsGin(c *gin.Context) {
	userID := c.Param("userId")
	ctx := c.Request.Context()
	if _, err := s.Users.GetByID(ctx, userID); err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	up, err := s.Perms.GetUserPermissions(ctx, userID, c.Query(branchParam))
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.FromUserPermissions(userID, up))
}

func (s *Server) HandleUserBranchesGin(c *gin.Context) {
	userID := c.Param("userId")
	ctx := c.Request.Context()
	if _, err := s.Users.GetByID(ctx, userID); err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	ids, err := s.Resolver.AccessibleBranches(ctx, userID)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.UserBranchesResponse{UserID: userID, Branches: ids})
}

// HandleCheckPermissionGin evaluates a permission for any user without the super-admin bypass.
func (s *Server) HandleCheckPermissionGin(c *gin.Context) {
	var req dto.CheckPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, s.Logger, "user_id, module and action are required")
		return
	}
	ok, err := s.Perms.HasPermission(c.Request.Context(), req.UserID, req.Module, req.Action, req.Resource, req.BranchID)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.CheckPermissionResponse{Allowed: ok})
}

// HandleSeedRolesGin upserts the predefined roles.
func (s *Server) HandleSeedRolesGin(c *gin.Context) {
	roles, err := seed.Roles(c.Request.Context(), s.Perms)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.FromRoles(roles))
}
