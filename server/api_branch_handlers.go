package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/erpcore/access/dto"
)

// HandleListBranchesGin lists the branches the caller may see.
func (s *Server) HandleListBranchesGin(c *gin.Context) {
	ctx := c.Request.Context()
	f, err := s.Resolver.Filter(ctx, identityFrom(c).UserID, "branch")
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	branches, err := s.Branches.ListBranches(ctx, f.Scope())
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.FromBranches(branches))
}

// HandleSetBranchActiveGin activates or deactivates a branch. Deactivation
// removes it from every accessible set immediately.
func (s *Server) HandleSetBranchActiveGin(c *gin.Context) {
	var req dto.SetBranchActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, s.Logger, "is_active is required")
		return
	}
	id := c.Param(branchParam)
	if err := s.Branches.SetActive(c.Request.Context(), id, *req.IsActive); err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	s.Logger.WithField("branch_id", id).WithField("active", *req.IsActive).Info("branch updated")
	respond(c, http.StatusOK, gin.H{"id": id, "is_active": *req.IsActive})
}
