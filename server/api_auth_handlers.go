package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/erpcore/access/dto"
	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/manage"
	"github.com/erpcore/access/models"
)

// HandleRegisterGin creates an account with no roles.
func (s *Server) HandleRegisterGin(c *gin.Context) {
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, s.Logger, "email, username and password are required")
		return
	}
	u, err := s.Manager.Register(c.Request.Context(), manage.Registration{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusCreated, dto.FromUser(u))
}

// HandleLoginGin checks credentials and opens a session.
func (s *Server) HandleLoginGin(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Login() == "" {
		abortInvalid(c, s.Logger, "identifier and password are required")
		return
	}
	meta := models.SessionMeta{UserAgent: c.Request.UserAgent(), IPAddress: c.ClientIP()}
	res, err := s.Manager.Login(c.Request.Context(), req.Login(), req.Password, meta)
	if err != nil {
		if errors.Is(err, errors.ErrInvalidCredentials) {
			s.Metrics.Logins.WithLabelValues("rejected").Inc()
		} else {
			s.Metrics.Logins.WithLabelValues("error").Inc()
		}
		abortWithError(c, s.Logger, err)
		return
	}
	s.Metrics.Logins.WithLabelValues("ok").Inc()
	c.Header("Cache-Control", "no-store")
	respond(c, http.StatusOK, dto.FromTokens(res.Tokens, res.Session.ID, res.User, res.Roles, time.Now()))
}

// HandleRefreshGin exchanges a refresh token for a new token pair.
func (s *Server) HandleRefreshGin(c *gin.Context) {
	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, s.Logger, "refresh_token is required")
		return
	}
	res, err := s.Manager.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	respond(c, http.StatusOK, dto.FromTokens(res.Tokens, res.Session.ID, res.User, res.Roles, time.Now()))
}

func (s *Server) HandleLogoutGin(c *gin.Context) {
	id := identityFrom(c)
	if err := s.Manager.Logout(c.Request.Context(), id.SessionID); err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respondMessage(c, "logged out")
}

func (s *Server) HandleLogoutAllGin(c *gin.Context) {
	id := identityFrom(c)
	n, err := s.Manager.LogoutAll(c.Request.Context(), id.UserID)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"revoked": n})
}

// HandleMeGin returns the caller's profile and current roles.
func (s *Server) HandleMeGin(c *gin.Context) {
	id := identityFrom(c)
	u, err := s.Users.GetByID(c.Request.Context(), id.UserID)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	roles := id.Roles
	if roles == nil {
		roles = []string{}
	}
	respond(c, http.StatusOK, dto.MeResponse{User: dto.FromUser(u), Roles: roles, SessionID: id.SessionID})
}

// HandleChangePasswordGin replaces the caller's password and ends their other sessions.
func (s *Server) HandleChangePasswordGin(c *gin.Context) {
	var req dto.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, s.Logger, "current_password and new_password are required")
		return
	}
	id := identityFrom(c)
	n, err := s.Manager.ChangePassword(c.Request.Context(), id.UserID, id.SessionID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"revoked_sessions": n})
}

func (s *Server) HandleListSessionsGin(c *gin.Context) {
	id := identityFrom(c)
	sessions, err := s.Manager.ListSessions(c.Request.Context(), id.UserID)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	respond(c, http.StatusOK, dto.FromSessions(sessions, id.SessionID))
}

// HandleStatusGin reports whether the request carries a valid session.
func (s *Server) HandleStatusGin(c *gin.Context) {
	id := identityFrom(c)
	if id == nil {
		respond(c, http.StatusOK, dto.StatusResponse{Authenticated: false})
		return
	}
	u, err := s.Users.GetByID(c.Request.Context(), id.UserID)
	if err != nil {
		abortWithError(c, s.Logger, err)
		return
	}
	ur := dto.FromUser(u)
	respond(c, http.StatusOK, dto.StatusResponse{Authenticated: true, User: &ur, Roles: id.Roles})
}
