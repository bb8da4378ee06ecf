package server

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/erpcore/access/errors"
	"github.com/erpcore/access/generates"
	"github.com/erpcore/access/manage"
)

const (
	ctxIdentity = "identity"

	branchHeader = "X-Branch-Id"
	branchParam  = "branchId"
)

// Authenticator turns a bearer token into an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*manage.Identity, error)
}

// PermissionChecker decides (module, action, resource) for a user, optionally
// within a branch, or from unscoped assignments only.
type PermissionChecker interface {
	HasPermission(ctx context.Context, userID, module, action, resource, branchID string) (bool, error)
	HasGlobalPermission(ctx context.Context, userID, module, action, resource string) (bool, error)
}

// BranchResolver lists the branches a user may access.
type BranchResolver interface {
	AccessibleBranches(ctx context.Context, userID string) ([]string, error)
}

// Gate is the authentication and authorization middleware.
type Gate struct {
	auth     Authenticator
	perms    PermissionChecker
	branches BranchResolver
	log      *logrus.Logger
	metrics  *Metrics
}

func NewGate(auth Authenticator, perms PermissionChecker, branches BranchResolver, log *logrus.Logger, metrics *Metrics) *Gate {
	if log == nil {
		log = logrus.New()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Gate{auth: auth, perms: perms, branches: branches, log: log, metrics: metrics}
}

// AuthorizeOptions tunes one Authorize check.
type AuthorizeOptions struct {
	// Resource is the resource segment of the required permission; "" asks for a permission on any resource.
	Resource string
	// AllowSuperAdmin lets SUPER_ADMIN through when the check fails. Defaults to true.
	AllowSuperAdmin *bool
	// BranchParam overrides the name of the path/query parameter carrying the branch id.
	BranchParam string
	// Global requires the permission through an unscoped assignment and
	// ignores any branch the request names.
	Global bool
}

func (o AuthorizeOptions) allowSuperAdmin() bool {
	return o.AllowSuperAdmin == nil || *o.AllowSuperAdmin
}

// IdentityFrom returns the identity attached by Authenticate, or nil.
func IdentityFrom(c *gin.Context) *manage.Identity {
	return identityFrom(c)
}

func identityFrom(c *gin.Context) *manage.Identity {
	if v, ok := c.Get(ctxIdentity); ok {
		if id, ok := v.(*manage.Identity); ok {
			return id
		}
	}
	return nil
}

func attachIdentity(c *gin.Context, id *manage.Identity) {
	c.Set(ctxIdentity, id)
	c.Request = c.Request.WithContext(manage.ContextWithIdentity(c.Request.Context(), id))
}

// Authenticate requires a valid bearer token bound to a live session. Every
// failure is the same 401; an expired token is reported as TOKEN_EXPIRED.
func (g *Gate) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := generates.ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			g.metrics.Authentication.WithLabelValues("missing").Inc()
			abortWithError(c, g.log, errors.ErrUnauthorized)
			return
		}
		id, err := g.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			g.reject(c, err)
			return
		}
		g.metrics.Authentication.WithLabelValues("ok").Inc()
		attachIdentity(c, id)
		c.Next()
	}
}

func (g *Gate) reject(c *gin.Context, err error) {
	if errors.Internal(err) {
		g.metrics.Authentication.WithLabelValues("error").Inc()
		abortWithError(c, g.log, err)
		return
	}
	g.metrics.Authentication.WithLabelValues("rejected").Inc()
	g.log.WithError(err).WithField("path", c.FullPath()).Debug("authentication rejected")
	if errors.Is(err, errors.ErrTokenExpired) {
		abortWithError(c, g.log, errors.ErrTokenExpired)
		return
	}
	abortWithError(c, g.log, errors.ErrUnauthorized)
}

// OptionalAuthenticate attaches an identity when a valid token is present and
// otherwise lets the request through anonymously.
func (g *Gate) OptionalAuthenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := generates.ExtractBearer(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}
		id, err := g.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Internal(err) {
				g.log.WithError(err).WithField("path", c.FullPath()).Warn("optional authentication failed")
			}
			c.Next()
			return
		}
		attachIdentity(c, id)
		c.Next()
	}
}

// Authorize requires the authenticated caller to hold module:action[:resource]
// in the request's branch, if it names one. On success the caller's accessible
// branches are attached to the identity.
func (g *Gate) Authorize(module, action string, opts ...AuthorizeOptions) gin.HandlerFunc {
	var opt AuthorizeOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	return func(c *gin.Context) {
		id := identityFrom(c)
		if id == nil {
			abortWithError(c, g.log, errors.ErrUnauthorized)
			return
		}
		ctx := c.Request.Context()
		var (
			branchID string
			ok       bool
			err      error
		)
		if opt.Global {
			ok, err = g.perms.HasGlobalPermission(ctx, id.UserID, module, action, opt.Resource)
		} else {
			branchID = requestBranch(c, opt.BranchParam)
			ok, err = g.perms.HasPermission(ctx, id.UserID, module, action, opt.Resource, branchID)
		}
		if err != nil {
			abortWithError(c, g.log, err)
			return
		}
		if !ok && opt.allowSuperAdmin() && id.IsSuperAdmin() {
			ok = true
		}
		if !ok {
			g.metrics.Authorization.WithLabelValues(module, "deny").Inc()
			g.log.WithFields(logrus.Fields{
				"user_id": id.UserID,
				"module":  module,
				"action":  action,
				"branch":  branchID,
			}).Info("permission denied")
			abortWithError(c, g.log, errors.ErrForbidden)
			return
		}
		g.metrics.Authorization.WithLabelValues(module, "allow").Inc()

		branches, err := g.branches.AccessibleBranches(ctx, id.UserID)
		if err != nil {
			abortWithError(c, g.log, err)
			return
		}
		if branches == nil {
			branches = []string{}
		}
		id.AccessibleBranches = branches
		attachIdentity(c, id)
		c.Next()
	}
}

// requestBranch reads the branch id from the path, then the query, then the header.
func requestBranch(c *gin.Context, param string) string {
	if param == "" {
		param = branchParam
	}
	if v := strings.TrimSpace(c.Param(param)); v != "" {
		return v
	}
	if v := strings.TrimSpace(c.Query(param)); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader(branchHeader))
}
