package api

import (
	"errors"
	"net/http"

	"settle_go/internal/domain"
	"settle_go/internal/infra"
	"settle_go/internal/service"

	"github.com/gin-gonic/gin"
)

// Server exposes the settlement service over HTTP.
type Server struct {
	svc     *service.SettlementService
	metrics *infra.Metrics
}

// NewRouter builds the gin engine with auth, rate limiting and all routes.
func NewRouter(svc *service.SettlementService, cfg *infra.Config, metrics *infra.Metrics) *gin.Engine {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	s := &Server{svc: svc, metrics: metrics}

	actors := make(map[string]string, len(cfg.Server.APIKeys))
	for _, k := range cfg.Server.APIKeys {
		actors[k.Key] = k.Actor
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Server.RateLimitRPS > 0 {
		r.Use(RateLimiterMiddleware(RateLimiterConfig{
			RequestsPerSecond: cfg.Server.RateLimitRPS,
			Burst:             cfg.Server.RateLimitBurst,
		}))
	}

	r.GET("/healthz", s.health)
	r.GET("/metrics", s.metricsSnapshot)

	auth := r.Group("/", APIKeyAuth(actors))
	{
		settle := auth.Group("/settle")
		{
			settle.POST("/:asset", s.settleAsset)
			settle.POST("/:asset/institutional", s.settleInstitutional)
			settle.POST("/:asset/vault", s.settleVault)
			settle.POST("/:asset/close", s.closeBatch)
			settle.POST("/:asset/finalize", s.finalizeCustodial)
		}
		proposals := auth.Group("/proposals")
		{
			proposals.GET("/:id", s.getProposal)
			proposals.GET("/:id/net-negative", s.proposalNetNegative)
			proposals.POST("/:id/execute", s.executeProposal)
			proposals.POST("/:id/accept", s.acceptProposal)
			proposals.POST("/:id/cancel", s.cancelProposal)
			proposals.POST("/execute-matured", s.executeMatured)
		}
		auth.GET("/fees/:asset", s.quoteFees)
		auth.GET("/transfers/:asset", s.listTransfers)
		auth.POST("/roles", s.grantRole)
	}

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) metricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) settleAsset(c *gin.Context) {
	auth := s.svc.AuthFor(actorFrom(c))
	results, err := s.svc.SettleAsset(c.Request.Context(), auth, c.Param("asset"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) settleInstitutional(c *gin.Context) {
	auth := s.svc.AuthFor(actorFrom(c))
	res, err := s.svc.SettleInstitutional(c.Request.Context(), auth, c.Param("asset"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type settleVaultRequest struct {
	ProfitShareBps int64 `json:"profit_share_bps" binding:"min=0,max=10000"`
}

func (s *Server) settleVault(c *gin.Context) {
	var req settleVaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	auth := s.svc.AuthFor(actorFrom(c))
	res, err := s.svc.SettleVault(c.Request.Context(), auth, c.Param("asset"), req.ProfitShareBps)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) closeBatch(c *gin.Context) {
	vaultType := domain.VaultType(c.DefaultQuery("vault_type", string(domain.VaultTypeInstitutional)))
	if vaultType != domain.VaultTypeInstitutional && vaultType != domain.VaultTypeYield {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown vault_type"})
		return
	}
	auth := s.svc.AuthFor(actorFrom(c))
	batch, err := s.svc.CloseBatch(c.Request.Context(), auth, vaultType, c.Param("asset"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (s *Server) finalizeCustodial(c *gin.Context) {
	auth := s.svc.AuthFor(actorFrom(c))
	res, err := s.svc.FinalizeCustodial(c.Request.Context(), auth, c.Param("asset"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getProposal(c *gin.Context) {
	p, err := s.svc.Proposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) proposalNetNegative(c *gin.Context) {
	negative, err := s.svc.ProposalNetNegative(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"net_negative": negative})
}

func (s *Server) executeProposal(c *gin.Context) {
	auth := s.svc.AuthFor(actorFrom(c))
	if err := s.svc.ExecuteProposal(c.Request.Context(), auth, c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "executed"})
}

func (s *Server) acceptProposal(c *gin.Context) {
	auth := s.svc.AuthFor(actorFrom(c))
	if err := s.svc.AcceptProposal(c.Request.Context(), auth, c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (s *Server) cancelProposal(c *gin.Context) {
	auth := s.svc.AuthFor(actorFrom(c))
	if err := s.svc.CancelProposal(c.Request.Context(), auth, c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) executeMatured(c *gin.Context) {
	auth := s.svc.AuthFor(actorFrom(c))
	executed, err := s.svc.ExecuteMatured(c.Request.Context(), auth)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executed": executed})
}

func (s *Server) quoteFees(c *gin.Context) {
	quote, err := s.svc.QuoteFees(c.Request.Context(), c.Param("asset"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (s *Server) listTransfers(c *gin.Context) {
	records, err := s.svc.Transfers(c.Param("asset"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": records})
}

type grantRoleRequest struct {
	Actor string `json:"actor" binding:"required"`
	Role  string `json:"role" binding:"required"`
}

func (s *Server) grantRole(c *gin.Context) {
	var req grantRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	auth := s.svc.AuthFor(actorFrom(c))
	if err := s.svc.GrantRole(auth, req.Actor, domain.Role(req.Role)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "granted"})
}

// abortWithError maps domain errors onto HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrProposalNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrCooldownActive):
		status = http.StatusConflict
	case domain.IsStateViolation(err):
		status = http.StatusConflict
	case domain.IsInvariantViolation(err):
		status = http.StatusUnprocessableEntity
	case domain.IsShortfall(err):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
