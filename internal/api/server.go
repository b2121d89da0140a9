package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	serrors "github.com/axleworks/settler/common/errors"
	"github.com/axleworks/settler/internal/delegation"
	"github.com/axleworks/settler/internal/persistence"
	"github.com/axleworks/settler/internal/settlement"
	"github.com/axleworks/settler/internal/signing"
)

// Server wires the settlement engines, delegation layer, and persistence
// into the HTTP surface. Fill submissions name their taker explicitly; the
// whitelist and delegation checks inside the engines remain the real gate.
type Server struct {
	router *gin.Engine
	logger *zap.Logger

	owner     common.Address
	jwtSecret []byte

	limitEngine *settlement.LimitEngine
	dcaEngine   *settlement.DCAEngine
	limitWL     *settlement.Whitelist
	dcaWL       *settlement.Whitelist
	fees        *settlement.FeeConfig
	verifier    *signing.Verifier
	custody     *delegation.Custody
	proxy       *delegation.Proxy
	store       *persistence.Store
}

type Deps struct {
	Logger         *zap.Logger
	Owner          common.Address
	JWTSecret      []byte
	CORSOrigins    []string
	LimitEngine    *settlement.LimitEngine
	DCAEngine      *settlement.DCAEngine
	LimitWhitelist *settlement.Whitelist
	DCAWhitelist   *settlement.Whitelist
	Fees           *settlement.FeeConfig
	Verifier       *signing.Verifier
	Custody        *delegation.Custody
	Proxy          *delegation.Proxy
	Store          *persistence.Store
}

func NewServer(d Deps) *Server {
	s := &Server{
		logger:      d.Logger,
		owner:       d.Owner,
		jwtSecret:   d.JWTSecret,
		limitEngine: d.LimitEngine,
		dcaEngine:   d.DCAEngine,
		limitWL:     d.LimitWhitelist,
		dcaWL:       d.DCAWhitelist,
		fees:        d.Fees,
		verifier:    d.Verifier,
		custody:     d.Custody,
		proxy:       d.Proxy,
		store:       d.Store,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(d.Logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(d.Logger, true))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	s.router = router
	s.registerRoutes()
	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start runs the server until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting settlement API", zap.String("addr", addr))
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/v1")
	{
		v1.POST("/limit/fill", s.handleLimitFill)
		v1.POST("/limit/cancel", s.handleLimitCancel)
		v1.POST("/dca/fill", s.handleDCAFill)
		v1.POST("/dca/cancel", s.handleDCACancel)
		v1.GET("/orders/:hash/state", s.handleOrderState)
		v1.GET("/fills", s.handleFills)
		v1.GET("/fills/summary", s.handleFillSummary)
	}

	admin := v1.Group("/admin", s.ownerAuth())
	{
		admin.POST("/whitelist/:type/add", s.handleWhitelistAdd)
		admin.POST("/whitelist/:type/remove", s.handleWhitelistRemove)
		admin.POST("/fees/limit", s.handleSetLimitFee)
		admin.POST("/fees/dca", s.handleSetDCAFee)
		admin.POST("/fees/recipient", s.handleSetFeeRecipient)
		admin.POST("/signing/gas-ceiling", s.handleSetGasCeiling)
		admin.POST("/delegation/:tier/unlock", s.handleDelegationUnlock)
		admin.POST("/delegation/:tier/lock", s.handleDelegationLock)
		admin.POST("/delegation/:tier/confirm", s.handleDelegationConfirm)
		admin.POST("/delegation/proxy/remove", s.handleAllowSetRemove)
		admin.GET("/delegation/:tier", s.handleDelegationStatus)
	}
}

// ownerAuth admits only requests bearing a JWT whose subject is the owner
// address, signed with the shared admin secret.
func (s *Server) ownerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeProblem(c, serrors.ErrNotOwner)
			c.Abort()
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")
		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return s.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			writeProblem(c, serrors.ErrNotOwner)
			c.Abort()
			return
		}
		sub, err := token.Claims.GetSubject()
		if err != nil || !common.IsHexAddress(sub) || common.HexToAddress(sub) != s.owner {
			writeProblem(c, serrors.ErrNotOwner)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) handleLimitFill(c *gin.Context) {
	var req LimitFillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	taker, err := parseAddress(req.Taker)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	sig, err := parseBytes(req.Signature)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	fillAmount, err := parseAmount(req.FillAmount)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	minFill := fillAmount
	if req.MinFill != "" {
		if minFill, err = parseAmount(req.MinFill); err != nil {
			writeBadRequest(c, err.Error())
			return
		}
	}
	callbackData, err := parseBytes(req.CallbackData)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	res, err := s.limitEngine.Fill(c.Request.Context(), taker, order, sig, fillAmount, minFill, callbackData)
	if err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orderHash":    res.OrderHash.Hex(),
		"actualFill":   res.ActualFill.String(),
		"makerPortion": res.MakerPortion.String(),
		"fee":          res.Fee.String(),
		"filledTotal":  res.FilledTotal.String(),
	})
}

func (s *Server) handleLimitCancel(c *gin.Context) {
	var req LimitCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	maker, err := parseAddress(req.Maker)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	sig, err := parseBytes(req.Signature)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	if err := s.limitEngine.Cancel(c.Request.Context(), maker, order, sig); err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) handleDCAFill(c *gin.Context) {
	var req DCAFillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	taker, err := parseAddress(req.Taker)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	sig, err := parseBytes(req.Signature)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	callbackData, err := parseBytes(req.CallbackData)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	res, err := s.dcaEngine.Fill(c.Request.Context(), taker, order, sig, callbackData)
	if err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orderHash":       res.OrderHash.Hex(),
		"inAmount":        res.InAmount.String(),
		"output":          res.Output.String(),
		"fee":             res.Fee.String(),
		"tradesCompleted": res.TradesCompleted,
	})
}

func (s *Server) handleDCACancel(c *gin.Context) {
	var req DCACancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	order, err := req.Order.toOrder()
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	maker, err := parseAddress(req.Maker)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	sig, err := parseBytes(req.Signature)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	if err := s.dcaEngine.Cancel(c.Request.Context(), maker, order, sig); err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (s *Server) handleOrderState(c *gin.Context) {
	hash := c.Param("hash")
	rec, err := s.store.FillState(hash)
	if err != nil {
		writeProblem(c, err)
		return
	}
	if rec == nil {
		// Never-filled is a valid zero state, not an error.
		c.JSON(http.StatusOK, gin.H{
			"orderHash": hash,
			"filled":    "0",
			"trades":    0,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orderHash":  rec.OrderHash,
		"orderType":  rec.OrderType,
		"filled":     rec.FilledTakerAmount,
		"trades":     rec.TradesCompleted,
		"lastFillAt": rec.LastFillAt,
	})
}

func (s *Server) handleFills(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	recs, err := s.store.Fills(limit)
	if err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fills": recs})
}

func (s *Server) handleFillSummary(c *gin.Context) {
	sum, err := s.store.Summary()
	if err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalFills":   sum.TotalFills,
		"totalCancels": sum.TotalCancels,
		"limitVolume":  sum.LimitVolume.String(),
		"dcaVolume":    sum.DCAVolume.String(),
		"feesAccrued":  sum.FeesAccrued.String(),
	})
}

func (s *Server) whitelistFor(orderType string) *settlement.Whitelist {
	switch orderType {
	case "limit":
		return s.limitWL
	case "dca":
		return s.dcaWL
	default:
		return nil
	}
}

func (s *Server) handleWhitelistAdd(c *gin.Context) {
	wl := s.whitelistFor(c.Param("type"))
	if wl == nil {
		writeBadRequest(c, "unknown whitelist type")
		return
	}
	var req AddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	if err := wl.Add(s.owner, addr); err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "added"})
}

func (s *Server) handleWhitelistRemove(c *gin.Context) {
	wl := s.whitelistFor(c.Param("type"))
	if wl == nil {
		writeBadRequest(c, "unknown whitelist type")
		return
	}
	var req AddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	if err := wl.Remove(s.owner, addr); err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (s *Server) handleSetLimitFee(c *gin.Context) {
	var req FeeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	if err := s.fees.SetLimitFeeRate(s.owner, req.Bps); err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"limitFeeBps": req.Bps})
}

func (s *Server) handleSetDCAFee(c *gin.Context) {
	var req FeeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	if err := s.fees.SetDCAFeeRate(s.owner, req.Bps); err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dcaFeeBps": req.Bps})
}

func (s *Server) handleSetFeeRecipient(c *gin.Context) {
	var req AddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	if err := s.fees.SetFeeRecipient(s.owner, addr); err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feeRecipient": addr.Hex()})
}

func (s *Server) handleSetGasCeiling(c *gin.Context) {
	var req GasCeilingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	if err := s.verifier.SetValidationGasLimit(s.owner, req.Limit); err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"validationGasLimit": req.Limit})
}

func (s *Server) handleDelegationUnlock(c *gin.Context) {
	var req AddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	switch c.Param("tier") {
	case "custody":
		err = s.custody.Unlock(s.owner, addr)
	case "proxy":
		err = s.proxy.Unlock(s.owner, addr)
	default:
		writeBadRequest(c, "unknown delegation tier")
		return
	}
	if err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlocked", "pending": addr.Hex()})
}

func (s *Server) handleDelegationLock(c *gin.Context) {
	var err error
	switch c.Param("tier") {
	case "custody":
		err = s.custody.Lock(s.owner)
	case "proxy":
		err = s.proxy.Lock(s.owner)
	default:
		writeBadRequest(c, "unknown delegation tier")
		return
	}
	if err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "locked"})
}

func (s *Server) handleDelegationConfirm(c *gin.Context) {
	var err error
	switch c.Param("tier") {
	case "custody":
		err = s.custody.Confirm(s.owner)
	case "proxy":
		err = s.proxy.Confirm(s.owner)
	default:
		writeBadRequest(c, "unknown delegation tier")
		return
	}
	if err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "confirmed"})
}

func (s *Server) handleAllowSetRemove(c *gin.Context) {
	var req AddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	addr, err := parseAddress(req.Address)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	if err := s.proxy.Remove(s.owner, addr); err != nil {
		writeProblem(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

func (s *Server) handleDelegationStatus(c *gin.Context) {
	switch c.Param("tier") {
	case "custody":
		pending, unlockAt := s.custody.PendingProxy()
		c.JSON(http.StatusOK, gin.H{
			"current":  s.custody.CurrentProxy().Hex(),
			"pending":  pending.Hex(),
			"unlockAt": unlockAt,
		})
	case "proxy":
		pending, unlockAt := s.proxy.Pending()
		c.JSON(http.StatusOK, gin.H{
			"pending":  pending.Hex(),
			"unlockAt": unlockAt,
		})
	default:
		writeBadRequest(c, "unknown delegation tier")
	}
}
