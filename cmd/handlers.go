package main

import (
	"net/http"
	"rail-gateway/core"
	"rail-gateway/models"
	"rail-gateway/railway"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const version = "1.0.0"

// gateway HTTP 层依赖
type gateway struct {
	service    *railway.Service
	rotator    *core.KeyRotator
	attempts   *core.AsyncAttemptLogger // 可为 nil (未配置存储)
	logger     *logrus.Logger
	metrics    http.Handler // 可为 nil
	limiter    *IPRateLimiter
	adminToken string
}

// newEngine 组装 gin 引擎和全部路由
func newEngine(g *gateway) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.RecoveryWithWriter(g.logger.Writer()))
	engine.Use(requestIDMiddleware())
	engine.Use(corsMiddleware())

	engine.GET("/", g.handleRoot)
	engine.GET("/health", g.handleHealth)
	if g.metrics != nil {
		engine.GET("/metrics", gin.WrapH(g.metrics))
	}

	api := engine.Group("/api/v1")
	api.Use(requestLoggerMiddleware(g.logger), rateLimitMiddleware(g.limiter, g.logger))
	{
		api.GET("/trains/search", g.handleSearchTrain)
		api.GET("/trains/:trainNo/live", g.handleLiveTrainStatus)
		api.GET("/stations/:code/trains", g.handleTrainsByStation)
		api.GET("/stations/:code/live", g.handleLiveStation)
		api.GET("/fare", g.handleFare)
		api.GET("/seats", g.handleSeatAvailability)
		api.GET("/pnr/:pnr", g.handlePNRStatus)
	}

	// 未配置 admin token 时不注册管理接口
	if g.adminToken != "" {
		engine.GET("/admin/dashboard", handleDashboard())
		admin := engine.Group("/admin")
		admin.Use(adminAuthMiddleware(g.adminToken))
		{
			admin.GET("/stats", g.handleStats)
			admin.GET("/attempts", g.handleAttempts)
		}
	}

	return engine
}

func (g *gateway) handleRoot(c *gin.Context) {
	c.JSON(200, models.NewServiceInfo(version, map[string]string{
		"search":       "/api/v1/trains/search?query=",
		"live_status":  "/api/v1/trains/:trainNo/live?startDay=",
		"station":      "/api/v1/stations/:code/trains",
		"live_station": "/api/v1/stations/:code/live?to=&hours=",
		"fare":         "/api/v1/fare?trainNo=&from=&to=",
		"seats":        "/api/v1/seats?trainNo=&from=&to=&class=&quota=",
		"pnr":          "/api/v1/pnr/:pnr",
		"health":       "/health",
	}))
}

// handleHealth 只暴露 Key 数量，不暴露 Key
func (g *gateway) handleHealth(c *gin.Context) {
	status := "ok"
	if g.rotator.Size() == 0 {
		status = "degraded"
	}
	c.JSON(200, models.HealthResponse{
		Status:    status,
		Gateway:   "rail-gateway",
		KeyCount:  g.rotator.Size(),
		Timestamp: time.Now().Unix(),
	})
}

func (g *gateway) handleSearchTrain(c *gin.Context) {
	out, err := g.service.SearchTrain(c.Request.Context(), c.Query("query"))
	g.respond(c, out, err)
}

func (g *gateway) handleLiveTrainStatus(c *gin.Context) {
	var q models.LiveStatusQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(400, models.NewInvalidRequest("invalid startDay: must be a number"))
		return
	}
	out, err := g.service.LiveTrainStatus(c.Request.Context(), c.Param("trainNo"), q.StartDay)
	g.respond(c, out, err)
}

func (g *gateway) handleTrainsByStation(c *gin.Context) {
	out, err := g.service.TrainsByStation(c.Request.Context(), c.Param("code"))
	g.respond(c, out, err)
}

func (g *gateway) handleLiveStation(c *gin.Context) {
	var q models.LiveStationQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(400, models.NewInvalidRequest("invalid hours: must be a number"))
		return
	}
	if q.Hours == 0 {
		q.Hours = 6
	}
	out, err := g.service.LiveStation(c.Request.Context(), c.Param("code"), q.To, q.Hours)
	g.respond(c, out, err)
}

func (g *gateway) handleFare(c *gin.Context) {
	var q models.FareQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(400, models.NewInvalidRequest("trainNo, from and to are required"))
		return
	}
	out, err := g.service.Fare(c.Request.Context(), q.TrainNo, q.From, q.To)
	g.respond(c, out, err)
}

func (g *gateway) handleSeatAvailability(c *gin.Context) {
	var q models.SeatQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(400, models.NewInvalidRequest("trainNo, from, to and class are required"))
		return
	}
	out, err := g.service.SeatAvailability(c.Request.Context(), q.ClassType, q.From, q.Quota, q.To, q.TrainNo)
	g.respond(c, out, err)
}

func (g *gateway) handlePNRStatus(c *gin.Context) {
	out, err := g.service.PNRStatus(c.Request.Context(), c.Param("pnr"))
	g.respond(c, out, err)
}

// respond 参数错误 400；上游全部 Key 失败 502；成功原样返回上游 JSON
func (g *gateway) respond(c *gin.Context, out core.Outcome, err error) {
	if err != nil {
		if railway.IsValidationError(err) {
			c.JSON(400, models.NewInvalidRequest(err.Error()))
			return
		}
		g.logger.Errorf("Unexpected service error: %v", err)
		c.JSON(500, models.ErrorResponse{
			Error: models.ErrorDetail{Message: "internal error", Type: "server_error"},
		})
		return
	}
	if !out.Success {
		c.JSON(502, out)
		return
	}
	c.JSON(200, out)
}

func (g *gateway) handleStats(c *gin.Context) {
	resp := models.AdminStatsResponse{
		KeyCount:  g.rotator.Size(),
		Cursor:    g.rotator.Cursor(),
		Keys:      []models.AdminKeyStats{},
		Timestamp: time.Now().Unix(),
	}
	if g.attempts != nil {
		stats, err := g.attempts.KeyStats()
		if err != nil {
			g.logger.Errorf("Failed to load key stats: %v", err)
			c.JSON(500, models.ErrorResponse{
				Error: models.ErrorDetail{Message: "failed to load stats", Type: "server_error"},
			})
			return
		}
		for _, s := range stats {
			resp.Keys = append(resp.Keys, models.NewAdminKeyStats(s))
		}
	}
	c.JSON(200, resp)
}

func (g *gateway) handleAttempts(c *gin.Context) {
	if g.attempts == nil {
		c.JSON(200, []models.AttemptLog{})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		c.JSON(400, models.NewInvalidRequest("invalid limit: must be a number"))
		return
	}
	logs, err := g.attempts.RecentAttempts(limit)
	if err != nil {
		g.logger.Errorf("Failed to load attempt logs: %v", err)
		c.JSON(500, models.ErrorResponse{
			Error: models.ErrorDetail{Message: "failed to load attempts", Type: "server_error"},
		})
		return
	}
	c.JSON(200, logs)
}
