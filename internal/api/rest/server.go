package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/ArmLink/internal/api/websocket"
	"github.com/KevinKickass/ArmLink/internal/config"
	"github.com/KevinKickass/ArmLink/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	lm     interfaces.LifecycleManager
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		lm:     lm,
		logger: logger,
		wsHub:  wsHub,
	}

	s.setupRoutes()

	// Device commands are bounded by the dispatch timeout; motion waits may
	// take longer.
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.healthCheck)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// ==================== DEVICE ====================
		device := v1.Group("/device")
		{
			device.GET("/info", s.getDeviceInfo)
			device.GET("/status", s.getDeviceStatus)
			device.POST("/ping", s.pingDevice)
			device.POST("/eeprom/init", s.initEEPROM)
		}

		// ==================== JOINTS ====================
		v1.GET("/joints", s.getJoints)

		angles := v1.Group("/angles")
		{
			angles.GET("", s.getAngles)
			angles.PUT("", s.setAngles)
			angles.GET("/targets", s.getTargetAngles)
			angles.GET("/:joint", s.getAngle)
			angles.PUT("/:joint", s.setAngle)
		}

		loads := v1.Group("/loads")
		{
			loads.GET("", s.getLoads)
			loads.GET("/:joint", s.getLoad)
		}

		offsets := v1.Group("/offsets")
		{
			offsets.GET("", s.getOffsets)
			offsets.PUT("", s.setOffsets)
			offsets.DELETE("", s.clearOffsets)
		}

		// ==================== ACTUATION ====================
		v1.GET("/motor/status", s.getMotorStatus)
		v1.PUT("/motor/status", s.setMotorStatus)
		v1.GET("/vacuum", s.getVacuum)
		v1.PUT("/vacuum", s.setVacuum)
		v1.PUT("/speed", s.setSpeed)
		v1.PUT("/time", s.setTime)
		v1.PUT("/effector", s.setEffector)
		v1.PUT("/feedback/frequency", s.setFeedbackFrequency)
		v1.POST("/ik/:dof", s.solveIK)

		// ==================== RAW REGISTERS ====================
		regs := v1.Group("/registers")
		{
			regs.GET("", s.listRegisters)
			regs.GET("/:addr", s.readRegisters)
			regs.PUT("/:addr", s.writeRegisters)
		}

		// ==================== MOTION & POSES ====================
		v1.POST("/motion/wait", s.waitForMotion)

		poses := v1.Group("/poses")
		{
			poses.GET("", s.listPoses)
			poses.GET("/:name", s.getPose)
			poses.POST("/:name/move", s.moveToPose)
		}

		// ==================== MACHINE CONTROL ====================
		machine := v1.Group("/machine")
		{
			machine.GET("/status", s.getMachineStatus)
			machine.POST("/command", s.executeMachineCommand)
			machine.POST("/pose", s.machineMoveToPose)
		}

		// ==================== LINK ====================
		v1.GET("/protocol", s.getProtocol)
		v1.PUT("/protocol", s.switchProtocol)
		v1.GET("/ports", s.listPorts)

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
			system.POST("/shutdown", s.shutdown)
		}

		// ==================== WEBSOCKET ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

// WebSocket handlers
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"link":      s.lm.Client().State().String(),
		"timestamp": time.Now().Unix(),
	})
}
