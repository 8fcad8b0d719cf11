package rest

import (
	"net/http"
	"time"

	"github.com/KevinKickass/ArmLink/internal/machine"
	"github.com/KevinKickass/ArmLink/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/machine/status
func (s *Server) getMachineStatus(c *gin.Context) {
	status := s.lm.MachineController().GetStatus()
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/machine/command
func (s *Server) executeMachineCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeMachineRequest, "Invalid request body", err.Error()))
		return
	}

	cmd := machine.Command(req.Command)

	if err := s.lm.MachineController().ExecuteCommand(c.Request.Context(), cmd); err != nil {
		s.logger.Error("Machine command failed",
			zap.String("command", req.Command),
			zap.Error(err))
		s.fail(c, "machine "+req.Command, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Command accepted",
		"command": req.Command,
	})
}

// POST /api/v1/machine/pose
func (s *Server) machineMoveToPose(c *gin.Context) {
	var req types.PoseMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeMachineRequest, "Invalid request body", err.Error()))
		return
	}

	if _, err := s.lm.Client().Poses().Get(req.Name); err != nil {
		s.fail(c, "machine move", err)
		return
	}
	if err := s.lm.MachineController().MoveToPose(c.Request.Context(), req.Name); err != nil {
		s.fail(c, "machine move", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Move accepted",
		"pose":    req.Name,
	})
}

// POST /api/v1/motion/wait
func (s *Server) waitForMotion(c *gin.Context) {
	var req types.MotionWaitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request body", err)
			return
		}
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = s.lm.Config().Motion.WaitTimeout
	}

	status, err := s.lm.Client().WaitForMotion(c.Request.Context(), timeout)
	if err != nil {
		s.fail(c, "wait for motion", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

// GET /api/v1/poses
func (s *Server) listPoses(c *gin.Context) {
	poses := s.lm.Client().Poses().List()
	c.JSON(http.StatusOK, gin.H{
		"poses": poses,
		"count": len(poses),
	})
}

// GET /api/v1/poses/:name
func (s *Server) getPose(c *gin.Context) {
	pose, err := s.lm.Client().Poses().Get(c.Param("name"))
	if err != nil {
		s.fail(c, "get pose", err)
		return
	}
	c.JSON(http.StatusOK, pose)
}

// POST /api/v1/poses/:name/move
//
// Moves directly, without the machine state machine.
func (s *Server) moveToPose(c *gin.Context) {
	name := c.Param("name")
	if err := s.lm.Client().MoveToPose(c.Request.Context(), name); err != nil {
		s.fail(c, "move to pose", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pose": name})
}
