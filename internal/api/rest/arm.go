package rest

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/KevinKickass/ArmLink/internal/dispatcher"
	"github.com/KevinKickass/ArmLink/internal/registers"
	"github.com/KevinKickass/ArmLink/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/device/info
func (s *Server) getDeviceInfo(c *gin.Context) {
	info, err := s.lm.Client().SystemInfo(c.Request.Context())
	if err != nil {
		s.fail(c, "device info", err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GET /api/v1/device/status
func (s *Server) getDeviceStatus(c *gin.Context) {
	status, err := s.lm.Client().AllStatus(c.Request.Context())
	if err != nil {
		s.fail(c, "device status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/device/ping
func (s *Server) pingDevice(c *gin.Context) {
	start := time.Now()
	if err := s.lm.Client().Ping(c.Request.Context()); err != nil {
		s.fail(c, "ping", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "pong",
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

// POST /api/v1/device/eeprom/init
func (s *Server) initEEPROM(c *gin.Context) {
	if err := s.lm.Client().InitEEPROM(c.Request.Context()); err != nil {
		s.fail(c, "eeprom init", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "EEPROM initialized"})
}

// GET /api/v1/joints
func (s *Server) getJoints(c *gin.Context) {
	joints, err := s.lm.Client().JointStates(c.Request.Context())
	if err != nil {
		s.fail(c, "joint states", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"joints": joints})
}

// GET /api/v1/angles
func (s *Server) getAngles(c *gin.Context) {
	angles, err := s.lm.Client().Angles(c.Request.Context())
	if err != nil {
		s.fail(c, "read angles", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"angles": angles})
}

// PUT /api/v1/angles
func (s *Server) setAngles(c *gin.Context) {
	var req types.AnglesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := s.lm.Client().SetAngles(c.Request.Context(), req.Angles); err != nil {
		s.fail(c, "set angles", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"angles": req.Angles})
}

// GET /api/v1/angles/targets
func (s *Server) getTargetAngles(c *gin.Context) {
	targets, err := s.lm.Client().TargetAngles(c.Request.Context())
	if err != nil {
		s.fail(c, "read target angles", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"targets": targets})
}

// GET /api/v1/angles/:joint
func (s *Server) getAngle(c *gin.Context) {
	joint, ok := jointParam(c)
	if !ok {
		return
	}
	angle, err := s.lm.Client().Angle(c.Request.Context(), joint)
	if err != nil {
		s.fail(c, "read angle", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"joint": joint, "angle": angle})
}

// PUT /api/v1/angles/:joint
func (s *Server) setAngle(c *gin.Context) {
	joint, ok := jointParam(c)
	if !ok {
		return
	}
	var req types.ValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := s.lm.Client().SetAngle(c.Request.Context(), joint, *req.Value); err != nil {
		s.fail(c, "set angle", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"joint": joint, "angle": *req.Value})
}

// GET /api/v1/loads
func (s *Server) getLoads(c *gin.Context) {
	loads, err := s.lm.Client().Loads(c.Request.Context())
	if err != nil {
		s.fail(c, "read loads", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"loads": loads})
}

// GET /api/v1/loads/:joint
func (s *Server) getLoad(c *gin.Context) {
	joint, ok := jointParam(c)
	if !ok {
		return
	}
	load, err := s.lm.Client().Load(c.Request.Context(), joint)
	if err != nil {
		s.fail(c, "read load", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"joint": joint, "load": load})
}

// GET /api/v1/offsets
func (s *Server) getOffsets(c *gin.Context) {
	offsets, err := s.lm.Client().Offsets(c.Request.Context())
	if err != nil {
		s.fail(c, "read offsets", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offsets": offsets})
}

// PUT /api/v1/offsets
func (s *Server) setOffsets(c *gin.Context) {
	var req types.OffsetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := s.lm.Client().SetOffsets(c.Request.Context(), req.Offsets); err != nil {
		s.fail(c, "set offsets", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offsets": req.Offsets})
}

// DELETE /api/v1/offsets
func (s *Server) clearOffsets(c *gin.Context) {
	if err := s.lm.Client().ClearOffsets(c.Request.Context()); err != nil {
		s.fail(c, "clear offsets", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Offsets cleared"})
}

// GET /api/v1/motor/status
func (s *Server) getMotorStatus(c *gin.Context) {
	st, err := s.lm.Client().MotorStatus(c.Request.Context())
	if err != nil {
		s.fail(c, "read motor status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": int(st), "name": st.String()})
}

// PUT /api/v1/motor/status
func (s *Server) setMotorStatus(c *gin.Context) {
	var req types.ValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	st := dispatcher.MotorStatus(*req.Value)
	if err := s.lm.Client().SetStatus(c.Request.Context(), st); err != nil {
		s.fail(c, "set motor status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": int(st), "name": st.String()})
}

// GET /api/v1/vacuum
func (s *Server) getVacuum(c *gin.Context) {
	on, err := s.lm.Client().VacuumStatus(c.Request.Context())
	if err != nil {
		s.fail(c, "read vacuum", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"on": on})
}

// PUT /api/v1/vacuum
func (s *Server) setVacuum(c *gin.Context) {
	var req types.VacuumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := s.lm.Client().SetVacuum(c.Request.Context(), *req.On); err != nil {
		s.fail(c, "set vacuum", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"on": *req.On})
}

// PUT /api/v1/speed
func (s *Server) setSpeed(c *gin.Context) {
	var req types.SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	ctx := c.Request.Context()
	var err error
	switch {
	case req.Speeds != nil:
		err = s.lm.Client().SetSpeeds(ctx, req.Speeds)
	case req.Speed != nil:
		err = s.lm.Client().SetSpeed(ctx, *req.Speed)
	default:
		badRequest(c, "Invalid request body", fmt.Errorf("speed or speeds required"))
		return
	}
	if err != nil {
		s.fail(c, "set speed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Speed set"})
}

// PUT /api/v1/time
func (s *Server) setTime(c *gin.Context) {
	var req types.ValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := s.lm.Client().SetTime(c.Request.Context(), *req.Value); err != nil {
		s.fail(c, "set time", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"time": *req.Value})
}

// PUT /api/v1/effector
func (s *Server) setEffector(c *gin.Context) {
	var req types.ValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := s.lm.Client().SetEffector(c.Request.Context(), *req.Value); err != nil {
		s.fail(c, "set effector", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"effector": *req.Value})
}

// PUT /api/v1/feedback/frequency
func (s *Server) setFeedbackFrequency(c *gin.Context) {
	var req types.FeedbackFrequencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if req.Angles == nil && req.Loads == nil {
		badRequest(c, "Invalid request body", fmt.Errorf("angles or loads required"))
		return
	}

	ctx := c.Request.Context()
	if req.Angles != nil {
		if err := s.lm.Client().SetAnglesFeedbackFreq(ctx, *req.Angles); err != nil {
			s.fail(c, "set angle feedback frequency", err)
			return
		}
	}
	if req.Loads != nil {
		if err := s.lm.Client().SetLoadsFeedbackFreq(ctx, *req.Loads); err != nil {
			s.fail(c, "set load feedback frequency", err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Feedback frequency set"})
}

// POST /api/v1/ik/:dof
func (s *Server) solveIK(c *gin.Context) {
	var req types.IKRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	ctx := c.Request.Context()
	pos := dispatcher.Vec3(*req.Position)
	var err error

	switch c.Param("dof") {
	case "5":
		err = s.lm.Client().IK5(ctx, pos)
	case "6":
		if req.Vec56 == nil {
			badRequest(c, "Invalid request body", fmt.Errorf("vec56 required"))
			return
		}
		err = s.lm.Client().IK6(ctx, pos, dispatcher.Vec3(*req.Vec56))
	case "7":
		if req.Vec56 == nil || req.Vec67 == nil {
			badRequest(c, "Invalid request body", fmt.Errorf("vec56 and vec67 required"))
			return
		}
		err = s.lm.Client().IK7(ctx, pos, dispatcher.Vec3(*req.Vec56), dispatcher.Vec3(*req.Vec67))
	default:
		badRequest(c, "Invalid IK variant", fmt.Errorf("dof must be 5, 6 or 7, got %q", c.Param("dof")))
		return
	}

	if err != nil {
		s.fail(c, "ik"+c.Param("dof"), err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "IK target accepted"})
}

// GET /api/v1/registers
func (s *Server) listRegisters(c *gin.Context) {
	regs := registers.All()
	c.JSON(http.StatusOK, gin.H{
		"registers": regs,
		"count":     len(regs),
	})
}

// GET /api/v1/registers/:addr?count=n
func (s *Server) readRegisters(c *gin.Context) {
	addr, ok := addrParam(c)
	if !ok {
		return
	}
	count, err := strconv.Atoi(c.DefaultQuery("count", "1"))
	if err != nil {
		badRequest(c, "Invalid count", err)
		return
	}

	data, err := s.lm.Client().ReadRegisters(c.Request.Context(), addr, count)
	if err != nil {
		s.fail(c, "read registers", err)
		return
	}

	values := make([]int, len(data))
	for i, b := range data {
		values[i] = int(b)
	}
	c.JSON(http.StatusOK, gin.H{
		"address": addr,
		"count":   count,
		"values":  values,
	})
}

// PUT /api/v1/registers/:addr
func (s *Server) writeRegisters(c *gin.Context) {
	addr, ok := addrParam(c)
	if !ok {
		return
	}
	var req types.RegisterWriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	if err := s.lm.Client().WriteRegisters(c.Request.Context(), addr, req.Values); err != nil {
		s.fail(c, "write registers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": addr,
		"values":  req.Values,
	})
}

func jointParam(c *gin.Context) (int, bool) {
	joint, err := strconv.Atoi(c.Param("joint"))
	if err != nil {
		badRequest(c, "Invalid joint", err)
		return 0, false
	}
	return joint, true
}

func addrParam(c *gin.Context) (uint8, bool) {
	addr, err := strconv.ParseUint(c.Param("addr"), 10, 8)
	if err != nil {
		badRequest(c, "Invalid register address", err)
		return 0, false
	}
	return uint8(addr), true
}
