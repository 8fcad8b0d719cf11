package rest

import (
	"net/http"

	"github.com/KevinKickass/ArmLink/internal/transport"
	"github.com/KevinKickass/ArmLink/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/protocol
func (s *Server) getProtocol(c *gin.Context) {
	client := s.lm.Client()
	session := client.Session()
	c.JSON(http.StatusOK, gin.H{
		"protocol": client.Protocol(),
		"state":    client.State().String(),
		"endpoint": session.Params.Endpoint(),
		"session":  session,
	})
}

// PUT /api/v1/protocol
func (s *Server) switchProtocol(c *gin.Context) {
	var req types.ProtocolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	proto, err := transport.ParseProtocol(req.Protocol)
	if err != nil {
		badRequest(c, "Invalid protocol", err)
		return
	}

	// Start from the configured link and overlay the request.
	p := s.lm.Config().TransportParams()
	p.Protocol = proto
	if req.Port != "" {
		p.Port = req.Port
	}
	if req.Baud != 0 {
		p.Baud = req.Baud
	}
	if req.Host != "" {
		p.Host = req.Host
	}
	if req.WSPort != 0 {
		p.WSPort = req.WSPort
	}
	if req.Path != "" {
		p.Path = req.Path
	}
	if req.URL != "" {
		p.URL = req.URL
	}

	if err := s.lm.Client().SwitchProtocol(c.Request.Context(), p); err != nil {
		s.fail(c, "switch protocol", err)
		return
	}

	session := s.lm.Client().Session()
	c.JSON(http.StatusOK, gin.H{
		"protocol": session.Protocol,
		"endpoint": session.Params.Endpoint(),
		"session":  session,
	})
}

// GET /api/v1/ports
func (s *Server) listPorts(c *gin.Context) {
	ports, err := transport.ListSerialPorts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeSystem, "Failed to list serial ports", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ports": ports,
		"count": len(ports),
	})
}
