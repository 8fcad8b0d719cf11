package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/KevinKickass/ArmLink/internal/api/websocket"
	"github.com/KevinKickass/ArmLink/internal/arm"
	"github.com/KevinKickass/ArmLink/internal/dispatcher"
	"github.com/KevinKickass/ArmLink/internal/machine"
	"github.com/KevinKickass/ArmLink/internal/registers"
	"github.com/KevinKickass/ArmLink/internal/transport"
	"github.com/KevinKickass/ArmLink/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// classify maps a client error onto an HTTP status and error code.
func classify(err error) (int, string) {
	var switchErr *arm.SwitchError
	var deviceErr *transport.DeviceError

	switch {
	case errors.As(err, &switchErr):
		return http.StatusConflict, types.CodeSwitchFailed
	case errors.Is(err, machine.ErrInvalidTransition):
		return http.StatusConflict, types.CodeMachineConflict
	case errors.Is(err, machine.ErrUnknownCommand):
		return http.StatusBadRequest, types.CodeMachineRequest
	case errors.Is(err, dispatcher.ErrValidation), errors.Is(err, registers.ErrBadSpan):
		return http.StatusBadRequest, types.CodeBadRequest
	case errors.Is(err, registers.ErrAccessDenied):
		return http.StatusForbidden, types.CodeAccessDenied
	case errors.Is(err, registers.ErrNotFound), errors.Is(err, arm.ErrPoseNotFound):
		return http.StatusNotFound, types.CodeNotFound
	case errors.As(err, &deviceErr):
		return http.StatusUnprocessableEntity, types.CodeDeviceRejected
	case errors.Is(err, transport.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, types.CodeDeviceTimeout
	case errors.Is(err, transport.ErrCorrupt):
		return http.StatusBadGateway, types.CodeDeviceCorrupt
	case errors.Is(err, transport.ErrDisconnected),
		errors.Is(err, transport.ErrPortUnavailable),
		errors.Is(err, dispatcher.ErrBusy):
		return http.StatusServiceUnavailable, types.CodeDeviceDown
	default:
		return http.StatusInternalServerError, types.CodeInternal
	}
}

// fail writes the error response for op. Device-side failures are also
// pushed to live clients.
func (s *Server) fail(c *gin.Context, op string, err error) {
	status, code := classify(err)

	if status >= http.StatusInternalServerError || status == http.StatusUnprocessableEntity {
		s.logger.Warn("Device operation failed",
			zap.String("operation", op),
			zap.Int("status", status),
			zap.Error(err))
		if s.wsHub != nil {
			s.wsHub.Broadcast(websocket.NewDeviceErrorMessage(op, err))
		}
	}

	c.JSON(status, types.NewErrorResponse(code, op+" failed", err.Error()))
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, message, err.Error()))
}
