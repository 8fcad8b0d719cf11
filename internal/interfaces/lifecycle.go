package interfaces

import (
	"context"

	"github.com/KevinKickass/ArmLink/internal/arm"
	"github.com/KevinKickass/ArmLink/internal/config"
	"github.com/KevinKickass/ArmLink/internal/machine"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State       string `json:"state"`
	Protocol    string `json:"protocol"`
	SessionID   string `json:"session_id"`
	LinkState   string `json:"link_state"`
	Feedback    bool   `json:"feedback_polling"`
	LiveClients int    `json:"live_clients"`
}

type LifecycleManager interface {
	Config() *config.Config
	Client() *arm.Client
	Poller() *arm.Poller
	MachineController() *machine.Controller
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
