package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/ArmLink/internal/api/websocket"
	"github.com/KevinKickass/ArmLink/internal/arm"
	"github.com/KevinKickass/ArmLink/internal/dispatcher"
	"go.uber.org/zap"
)

var (
	ErrInvalidTransition = errors.New("invalid machine state transition")
	ErrUnknownCommand    = errors.New("unknown command")
)

// Arm is the part of the device client the controller drives.
type Arm interface {
	Home(ctx context.Context) error
	Reset(ctx context.Context) error
	SetStatus(ctx context.Context, s dispatcher.MotorStatus) error
	MoveToPose(ctx context.Context, name string) error
	WaitForMotion(ctx context.Context, timeout time.Duration) (arm.MotionStatus, error)
}

type Broadcaster interface {
	Broadcast(msg websocket.Message)
}

type Controller struct {
	logger        *zap.Logger
	arm           Arm
	hub           Broadcaster
	motionTimeout time.Duration

	mu           sync.RWMutex
	currentState State
	operation    string
	pose         string
	errorMessage string
	motionStatus arm.MotionStatus
	lastChange   time.Time
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewController(logger *zap.Logger, a Arm, hub Broadcaster, motionTimeout time.Duration) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if motionTimeout <= 0 {
		motionTimeout = 10 * time.Second
	}
	return &Controller{
		logger:        logger,
		arm:           a,
		hub:           hub,
		motionTimeout: motionTimeout,
		currentState:  StateStopped,
		lastChange:    time.Now(),
	}
}

// ExecuteCommand handles machine commands. Home and reset run in the
// background; their outcome is reported through state changes.
func (c *Controller) ExecuteCommand(ctx context.Context, cmd Command) error {
	c.mu.RLock()
	currentState := c.currentState
	c.mu.RUnlock()

	c.logger.Info("Machine command received",
		zap.String("command", string(cmd)),
		zap.String("current_state", string(currentState)))

	switch cmd {
	case CommandHome:
		return c.start("home", StateHoming, []State{StateStopped, StateReady}, "", func(ctx context.Context) error {
			return c.arm.Home(ctx)
		})
	case CommandReset:
		return c.start("reset", StateResetting, []State{StateStopped, StateReady, StateError}, "", func(ctx context.Context) error {
			return c.arm.Reset(ctx)
		})
	case CommandStop:
		return c.executeStop(ctx, dispatcher.StatusProtection)
	case CommandRelease:
		return c.executeStop(ctx, dispatcher.StatusForceless)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}

// MoveToPose moves a ready machine to a named pose.
func (c *Controller) MoveToPose(ctx context.Context, name string) error {
	return c.start("move", StateMoving, []State{StateReady}, name, func(ctx context.Context) error {
		return c.arm.MoveToPose(ctx, name)
	})
}

// start moves into a busy state and runs op plus a motion wait in the
// background. The machine ends in ready, or stopped after a reset.
func (c *Controller) start(name string, busy State, from []State, pose string, op func(context.Context) error) error {
	c.mu.Lock()
	if !allowed(c.currentState, from) {
		state := c.currentState
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot %s from %s", ErrInvalidTransition, name, state)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.operation = name
	c.pose = pose
	c.transitionLocked(busy, "")
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()

		target := StateReady
		if busy == StateResetting {
			target = StateStopped
		}

		if err := op(ctx); err != nil {
			c.fail(ctx, name, err)
			return
		}
		status, err := c.arm.WaitForMotion(ctx, c.motionTimeout)
		if err != nil {
			c.fail(ctx, name, err)
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.currentState != busy {
			return
		}
		c.motionStatus = status
		c.operation = ""
		c.cancel = nil
		c.transitionLocked(target, "")
		c.logger.Info("Machine operation finished",
			zap.String("operation", name),
			zap.String("motion", string(status)))
	}()
	return nil
}

func (c *Controller) fail(ctx context.Context, name string, err error) {
	if ctx.Err() != nil {
		// cancelled by stop
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operation = ""
	c.cancel = nil
	c.transitionLocked(StateError, err.Error())
	c.logger.Error("Machine operation failed",
		zap.String("operation", name),
		zap.Error(err))
	if c.hub != nil {
		c.hub.Broadcast(websocket.NewDeviceErrorMessage(name, err))
	}
}

// executeStop cancels any running operation and puts the motors in the
// given mode. Allowed from every state.
func (c *Controller) executeStop(ctx context.Context, mode dispatcher.MotorStatus) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	// Wait for the cancelled operation to release the arm.
	c.wg.Wait()

	if err := c.arm.SetStatus(ctx, mode); err != nil {
		c.setState(StateError, err.Error())
		return err
	}

	c.mu.Lock()
	c.operation = ""
	c.pose = ""
	c.transitionLocked(StateStopped, "")
	c.mu.Unlock()
	return nil
}

func (c *Controller) setState(state State, errorMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitionLocked(state, errorMsg)
}

func (c *Controller) transitionLocked(state State, errorMsg string) {
	previousState := c.currentState
	c.currentState = state
	c.errorMessage = errorMsg
	c.lastChange = time.Now()

	c.logger.Info("Machine state changed",
		zap.String("state", string(state)),
		zap.String("previous", string(previousState)),
		zap.String("error", errorMsg))

	// Broadcast state change via WebSocket
	if c.hub != nil {
		c.hub.Broadcast(websocket.NewMachineStateMessage(
			string(state),
			string(previousState),
			errorMsg,
		))
	}
}

// Wait blocks until no background operation is running.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) GetStatus() MachineStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return MachineStatus{
		State:           c.currentState,
		Operation:       c.operation,
		Pose:            c.pose,
		ErrorMessage:    c.errorMessage,
		MotionStatus:    string(c.motionStatus),
		LastStateChange: c.lastChange,
	}
}

// Snapshot is the status as sent to newly connected live clients.
func (c *Controller) Snapshot() any {
	return c.GetStatus()
}

func allowed(s State, from []State) bool {
	for _, f := range from {
		if s == f {
			return true
		}
	}
	return false
}
