package system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/ArmLink/internal/api/rest"
	"github.com/KevinKickass/ArmLink/internal/api/websocket"
	"github.com/KevinKickass/ArmLink/internal/arm"
	"github.com/KevinKickass/ArmLink/internal/config"
	"github.com/KevinKickass/ArmLink/internal/interfaces"
	"github.com/KevinKickass/ArmLink/internal/machine"
	"go.uber.org/zap"
)

type LifecycleManager struct {
	config            *config.Config
	client            *arm.Client
	poller            *arm.Poller
	machineController *machine.Controller
	hub               *websocket.Hub
	logger            *zap.Logger

	restServer *rest.Server

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string

	listenersMu     sync.RWMutex
	statusListeners map[int]chan SystemStatus
	nextListener    int

	forwardWg   sync.WaitGroup
	unsubscribe func()

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	return newLifecycleManager(cfg, logger, nil)
}

// newLifecycleManager builds every component. A nil factory opens real
// serial or WebSocket links.
func newLifecycleManager(cfg *config.Config, logger *zap.Logger, factory arm.Factory) (*LifecycleManager, error) {
	var poses *arm.PoseLibrary
	if cfg.Motion.PosesFile != "" {
		lib, err := arm.LoadPoseFile(cfg.Motion.PosesFile)
		if err != nil {
			return nil, err
		}
		poses = lib
		logger.Info("Pose library loaded",
			zap.String("path", cfg.Motion.PosesFile),
			zap.Int("poses", len(lib.List())))
	}

	client, err := arm.New(cfg.TransportParams(), arm.Options{
		Dispatch: cfg.DispatchConfig(),
		Motion:   cfg.MotionConfig(),
		Poses:    poses,
		Factory:  factory,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create device client: %w", err)
	}

	hub := websocket.NewHub(logger)
	machineController := machine.NewController(logger, client, hub, cfg.Motion.WaitTimeout)
	hub.SetMachineStatusProvider(machineController)

	client.OnSwitch(func(s arm.Session) {
		hub.Broadcast(websocket.NewProtocolSwitchedMessage(s.ID.String(), string(s.Protocol), s.Params.Endpoint()))
	})

	return &LifecycleManager{
		config:            cfg,
		client:            client,
		poller:            arm.NewPoller(client, cfg.Feedback.PollInterval, logger),
		machineController: machineController,
		hub:               hub,
		logger:            logger,
		currentState:      StateInitializing,
		statusListeners:   make(map[int]chan SystemStatus),
		shutdownChan:      make(chan struct{}),
	}, nil
}

// Start connects the device and starts the hub, the feedback poller and
// the REST API. An unreachable device is not fatal; the link can be
// switched through the API.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting ArmLink")

	go lm.hub.Run()

	ctx, cancel := context.WithTimeout(context.Background(), lm.config.Dispatch.Timeout)
	err := lm.client.Connect(ctx)
	cancel()
	if err != nil {
		lm.logger.Warn("Device not reachable, continuing without link",
			zap.String("endpoint", lm.client.Session().Params.Endpoint()),
			zap.Error(err))
	}

	if lm.config.Feedback.Enabled {
		lm.startFeedback()
	}

	lm.restServer = rest.NewServer(lm.config, lm, lm.logger, lm.hub)
	if err := lm.restServer.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.String("protocol", string(lm.client.Protocol())),
		zap.Bool("feedback_polling", lm.config.Feedback.Enabled))

	return nil
}

// startFeedback forwards successful polls to live clients as joint_state.
func (lm *LifecycleManager) startFeedback() {
	events, unsubscribe := lm.poller.Subscribe()
	lm.unsubscribe = unsubscribe

	lm.forwardWg.Add(1)
	go func() {
		defer lm.forwardWg.Done()
		for ev := range events {
			if ev.Err != nil {
				continue
			}
			lm.hub.Broadcast(websocket.NewJointStateMessage(ev))
		}
	}()

	lm.poller.Start()
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has finished.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 1. Feedback poller and forwarder
	wg.Add(1)
	go func() {
		defer wg.Done()
		lm.poller.Stop()
		if lm.unsubscribe != nil {
			lm.unsubscribe()
		}
		lm.forwardWg.Wait()
	}()

	// 2. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// Wait for all shutdowns
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		err = fmt.Errorf("shutdown timeout exceeded")
	}
	select {
	case e := <-errChan:
		err = e
	default:
	}

	// Live clients and the device link go last.
	lm.hub.Stop()
	if cerr := lm.client.Close(); cerr != nil {
		lm.logger.Warn("Closing device link", zap.Error(cerr))
	}
	return err
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected system state change", zap.Error(err))
	}
	lm.currentState = state
	if state != StateError {
		lm.lastError = ""
	}
	lm.stateMu.Unlock()

	lm.publishStatus()
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	lm.currentState = StateError
	lm.lastError = err.Error()
	lm.stateMu.Unlock()

	lm.publishStatus()
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	return interfaces.SystemStatus{
		State:       state.String(),
		Protocol:    string(lm.client.Protocol()),
		SessionID:   lm.client.Session().ID.String(),
		LinkState:   lm.client.State().String(),
		Feedback:    lm.poller.IsRunning(),
		LiveClients: lm.hub.GetClientCount(),
	}
}

func (lm *LifecycleManager) snapshot() SystemStatus {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return SystemStatus{
		State:     lm.currentState,
		Timestamp: time.Now().Unix(),
		Error:     lm.lastError,
	}
}

// publishStatus never blocks; a listener with a full buffer misses the update.
func (lm *LifecycleManager) publishStatus() {
	status := lm.snapshot()

	lm.listenersMu.RLock()
	defer lm.listenersMu.RUnlock()
	for _, ch := range lm.statusListeners {
		select {
		case ch <- status:
		default:
		}
	}
}

// SubscribeStatus returns a channel of system state changes and a cancel
// func that closes it.
func (lm *LifecycleManager) SubscribeStatus() (<-chan SystemStatus, func()) {
	ch := make(chan SystemStatus, 10)

	lm.listenersMu.Lock()
	id := lm.nextListener
	lm.nextListener++
	lm.statusListeners[id] = ch
	lm.listenersMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			lm.listenersMu.Lock()
			delete(lm.statusListeners, id)
			lm.listenersMu.Unlock()
			close(ch)
		})
	}
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Client() *arm.Client {
	return lm.client
}

func (lm *LifecycleManager) Poller() *arm.Poller {
	return lm.poller
}

func (lm *LifecycleManager) MachineController() *machine.Controller {
	return lm.machineController
}
