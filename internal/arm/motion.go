package arm

import (
	"context"
	"slices"
	"time"

	"github.com/KevinKickass/ArmLink/internal/dispatcher"
	"go.uber.org/zap"
)

type MotionStatus string

const (
	MotionComplete   MotionStatus = "complete"
	MotionSettled    MotionStatus = "settled"
	MotionIncomplete MotionStatus = "incomplete"
)

type MotionConfig struct {
	PollInterval time.Duration
	Tolerance    int
	SettlePolls  int
	StepDelay    time.Duration
}

func DefaultMotionConfig() MotionConfig {
	return MotionConfig{
		PollInterval: 100 * time.Millisecond,
		Tolerance:    2,
		SettlePolls:  5,
		StepDelay:    500 * time.Millisecond,
	}
}

func (m MotionConfig) withDefaults() MotionConfig {
	def := DefaultMotionConfig()
	if m.PollInterval <= 0 {
		m.PollInterval = def.PollInterval
	}
	if m.Tolerance < 0 {
		m.Tolerance = def.Tolerance
	}
	if m.SettlePolls <= 0 {
		m.SettlePolls = def.SettlePolls
	}
	if m.StepDelay < 0 {
		m.StepDelay = 0
	}
	return m
}

// WaitForMotion blocks until every joint is within tolerance of its target
// or the feedback stops changing after having moved. Feedback that never
// changes is not treated as settled, since a slow move can hold the same
// integer angles for several polls. It returns MotionIncomplete when
// timeout passes first.
func (c *Client) WaitForMotion(ctx context.Context, timeout time.Duration) (MotionStatus, error) {
	targets, err := c.disp.TargetAngles(ctx)
	if err != nil {
		return "", err
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.motion.PollInterval)
	defer ticker.Stop()

	var last []int
	still := 0
	moved := false
	for {
		angles, err := c.disp.Angles(wctx)
		switch {
		case err == nil:
		case wctx.Err() != nil && ctx.Err() == nil:
			return MotionIncomplete, nil
		default:
			return "", err
		}

		if withinTolerance(angles, targets, c.motion.Tolerance) {
			return MotionComplete, nil
		}
		switch {
		case last == nil:
		case slices.Equal(angles, last):
			still++
			if moved && still >= c.motion.SettlePolls {
				c.logger.Debug("Motion settled away from target",
					zap.Ints("angles", angles),
					zap.Ints("targets", targets))
				return MotionSettled, nil
			}
		default:
			moved = true
			still = 0
		}
		last = angles

		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return MotionIncomplete, nil
		case <-ticker.C:
		}
	}
}

func withinTolerance(angles, targets []int, tol int) bool {
	if len(angles) != len(targets) {
		return false
	}
	for i := range angles {
		d := angles[i] - targets[i]
		if d < -tol || d > tol {
			return false
		}
	}
	return true
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset puts the arm in protection mode, centres every joint and releases
// the vacuum. The first failing step aborts the sequence.
func (c *Client) Reset(ctx context.Context) error {
	pose, err := c.poses.Get(PoseReset)
	if err != nil {
		return err
	}
	steps := []func() error{
		func() error { return c.disp.SetStatus(ctx, dispatcher.StatusProtection) },
		func() error { return pause(ctx, c.motion.StepDelay) },
		func() error { return c.disp.SetAngles(ctx, pose.Angles) },
		func() error { return pause(ctx, 2*c.motion.StepDelay) },
		func() error { return c.disp.SetVacuum(ctx, false) },
	}
	return c.sequence("reset", steps)
}

// Home switches to servo mode and moves to the home pose.
func (c *Client) Home(ctx context.Context) error {
	pose, err := c.poses.Get(PoseHome)
	if err != nil {
		return err
	}
	steps := []func() error{
		func() error { return c.disp.SetStatus(ctx, dispatcher.StatusServo) },
		func() error { return pause(ctx, c.motion.StepDelay) },
		func() error { return c.disp.SetAngles(ctx, pose.Angles) },
	}
	return c.sequence("home", steps)
}

// MoveToPose commands the angles of a named pose from the library.
func (c *Client) MoveToPose(ctx context.Context, name string) error {
	pose, err := c.poses.Get(name)
	if err != nil {
		return err
	}
	if err := c.disp.SetAngles(ctx, pose.Angles); err != nil {
		return err
	}
	c.logger.Info("Moving to pose", zap.String("pose", name), zap.Ints("angles", pose.Angles))
	return nil
}

func (c *Client) sequence(name string, steps []func() error) error {
	for i, step := range steps {
		if err := step(); err != nil {
			c.logger.Error("Sequence aborted",
				zap.String("sequence", name),
				zap.Int("step", i),
				zap.Error(err))
			return err
		}
	}
	c.logger.Info("Sequence completed", zap.String("sequence", name))
	return nil
}
