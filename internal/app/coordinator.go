package app

import (
	"context"
	"errors"
	"sync"

	"aprueba/api/internal/erp"
)

// Action is the user-facing mutation verb.
type Action string

const (
	ActionApprove   Action = "aprobar"
	ActionUnapprove Action = "desaprobar"
)

func ParseAction(raw string) (Action, bool) {
	switch Action(raw) {
	case ActionApprove:
		return ActionApprove, true
	case ActionUnapprove:
		return ActionUnapprove, true
	}
	return "", false
}

type CommandState string

const (
	CommandIdle                 CommandState = "idle"
	CommandAwaitingConfirmation CommandState = "awaiting_confirmation"
	CommandExecuting            CommandState = "executing"
	CommandFailed               CommandState = "failed"
)

// Command is the single pending approve/unapprove intent. There is exactly
// zero or one across the whole service: confirmation is modal, and a second
// document cannot enter the pipeline while one is unsettled.
type Command struct {
	Kind   erp.Kind     `json:"kind,omitempty"`
	Key    erp.Key      `json:"key"`
	Action Action       `json:"action,omitempty"`
	State  CommandState `json:"state"`
	Error  string       `json:"error,omitempty"`
}

var (
	ErrCommandBusy      = errors.New("another approval command is pending")
	ErrCommandExecuting = errors.New("command is executing and cannot be changed")
	ErrNoCommand        = errors.New("no command awaiting confirmation")
)

// Coordinator serializes mutations: at most one approve/unapprove is in
// flight at any time, which keeps two rapid clicks from issuing duplicate
// mutations while one is still settling. Unrelated approvals serialize too;
// approvals are rare, human-paced actions.
type Coordinator struct {
	mu  sync.Mutex
	cmd Command

	// execute performs the mutation exactly once per confirm.
	execute func(ctx context.Context, sess Session, kind erp.Kind, key erp.Key, action Action) (erp.Receipt, error)
	// onSettled dispatches cache invalidation after a successful mutation.
	onSettled func(ctx context.Context, sess Session, kind erp.Kind)
}

func NewCoordinator(
	execute func(ctx context.Context, sess Session, kind erp.Kind, key erp.Key, action Action) (erp.Receipt, error),
	onSettled func(ctx context.Context, sess Session, kind erp.Kind),
) *Coordinator {
	return &Coordinator{
		cmd:       Command{State: CommandIdle},
		execute:   execute,
		onSettled: onSettled,
	}
}

// Request captures the intent and opens the confirmation step. No network
// call happens here. Rejected while any other command is unsettled, never
// silently redirected to a different document.
func (c *Coordinator) Request(kind erp.Kind, key erp.Key, action Action) (Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd.State != CommandIdle {
		return c.cmd, ErrCommandBusy
	}
	c.cmd = Command{Kind: kind, Key: key, Action: action, State: CommandAwaitingConfirmation}
	return c.cmd, nil
}

// Cancel declines a command that has not been sent. A command already
// executing runs to completion; there is no mid-flight cancellation.
func (c *Coordinator) Cancel() (Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.cmd.State {
	case CommandAwaitingConfirmation, CommandFailed:
		c.cmd = Command{State: CommandIdle}
		return c.cmd, nil
	case CommandExecuting:
		return c.cmd, ErrCommandExecuting
	default:
		return c.cmd, ErrNoCommand
	}
}

// Current returns a snapshot of the pending command.
func (c *Coordinator) Current() Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd
}

// Confirm executes the captured mutation. Allowed from awaiting-confirmation
// and from failed (user-initiated retry re-sends the same mutation). On
// success the command settles, invalidation is dispatched, and the slot
// resets to idle. On conflict or transport failure the command stays failed
// until the user retries or cancels. An auth failure abandons the command:
// retrying cannot help an expired credential.
func (c *Coordinator) Confirm(ctx context.Context, sess Session) (erp.Receipt, Command, error) {
	c.mu.Lock()
	switch c.cmd.State {
	case CommandAwaitingConfirmation, CommandFailed:
	case CommandExecuting:
		c.mu.Unlock()
		return erp.Receipt{}, c.Current(), ErrCommandExecuting
	default:
		c.mu.Unlock()
		return erp.Receipt{}, c.Current(), ErrNoCommand
	}
	c.cmd.State = CommandExecuting
	c.cmd.Error = ""
	cmd := c.cmd
	c.mu.Unlock()

	receipt, err := c.execute(ctx, sess, cmd.Kind, cmd.Key, cmd.Action)

	c.mu.Lock()
	if err != nil {
		var authErr *erp.AuthError
		if errors.As(err, &authErr) {
			c.cmd = Command{State: CommandIdle}
			c.mu.Unlock()
			return erp.Receipt{}, Command{State: CommandIdle}, err
		}
		c.cmd.State = CommandFailed
		c.cmd.Error = err.Error()
		failed := c.cmd
		c.mu.Unlock()
		return erp.Receipt{}, failed, err
	}
	// Hold the slot until invalidation is dispatched so a new command cannot
	// interleave with the refresh of the lists it is about to read.
	c.mu.Unlock()

	if c.onSettled != nil {
		c.onSettled(ctx, sess, cmd.Kind)
	}

	c.mu.Lock()
	c.cmd = Command{State: CommandIdle}
	c.mu.Unlock()
	return receipt, Command{State: CommandIdle}, nil
}
