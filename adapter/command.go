// Package adapter defines the uniform capability surface every device
// adapter in this module exposes to upstream callers.
package adapter

import "github.com/devskill-org/solar-device-core/tou"

// Command is a single handle_command invocation: an action name plus
// its loosely-typed arguments.
type Command struct {
	Action string
	Args   map[string]any
}

// Result is the outcome of a command. Adapters that do not implement a
// given action return {OK: true} rather than an error, so upstream
// generic actions remain portable across adapter families.
type Result struct {
	OK     bool
	Reason string
}

// Ok builds a successful result.
func Ok() Result { return Result{OK: true} }

// Fail builds a failed result with a reason.
func Fail(reason string) Result { return Result{OK: false, Reason: reason} }

// CommandHandler implements the generic handle_command surface.
type CommandHandler interface {
	HandleCommand(cmd Command) Result
}

// TOUCapable is implemented by adapters exposing a TOU window
// capability and apply surface.
type TOUCapable interface {
	TOUWindowCapability() tou.Capability
}
