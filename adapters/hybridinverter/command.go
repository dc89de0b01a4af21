package hybridinverter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/devskill-org/solar-device-core/adapter"
)

// HandleCommand implements the generic command action surface. Actions
// this family does not implement return Ok() (no-op) rather than an
// error, so upstream generic actions stay portable across adapters.
func (a *Adapter) HandleCommand(cmd adapter.Command) adapter.Result {
	switch cmd.Action {
	case "set_work_mode":
		return a.setWorkMode(cmd.Args)
	case "set_grid_charge":
		return a.setGridCharge(cmd.Args)
	case "set_discharge_limits":
		return a.setDischargeLimits(cmd.Args)
	case "set_max_grid_charge_power_w":
		return a.setMaxPowerAmps("max_grid_charge_power_a", cmd.Args)
	case "set_max_charge_power_w":
		return a.setMaxPowerAmps("max_charge_power_a", cmd.Args)
	case "set_max_discharge_power_w":
		return a.setMaxPowerAmps("max_discharge_power_a", cmd.Args)
	case "write":
		return a.writeAction(cmd.Args)
	case "write_many":
		return a.writeManyAction(cmd.Args)
	}

	if a.cfg.Family == FamilyBidirectional {
		if idx, ok := windowIndex(cmd.Action, "set_tou_window"); ok {
			return a.applyBidirectionalWindow(idx, cmd.Args)
		}
	} else {
		if idx, ok := windowIndex(cmd.Action, "set_tou_window"); ok {
			return a.applySplitWindow(idx, cmd.Args, true)
		}
		if idx, ok := windowIndex(cmd.Action, "set_tou_discharge_window"); ok {
			return a.applySplitWindow(idx, cmd.Args, false)
		}
	}

	return adapter.Ok()
}

func windowIndex(action, prefix string) (int, bool) {
	if len(action) <= len(prefix) {
		return 0, false
	}
	if action[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.Atoi(action[len(prefix):])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (a *Adapter) setWorkMode(args map[string]any) adapter.Result {
	mode, ok := args["mode"]
	if !ok {
		return adapter.Fail("missing mode")
	}
	if err := a.WriteByIdent(context.Background(), "work_mode", mode); err != nil {
		return adapter.Fail(err.Error())
	}
	return adapter.Ok()
}

func (a *Adapter) setGridCharge(args map[string]any) adapter.Result {
	enabled, _ := args["enabled"].(bool)
	value := 1 // Disabled
	if enabled {
		value = 0 // Enabled
	}
	if err := a.WriteByIdent(context.Background(), "ac_charge_battery", value); err != nil {
		return adapter.Fail(err.Error())
	}
	return adapter.Ok()
}

func (a *Adapter) setDischargeLimits(args map[string]any) adapter.Result {
	if eod, ok := args["end_of_discharge_soc"]; ok {
		if err := a.WriteByIdent(context.Background(), "discharge_end_soc", eod); err != nil {
			return adapter.Fail(err.Error())
		}
	}
	return adapter.Ok()
}

func (a *Adapter) setMaxPowerAmps(registerID string, args map[string]any) adapter.Result {
	watts, err := argFloat(args, "power_w")
	if err != nil {
		return adapter.Fail(err.Error())
	}
	amps := a.ampsFromPower(watts)
	if err := a.WriteByIdent(context.Background(), registerID, amps); err != nil {
		return adapter.Fail(err.Error())
	}
	return adapter.Ok()
}

func (a *Adapter) writeAction(args map[string]any) adapter.Result {
	id, _ := args["id"].(string)
	value, ok := args["value"]
	if id == "" || !ok {
		return adapter.Fail("write requires id and value")
	}
	if err := a.WriteByIdent(context.Background(), id, value); err != nil {
		return adapter.Fail(err.Error())
	}
	return adapter.Ok()
}

func (a *Adapter) writeManyAction(args map[string]any) adapter.Result {
	items, ok := args["items"].(map[string]any)
	if !ok {
		return adapter.Fail("write_many requires items")
	}
	for id, value := range items {
		if err := a.WriteByIdent(context.Background(), id, value); err != nil {
			return adapter.Fail(fmt.Sprintf("%s: %v", id, err))
		}
	}
	return adapter.Ok()
}

func argFloat(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	}
	return 0, fmt.Errorf("%s has unexpected type %T", key, v)
}

// interWriteDelay avoids bus conflicts with a concurrently running poll
// cycle, per section 4.5.
const interWriteDelay = 200 * time.Millisecond
