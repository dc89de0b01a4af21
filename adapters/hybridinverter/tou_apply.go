package hybridinverter

import (
	"context"
	"fmt"
	"time"

	"github.com/devskill-org/solar-device-core/adapter"
	"github.com/devskill-org/solar-device-core/tou"
)

// touMasterEnableRetries and touMasterEnableDelay match the 3-attempt,
// 0.2-0.3s retry window the apply protocol requires for the
// read-modify-write of the master enable register.
const touMasterEnableRetries = 3

var touMasterEnableDelay = 250 * time.Millisecond

// ensureMasterEnable reads the TOU master-enable register and, if bit 0
// or any of day-bits 1..7 are not set, writes the corrected value.
// Makes up to 3 attempts on transient failures.
func (a *Adapter) ensureMasterEnable(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < touMasterEnableRetries; attempt++ {
		raw, err := a.ReadByIdent(ctx, "tou_enable")
		if err != nil {
			lastErr = err
			time.Sleep(touMasterEnableDelay)
			continue
		}
		n, _ := toInt(raw)
		const allBitsSet = 0xFF // bit0 enable + bits1-7 all days
		if n&allBitsSet == allBitsSet {
			return nil
		}
		if err := a.WriteByIdent(ctx, "tou_enable", n|allBitsSet); err != nil {
			lastErr = err
			time.Sleep(touMasterEnableDelay)
			continue
		}
		return nil
	}
	return lastErr
}

// applyBidirectionalWindow implements the six-window family's 5-step
// apply protocol (section 4.5). mode-source selects whether step 4
// writes a voltage or a SOC target.
func (a *Adapter) applyBidirectionalWindow(idx int, args map[string]any) adapter.Result {
	ctx := context.Background()
	if idx < 1 || idx > 6 {
		return adapter.Fail(fmt.Sprintf("window index %d out of range 1..6", idx))
	}
	w := tou.Normalize(args, a.currentSOC())

	if err := a.ensureMasterEnable(ctx); err != nil {
		return adapter.Fail(err.Error())
	}

	if err := a.WriteByIdent(ctx, fmt.Sprintf("prog%d_time", idx), w.StartTime); err != nil {
		return adapter.Fail(err.Error())
	}
	time.Sleep(interWriteDelay)

	if err := a.WriteByIdent(ctx, fmt.Sprintf("prog%d_power_w", idx), w.PowerW); err != nil {
		return adapter.Fail(err.Error())
	}
	time.Sleep(interWriteDelay)

	modeSource, _ := toInt(mustRead(a, ctx, "battery_mode_source"))
	if modeSource == 0 {
		if w.TargetVoltageV != nil {
			if err := a.WriteByIdent(ctx, fmt.Sprintf("prog%d_voltage_v", idx), *w.TargetVoltageV); err != nil {
				return adapter.Fail(err.Error())
			}
		}
	} else if w.TargetSOCPct != nil {
		if err := a.WriteByIdent(ctx, fmt.Sprintf("prog%d_capacity_pct", idx), int(*w.TargetSOCPct)); err != nil {
			return adapter.Fail(err.Error())
		}
	}
	time.Sleep(interWriteDelay)

	chargeMode := 0
	if w.PowerW != 0 && w.IsChargeWindow(a.currentSOC()) {
		chargeMode = 0x0001
	}
	if err := a.WriteByIdent(ctx, fmt.Sprintf("prog%d_charge_mode", idx), chargeMode); err != nil {
		return adapter.Fail(err.Error())
	}

	return adapter.Ok()
}

// applySplitWindow implements the split charge/discharge family: 3
// charge + 3 discharge windows, each with individually addressed
// power/end-SOC/start-end-time registers and no computed direction.
func (a *Adapter) applySplitWindow(idx int, args map[string]any, isCharge bool) adapter.Result {
	ctx := context.Background()
	if idx < 1 || idx > 3 {
		return adapter.Fail(fmt.Sprintf("window index %d out of range 1..3", idx))
	}
	prefix := "discharge"
	startKey, endKey, socKey := "dch_start", "dch_end", "discharge_end_soc"
	if isCharge {
		prefix = "charge"
		startKey, endKey, socKey = "chg_start", "chg_end", "charge_end_soc"
	}
	w := tou.Normalize(args, nil)

	if v, ok := args[startKey]; ok {
		if err := a.WriteByIdent(ctx, fmt.Sprintf("%s_start_time_%d", prefix, idx), v); err != nil {
			return adapter.Fail(err.Error())
		}
	} else if w.StartTime != "" {
		if err := a.WriteByIdent(ctx, fmt.Sprintf("%s_start_time_%d", prefix, idx), w.StartTime); err != nil {
			return adapter.Fail(err.Error())
		}
	}
	if v, ok := args[endKey]; ok {
		if err := a.WriteByIdent(ctx, fmt.Sprintf("%s_end_time_%d", prefix, idx), v); err != nil {
			return adapter.Fail(err.Error())
		}
	}
	if err := a.WriteByIdent(ctx, fmt.Sprintf("%s_power_%d", prefix, idx), w.PowerW); err != nil {
		return adapter.Fail(err.Error())
	}
	if v, ok := args[socKey]; ok {
		if err := a.WriteByIdent(ctx, fmt.Sprintf("%s_end_soc_%d", prefix, idx), v); err != nil {
			return adapter.Fail(err.Error())
		}
	} else if w.TargetSOCPct != nil {
		if err := a.WriteByIdent(ctx, fmt.Sprintf("%s_end_soc_%d", prefix, idx), int(*w.TargetSOCPct)); err != nil {
			return adapter.Fail(err.Error())
		}
	}
	if freq, ok := args["frequency"]; ok {
		_ = a.WriteByIdent(ctx, fmt.Sprintf("%s_frequency_%d", prefix, idx), freq)
	}

	return adapter.Ok()
}

func mustRead(a *Adapter, ctx context.Context, id string) any {
	v, err := a.ReadByIdent(ctx, id)
	if err != nil {
		return nil
	}
	return v
}
