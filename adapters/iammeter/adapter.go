// Package iammeter implements the read-only Modbus-TCP adapter for
// IAMMeter energy meters. Firmware across the WEM3080/WEM3080T family
// exposes the same quantities through two different register layouts
// (an older "legacy" block and a newer "extended" block); the extended
// block returns zero on firmware that doesn't populate it, so every
// quantity has a configurable preferred layout with a fallback to the
// other when the preferred one reads zero or is absent.
package iammeter

import (
	"context"
	"time"

	"github.com/devskill-org/solar-device-core/config"
	"github.com/devskill-org/solar-device-core/registermap"
	"github.com/devskill-org/solar-device-core/telemetry"
	modbustransport "github.com/devskill-org/solar-device-core/transport/modbus"
)

// Adapter polls one IAMMeter device over Modbus/TCP.
type Adapter struct {
	cfg     config.IAMMeterConfig
	session *modbustransport.SessionManager
	execCtx *modbustransport.ExecutorContext
	regMap  *registermap.Map

	dailyForwardWh, dailyReverseWh float64
	lastForwardKWh, lastReverseKWh *float64
	lastResetDate                 string // YYYY-MM-DD
}

// New constructs an adapter from a loaded register map and Modbus/TCP
// connection config.
func New(cfg config.IAMMeterConfig, regMap *registermap.Map) *Adapter {
	mcfg := config.ModbusConfig{Transport: "tcp", Port: cfg.Address, SlaveID: cfg.SlaveID, Timeout: 2 * time.Second}
	return &Adapter{
		cfg:     cfg,
		session: modbustransport.NewSessionManager(mcfg),
		execCtx: modbustransport.NewExecutorContext(),
		regMap:  regMap,
	}
}

func (a *Adapter) Connect(ctx context.Context) error {
	return a.session.EnsureConnected(a.execCtx)
}

func (a *Adapter) Close() error {
	return a.session.Close()
}

// CheckConnectivity reads the serial number register block, which is
// present on every firmware revision regardless of legacy/extended
// layout.
func (a *Adapter) CheckConnectivity(ctx context.Context) bool {
	if err := a.Connect(ctx); err != nil {
		return false
	}
	_, err := a.session.ReadHoldingRegisters(ctx, a.execCtx, 0x38, 8)
	return err == nil
}

func (a *Adapter) read(kind registermap.Kind, addr uint16, count int) ([]uint16, error) {
	if kind == registermap.KindInput {
		return a.session.ReadInputRegisters(context.Background(), a.execCtx, addr, uint16(count))
	}
	return a.session.ReadHoldingRegisters(context.Background(), a.execCtx, addr, uint16(count))
}

// layoutOrder returns the candidate ids in fallback priority order:
// preferred layout first, then the other. The meter's documented quirk
// is that whichever layout is not "native" to a given firmware often
// reads back zero rather than being absent, so a present-but-zero value
// from the preferred layout still falls through to the alternate.
func (a *Adapter) layoutOrder(legacyID, extendedID string) []string {
	if a.cfg.PreferLegacyRegisters {
		return []string{legacyID, extendedID}
	}
	return []string{extendedID, legacyID}
}

// firstNonZero walks ids in order and returns the first present value
// that converts to a nonzero float; falls back to the first present
// value (even if zero) if every candidate is zero, so an actually-zero
// reading is still reported rather than dropped.
func firstNonZero(raw map[string]any, ids []string) (float64, bool) {
	var firstPresent *float64
	for _, id := range ids {
		f := floatField(raw, id)
		if f == nil {
			continue
		}
		if firstPresent == nil {
			firstPresent = f
		}
		if *f != 0 {
			return *f, true
		}
	}
	if firstPresent != nil {
		return *firstPresent, true
	}
	return 0, false
}

// resolveQuantity applies the three-tier fallback documented for the
// meter: preferred register id, then the alternate id, then — only if
// both are absent or read back zero — the hardcoded direct-address
// read. The hardcoded tier is injected as a closure so the fallback
// decision itself can be tested without a live Modbus session.
func resolveQuantity(raw map[string]any, ids []string, hardcoded func() (float64, bool)) float64 {
	v, _ := firstNonZero(raw, ids)
	if v == 0 {
		if hv, ok := hardcoded(); ok {
			return hv
		}
	}
	return v
}

// hardcodedRead is the adapter's last-resort fallback tier: a direct
// single-register read at a fixed address, used only once both the
// legacy and extended register-map ids for a quantity are absent or
// read back zero.
func (a *Adapter) hardcodedRead(addr uint16, scale float64) (float64, bool) {
	if scale == 0 {
		scale = 1
	}
	regs, err := a.session.ReadHoldingRegisters(context.Background(), a.execCtx, addr, 1)
	if err != nil || len(regs) == 0 || regs[0] == 0 {
		return 0, false
	}
	return float64(regs[0]) / scale, true
}

func floatField(raw map[string]any, key string) *float64 {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case float64:
		return &x
	case int64:
		f := float64(x)
		return &f
	case int:
		f := float64(x)
		return &f
	}
	return nil
}

// Poll reads every register, resolves each quantity through its
// legacy/extended fallback order, and computes daily energy
// accumulators with rollover and calendar-day reset.
func (a *Adapter) Poll(ctx context.Context) *telemetry.MeterTelemetry {
	tel := &telemetry.MeterTelemetry{TS: time.Now(), Extra: map[string]any{}}

	if err := a.Connect(ctx); err != nil {
		tel.Extra["error"] = err.Error()
		return tel
	}

	raw := a.regMap.ReadAllChunked(a.read)
	tel.Extra = raw

	voltage := resolveQuantity(raw, a.layoutOrder("voltage_phase_a_legacy", "voltage_phase_a"),
		func() (float64, bool) { return a.hardcodedRead(a.cfg.HardcodedVoltageReg, a.cfg.HardcodedVoltageScale) })
	tel.VoltageV = voltage

	current := resolveQuantity(raw, a.layoutOrder("current_phase_a_legacy", "current_phase_a"),
		func() (float64, bool) { return a.hardcodedRead(a.cfg.HardcodedCurrentReg, a.cfg.HardcodedCurrentScale) })
	tel.CurrentA = current

	power, ok := firstNonZero(raw, a.layoutOrder("sum_power_legacy", "total_power"))
	if !ok || power == 0 {
		if v, ok := firstNonZero(raw, a.layoutOrder("active_power_phase_a_legacy", "active_power_phase_a")); ok {
			power = v
		}
	}
	if power == 0 {
		if v, ok := a.hardcodedRead(a.cfg.HardcodedPowerReg, 1); ok {
			power = v
		}
	}
	tel.PowerW = power

	frequency := resolveQuantity(raw, a.layoutOrder("frequency_legacy", "frequency"),
		func() (float64, bool) { return a.hardcodedRead(a.cfg.HardcodedFrequencyReg, a.cfg.HardcodedFrequencyScale) })
	if frequency == 0 {
		frequency = 50.0
	}
	tel.FrequencyHz = frequency

	powerFactor := resolveQuantity(raw, a.layoutOrder("power_factor_phase_a_legacy", "power_factor_phase_a"),
		func() (float64, bool) { return a.hardcodedRead(a.cfg.HardcodedPowerFactorReg, a.cfg.HardcodedPowerFactorScale) })
	if powerFactor == 0 {
		powerFactor = 1.0
	}
	tel.PowerFactor = powerFactor

	if v, ok := firstNonZero(raw, a.layoutOrder("voltage_phase_b_legacy", "voltage_phase_b")); ok {
		tel.L2VoltageV = &v
	}
	if v, ok := firstNonZero(raw, a.layoutOrder("voltage_phase_c_legacy", "voltage_phase_c")); ok {
		tel.L3VoltageV = &v
	}
	tel.L1VoltageV = &tel.VoltageV
	if v, ok := firstNonZero(raw, a.layoutOrder("current_phase_b_legacy", "current_phase_b")); ok {
		tel.L2CurrentA = &v
	}
	if v, ok := firstNonZero(raw, a.layoutOrder("current_phase_c_legacy", "current_phase_c")); ok {
		tel.L3CurrentA = &v
	}
	tel.L1CurrentA = &tel.CurrentA
	if v, ok := firstNonZero(raw, a.layoutOrder("active_power_phase_b_legacy", "active_power_phase_b")); ok {
		tel.L2PowerW = &v
	}
	if v, ok := firstNonZero(raw, a.layoutOrder("active_power_phase_c_legacy", "active_power_phase_c")); ok {
		tel.L3PowerW = &v
	}
	tel.L1PowerW = &tel.PowerW

	forwardKWh, _ := firstNonZero(raw, a.layoutOrder("forward_energy_phase_a_legacy", "forward_energy_phase_a_pulses"))
	reverseKWh, _ := firstNonZero(raw, a.layoutOrder("reverse_energy_phase_a_legacy", "reverse_energy_phase_a_pulses"))
	tel.ForwardEnergyKWh = forwardKWh
	tel.ReverseEnergyKWh = reverseKWh

	a.applyDailyEnergy(tel, forwardKWh, reverseKWh)

	return tel
}

// applyDailyEnergy accumulates today's import/export energy from the
// cumulative meter counters: a calendar-date rollover resets both
// accumulators to zero; otherwise a negative delta (counter rollover,
// or a meter reset) discards the accumulated total and restarts from
// the current reading rather than going negative. The first reading
// only records the baseline and adds nothing.
func (a *Adapter) applyDailyEnergy(tel *telemetry.MeterTelemetry, forwardKWh, reverseKWh float64) {
	today := tel.TS.Format("2006-01-02")
	if a.lastResetDate != "" && a.lastResetDate != today {
		// zero the daily accumulator only; the last cumulative reading is
		// kept so the next delta still reflects energy since the last
		// poll rather than since an arbitrary midnight sample.
		a.dailyForwardWh = 0
		a.dailyReverseWh = 0
	}
	a.lastResetDate = today

	if a.lastForwardKWh != nil {
		delta := forwardKWh - *a.lastForwardKWh
		if delta >= 0 {
			a.dailyForwardWh += delta * 1000
		} else {
			a.dailyForwardWh = forwardKWh * 1000
		}
	}
	f := forwardKWh
	a.lastForwardKWh = &f

	if a.lastReverseKWh != nil {
		delta := reverseKWh - *a.lastReverseKWh
		if delta >= 0 {
			a.dailyReverseWh += delta * 1000
		} else {
			a.dailyReverseWh = reverseKWh * 1000
		}
	}
	r := reverseKWh
	a.lastReverseKWh = &r

	tel.TodayForwardEnergyKWh = a.dailyForwardWh / 1000
	tel.TodayReverseEnergyKWh = a.dailyReverseWh / 1000
}
