// Package hybridinverter implements the generic register-driven hybrid
// inverter adapter: single- or three-phase, Modbus RTU/TCP, with both
// bidirectional and split charge/discharge TOU window families.
package hybridinverter

import (
	"context"
	"fmt"
	"time"

	"github.com/devskill-org/solar-device-core/adapter"
	"github.com/devskill-org/solar-device-core/config"
	"github.com/devskill-org/solar-device-core/errkind"
	"github.com/devskill-org/solar-device-core/registermap"
	"github.com/devskill-org/solar-device-core/telemetry"
	"github.com/devskill-org/solar-device-core/tou"
	modbustransport "github.com/devskill-org/solar-device-core/transport/modbus"
)

// Family selects which TOU window layout and command surface the
// underlying firmware speaks.
type Family string

const (
	FamilyBidirectional Family = "bidirectional" // single six-window family, direction computed (Powdrive-style)
	FamilySplit         Family = "split"         // 3 charge + 3 discharge windows, explicit type (Senergy-style)
)

// Config holds the adapter's static configuration, resolved once at
// construction.
type Config struct {
	Family      Family
	PhaseConfig PhaseType // explicit override; PhaseUnknown enables auto-detection
}

// Adapter implements the full capability surface for one hybrid
// inverter.
type Adapter struct {
	cfg     Config
	session *modbustransport.SessionManager
	execCtx *modbustransport.ExecutorContext
	regMap  *registermap.Map
	mapper  *telemetry.Mapper

	lastTel *telemetry.Telemetry
}

// New constructs an adapter from a loaded register map and modbus
// config. The register map is loaded once by the caller; the session is
// created unconnected.
func New(cfg Config, mcfg config.ModbusConfig, regMap *registermap.Map) *Adapter {
	return &Adapter{
		cfg:     cfg,
		session: modbustransport.NewSessionManager(mcfg),
		execCtx: modbustransport.NewExecutorContext(),
		regMap:  regMap,
		mapper:  telemetry.NewMapper(regMap),
	}
}

// Connect is idempotent; the underlying session lazily connects on
// first use, matching the spec's "adapters connect lazily on first
// poll" lifecycle rule. Connect is still exposed so callers can
// eagerly probe reachability.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.session.EnsureConnected(a.execCtx)
}

func (a *Adapter) Close() error {
	return a.session.Close()
}

func (a *Adapter) CheckConnectivity(ctx context.Context) bool {
	_, ok := a.ReadSerialNumber(ctx)
	return ok
}

func (a *Adapter) ReadSerialNumber(ctx context.Context) (string, bool) {
	v, err := a.ReadByIdent(ctx, "serial_number")
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (a *Adapter) read(kind registermap.Kind, addr uint16, count int) ([]uint16, error) {
	if kind == registermap.KindInput {
		return a.session.ReadInputRegisters(context.Background(), a.execCtx, addr, uint16(count))
	}
	return a.session.ReadHoldingRegisters(context.Background(), a.execCtx, addr, uint16(count))
}

func (a *Adapter) write(kind registermap.Kind, addr uint16, words []uint16) error {
	return a.session.WriteRegisters(context.Background(), a.execCtx, addr, words)
}

func (a *Adapter) ReadByIdent(ctx context.Context, id string) (any, error) {
	if err := a.Connect(ctx); err != nil {
		return nil, err
	}
	return a.regMap.ReadByIdent(id, a.read)
}

func (a *Adapter) WriteByIdent(ctx context.Context, id string, value any) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}
	return a.regMap.WriteByIdent(id, value, a.write)
}

// Poll performs the full read path: read-all-registers, map to standard
// ids, compute derived fields, normalize sign, and emit a Telemetry
// record with raw keys retained under Extra.
func (a *Adapter) Poll(ctx context.Context) *telemetry.Telemetry {
	tel := &telemetry.Telemetry{TS: time.Now()}

	if err := a.Connect(ctx); err != nil {
		tel.Extra = map[string]any{"error": err.Error()}
		return tel
	}

	device := a.regMap.ReadAllChunked(a.read)
	tel.Extra = device
	raw := a.mapper.MapToStandard(device)

	tel.PVPowerW = floatField(raw, "pv_power_w")
	tel.PV1PowerW = floatField(raw, "pv1_power_w")
	tel.PV2PowerW = floatField(raw, "pv2_power_w")
	tel.LoadPowerW = floatField(raw, "load_power_w")
	tel.GridPowerW = floatField(raw, "grid_power_w")
	tel.BattPowerW = normalizeBatteryPower(floatField(raw, "batt_power_w"), battPowerInverted(raw))
	tel.BattSOCPct = floatField(raw, "batt_soc_pct")
	tel.BattVoltageV = floatField(raw, "batt_voltage_v")
	tel.BattCurrentA = floatField(raw, "batt_current_a")
	tel.BattTempC = floatField(raw, "batt_temp_c")
	tel.InverterTempC = floatField(raw, "inverter_temp_c")
	tel.DeviceModel, _ = raw["device_model"].(string)
	tel.SerialNumber, _ = raw["serial_number"].(string)
	tel.RatedPowerW = floatField(raw, "rated_power_w")
	tel.TodayEnergy = floatField(raw, "today_energy")
	tel.TotalEnergy = floatField(raw, "total_energy")
	tel.TodayLoadEnergy = floatField(raw, "today_load_energy")
	tel.TodayImportEnergy = floatField(raw, "today_import_energy")
	tel.TodayExportEnergy = floatField(raw, "today_export_energy")

	tel.InverterMode = decodeMode(raw["inverter_mode_raw"])
	tel.OffGridMode = decodeOffGrid(raw["grid_status_raw"])
	tel.ErrorCode = decodeFault(raw)

	meta := DetectMetadata(a.cfg.PhaseConfig, raw, 1)
	if meta.ShouldPublishPhaseData() {
		tel.Phase = buildPhaseTelemetry(raw)
	}

	if tel.BattPowerW == nil && tel.BattVoltageV != nil && tel.BattCurrentA != nil {
		p := *tel.BattVoltageV * *tel.BattCurrentA
		tel.BattPowerW = &p
	}

	a.lastTel = tel
	return tel
}

func battPowerInverted(raw map[string]any) bool {
	v, ok := raw["batt_power_inverted"]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// normalizeBatteryPower applies the universal sign convention: positive
// means charging. Some vendors report the opposite sign natively.
func normalizeBatteryPower(p *float64, invert bool) *float64 {
	if p == nil {
		return nil
	}
	if invert {
		v := -*p
		return &v
	}
	return p
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

var modeLabels = map[int]string{
	0: "Standby",
	1: "Self-check",
	2: "Normal",
	3: "Alarm",
	4: "Fault",
}

func decodeMode(raw any) string {
	n, ok := toInt(raw)
	if !ok {
		return ""
	}
	if label, ok := modeLabels[n]; ok {
		return label
	}
	return fmt.Sprintf("Unknown(%d)", n)
}

// decodeOffGrid reads bit 2 of the raw grid-status word.
func decodeOffGrid(raw any) bool {
	n, ok := toInt(raw)
	if !ok {
		return false
	}
	return n&(1<<2) != 0
}

// decodeFault scans fault_word_0..3; the first nonzero word yields
// "F<i>:<hex>".
func decodeFault(raw map[string]any) string {
	for i := 0; i < 4; i++ {
		v, ok := raw[fmt.Sprintf("fault_word_%d", i)]
		if !ok {
			continue
		}
		n, ok := toInt(v)
		if !ok || n == 0 {
			continue
		}
		return fmt.Sprintf("F%d:%04X", i, uint16(n))
	}
	return ""
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	}
	return 0, false
}

func buildPhaseTelemetry(raw map[string]any) *telemetry.PhaseTelemetry {
	return &telemetry.PhaseTelemetry{
		LoadL1PowerW: floatField(raw, "load_l1_power_w"),
		LoadL2PowerW: floatField(raw, "load_l2_power_w"),
		LoadL3PowerW: floatField(raw, "load_l3_power_w"),
		LoadL1VoltageV: floatField(raw, "load_l1_voltage_v"),
		LoadL2VoltageV: floatField(raw, "load_l2_voltage_v"),
		LoadL3VoltageV: floatField(raw, "load_l3_voltage_v"),
		GridL1PowerW: floatField(raw, "grid_l1_power_w"),
		GridL2PowerW: floatField(raw, "grid_l2_power_w"),
		GridL3PowerW: floatField(raw, "grid_l3_power_w"),
		GridL1VoltageV: floatField(raw, "grid_l1_voltage_v"),
		GridL2VoltageV: floatField(raw, "grid_l2_voltage_v"),
		GridL3VoltageV: floatField(raw, "grid_l3_voltage_v"),
		GridFrequencyHz: floatField(raw, "grid_frequency_hz"),
		GridLineVoltageABV: floatField(raw, "grid_line_voltage_ab_v"),
		GridLineVoltageBCV: floatField(raw, "grid_line_voltage_bc_v"),
		GridLineVoltageCAV: floatField(raw, "grid_line_voltage_ca_v"),
	}
}

// TOUWindowCapability reports the scheduler shape for this adapter's
// family.
func (a *Adapter) TOUWindowCapability() tou.Capability {
	if a.cfg.Family == FamilyBidirectional {
		return tou.Capability{MaxWindows: 6, Bidirectional: true, MaxChargeWindows: 6, MaxDischargeWindows: 6}
	}
	return tou.Capability{MaxWindows: 6, Bidirectional: false, SeparateChargeDischarge: true, MaxChargeWindows: 3, MaxDischargeWindows: 3}
}

var _ adapter.TOUCapable = (*Adapter)(nil)
var _ adapter.CommandHandler = (*Adapter)(nil)

func (a *Adapter) currentSOC() *float64 {
	if a.lastTel != nil {
		return a.lastTel.BattSOCPct
	}
	return nil
}

// ampsFromPower converts a watts target to an amps target using the
// last-known battery voltage (falling back to 52.0V), clamped 0..185A —
// required because one vendor's grid-charge/discharge power registers
// are expressed in amps, not watts.
func (a *Adapter) ampsFromPower(watts float64) float64 {
	voltage := 52.0
	if v, ok := a.regMap.Find("battery_voltage_v"); ok {
		if words, err := a.read(v.Kind, v.Addr, v.Size); err == nil {
			if dec, err := registermap.Decode(v, words); err == nil {
				if f, ok := dec.(float64); ok {
					voltage = f
				}
			}
		}
	} else if a.lastTel != nil && a.lastTel.BattVoltageV != nil {
		voltage = *a.lastTel.BattVoltageV
	}
	amps := watts / voltage
	if amps < 0 {
		amps = 0
	}
	if amps > 185 {
		amps = 185
	}
	return amps
}
