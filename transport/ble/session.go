package ble

import (
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/devskill-org/solar-device-core/errkind"
)

var adapter = bluetooth.DefaultAdapter

// Pack is one persistent GATT connection to a JK-BMS pack: a notify
// characteristic and a write characteristic on the vendor service.
type Pack struct {
	address string

	device  bluetooth.Device
	writeCh bluetooth.DeviceCharacteristic
	notifyCh bluetooth.DeviceCharacteristic

	mu        sync.Mutex
	buf       []byte
	connected bool

	pending chan []byte // delivers one completed, validated response frame
}

// NewPack returns an unconnected handle for the given BLE address.
func NewPack(address string) *Pack {
	return &Pack{address: address, pending: make(chan []byte, 1)}
}

// Connect discovers the vendor service, uses the first characteristic
// matching CharUUID for both writes and notifications, and starts
// notifications. No GATT handle is preferred and characteristics are
// not chosen by their notify or write properties. Callers are responsible for serializing pack connects
// with >=2s spacing — the host BLE stack rejects concurrent connect
// attempts with "InProgress", which this call does not retry.
func (p *Pack) Connect(timeout time.Duration) error {
	if err := adapter.Enable(); err != nil {
		return errkind.Wrap(errkind.TransportUnavailable, err, "enabling BLE adapter")
	}

	mac, err := bluetooth.ParseMAC(p.address)
	if err != nil {
		return errkind.Wrap(errkind.TransportUnavailable, err, "parsing BLE address %s", p.address)
	}

	device, err := adapter.Connect(bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(timeout),
	})
	if err != nil {
		return errkind.Wrap(errkind.TransportUnavailable, err, "connecting to pack %s", p.address)
	}
	p.device = device

	svcUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return errkind.Wrap(errkind.ProtocolError, err, "parsing service UUID")
	}
	services, err := device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		return errkind.Wrap(errkind.ProtocolError, err, "discovering JK-BMS service on %s", p.address)
	}

	charUUID, err := bluetooth.ParseUUID(CharUUID)
	if err != nil {
		return errkind.Wrap(errkind.ProtocolError, err, "parsing characteristic UUID")
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil || len(chars) == 0 {
		return errkind.Wrap(errkind.ProtocolError, err, "discovering JK-BMS characteristic on %s", p.address)
	}

	// The vendor exposes a single characteristic used for both notify
	// and write.
	p.writeCh = chars[0]
	p.notifyCh = chars[0]

	if err := p.notifyCh.EnableNotifications(p.onNotify); err != nil {
		return errkind.Wrap(errkind.ProtocolError, err, "enabling notifications on %s", p.address)
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *Pack) onNotify(data []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, data...)
	buf := p.buf
	if len(buf) >= minResponseSize {
		p.buf = nil
	}
	p.mu.Unlock()

	if len(buf) >= minResponseSize && ValidateResponse(buf[:minResponseSize]) {
		select {
		case p.pending <- buf[:minResponseSize]:
		default:
		}
	}
}

// Connected reports whether the pack currently believes it holds a live
// connection.
func (p *Pack) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Close tears down the connection.
func (p *Pack) Close() error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return p.device.Disconnect()
}

// Query sends a command and waits up to timeout for a validated
// response frame.
func (p *Pack) Query(cmd byte, value []byte, timeout time.Duration) ([]byte, error) {
	frame := BuildCommand(cmd, value)
	if _, err := p.writeCh.WriteWithoutResponse(frame); err != nil {
		return nil, errkind.Wrap(errkind.TransportUnavailable, err, "writing command 0x%02X to %s", cmd, p.address)
	}
	select {
	case resp := <-p.pending:
		return resp, nil
	case <-time.After(timeout):
		return nil, errkind.Wrap(errkind.Timeout, nil, "waiting for response to command 0x%02X", cmd)
	}
}
