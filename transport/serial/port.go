package serial

import (
	"bufio"
	"io"
	"net"
	"strings"
	"time"

	goserial "github.com/goburrow/serial"

	"github.com/devskill-org/solar-device-core/errkind"
)

// Port is a raw byte-stream connection: a physical serial port or a TCP
// socket to an RS-485 gateway.
type Port struct {
	rwc io.ReadWriteCloser
}

// OpenSerial opens a physical serial port at the given baud rate, 8N1.
func OpenSerial(device string, baudRate int) (*Port, error) {
	p, err := goserial.Open(&goserial.Config{
		Address:  device,
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   "N",
		StopBits: 1,
		Timeout:  2 * time.Second,
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.TransportUnavailable, err, "opening serial port %s", device)
	}
	return &Port{rwc: p}, nil
}

// DialTCP connects to an RS-485 gateway or ASCII console exposed over
// TCP.
func DialTCP(address string, timeout time.Duration) (*Port, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransportUnavailable, err, "dialing %s", address)
	}
	return &Port{rwc: conn}, nil
}

func (p *Port) Close() error { return p.rwc.Close() }

// ReadChunk reads up to len(buf) bytes in one syscall-ish read, used by
// the non-blocking passive-sniffer listener loop.
func (p *Port) ReadChunk(buf []byte) (int, error) {
	return p.rwc.Read(buf)
}

func (p *Port) Write(b []byte) (int, error) {
	return p.rwc.Write(b)
}

// Console wraps a Port with line-oriented helpers for the ASCII console
// adapter family: write a command, then collect response lines until a
// terminator literal appears or the deadline passes.
type Console struct {
	port   *Port
	reader *bufio.Reader
}

// NewConsole wraps an open port for line-based command/response use.
func NewConsole(p *Port) *Console {
	return &Console{port: p, reader: bufio.NewReader(p.rwc)}
}

// Close closes the underlying port.
func (c *Console) Close() error {
	return c.port.Close()
}

// WriteLine writes cmd followed by a newline.
func (c *Console) WriteLine(cmd string) error {
	_, err := c.port.Write([]byte(cmd + "\r\n"))
	return err
}

// ReadUntil reads lines until one contains terminator (checked via
// strings.Contains) or timeout elapses, returning every line read
// including the terminating one.
func (c *Console) ReadUntil(terminator string, timeout time.Duration) ([]string, error) {
	deadline := time.Now().Add(timeout)
	var lines []string
	type result struct {
		line string
		err  error
	}
	lineCh := make(chan result, 1)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lines, errkind.Wrap(errkind.Timeout, nil, "waiting for %q", terminator)
		}

		go func() {
			line, err := c.reader.ReadString('\n')
			lineCh <- result{line, err}
		}()

		select {
		case r := <-lineCh:
			if r.err != nil {
				return lines, errkind.Wrap(errkind.ProtocolError, r.err, "reading console line")
			}
			line := strings.TrimRight(r.line, "\r\n")
			lines = append(lines, line)
			if strings.Contains(line, terminator) {
				return lines, nil
			}
		case <-time.After(remaining):
			return lines, errkind.Wrap(errkind.Timeout, nil, "waiting for %q", terminator)
		}
	}
}
