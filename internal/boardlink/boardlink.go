// Package boardlink pushes a published LEDRailsAPIOutput over an optional
// side channel — a NATS subject or a serial device, one per Link — in addition to
// the plain HTTP polling surface every board can already use. Both are
// opt-in per board revision via config; neither is required for the
// system to function.
package boardlink

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
	"go.bug.st/serial"

	"github.com/raillive/ledrails-ltm/internal/led"
)

// Link pushes one board revision's output to whichever side channels are
// configured for it.
type Link struct {
	boardVersion string
	natsConn     *nats.Conn
	natsSubject  string
	serialPort   serial.Port
}

// NewNATSLink dials url and returns a Link that publishes to subject.
// Connection failures are non-fatal for the network: the caller should log
// and proceed without the push channel, per spec.md Section 7's Transport
// error-kind policy.
func NewNATSLink(boardVersion, url, subject string) (*Link, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("boardlink: connect nats %s: %w", url, err)
	}
	return &Link{boardVersion: boardVersion, natsConn: conn, natsSubject: subject}, nil
}

// NewSerialLink opens portName at baud and returns a Link that writes
// newline-delimited JSON frames to it, modelling a board wired directly to
// the host rather than polling HTTP.
func NewSerialLink(boardVersion, portName string, baud int) (*Link, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("boardlink: open serial %s: %w", portName, err)
	}
	return &Link{boardVersion: boardVersion, serialPort: port}, nil
}

// Push serializes out and writes it to every side channel configured on
// the Link. Errors are logged, not returned, since a push failure must
// never stop the tick that produced out (spec.md Section 7).
func (l *Link) Push(out *led.LEDRailsAPIOutput) {
	if l == nil {
		return
	}

	data, err := json.Marshal(out)
	if err != nil {
		log.Printf("boardlink: %s: marshal output: %v", l.boardVersion, err)
		return
	}

	if l.natsConn != nil {
		if err := l.natsConn.Publish(l.natsSubject, data); err != nil {
			log.Printf("boardlink: %s: nats publish to %s: %v", l.boardVersion, l.natsSubject, err)
		}
	}

	if l.serialPort != nil {
		if _, err := l.serialPort.Write(append(data, '\n')); err != nil {
			log.Printf("boardlink: %s: serial write: %v", l.boardVersion, err)
		}
	}
}

// Close releases the Link's underlying connections.
func (l *Link) Close() {
	if l == nil {
		return
	}
	if l.natsConn != nil {
		l.natsConn.Close()
	}
	if l.serialPort != nil {
		l.serialPort.Close()
	}
}
