package actuator

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
)

// helloTimeout bounds how long Open waits for the pack to identify itself
// and for the first data frame.
const helloTimeout = 2 * time.Second

// SerialTransport streams one actuator pack over a serial port. A reader
// goroutine decodes frames and keeps only the newest sample, so Read never
// returns stale backlog.
type SerialTransport struct {
	name string
	port io.ReadWriteCloser

	writeMu sync.Mutex

	mu     sync.Mutex
	devID  int
	latest RawSample
	err    error

	hello     chan struct{}
	firstData chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// OpenSerial opens the port, asks the pack to stream at freq Hz and waits
// until it has identified itself.
func OpenSerial(portName string, baudRate, freq int) (*SerialTransport, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	log.Printf("actuator: serial port opened on %s at %d baud", portName, baudRate)

	t, err := newSerialTransport(portName, port, freq)
	if err != nil {
		port.Close()
		return nil, err
	}
	return t, nil
}

func newSerialTransport(name string, port io.ReadWriteCloser, freq int) (*SerialTransport, error) {
	t := &SerialTransport{
		name:      name,
		port:      port,
		hello:     make(chan struct{}),
		firstData: make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.readLoop()

	if err := t.write(frameStreamStart, clampU16(freq)); err != nil {
		return nil, err
	}

	select {
	case <-t.hello:
	case <-time.After(helloTimeout):
		return nil, fmt.Errorf("%s: no hello from actuator within %s", name, helloTimeout)
	}
	return t, nil
}

func (t *SerialTransport) readLoop() {
	r := bufio.NewReader(t.port)
	var helloOnce, dataOnce sync.Once
	for {
		typ, payload, err := readFrame(r)
		if errors.Is(err, errChecksum) {
			continue
		}
		if err != nil {
			select {
			case <-t.done:
			default:
				log.Printf("actuator %s: read error: %v", t.name, err)
			}
			t.mu.Lock()
			t.err = err
			t.mu.Unlock()
			return
		}

		switch typ {
		case frameHello:
			if len(payload) < 2 {
				continue
			}
			t.mu.Lock()
			t.devID = int(binary.LittleEndian.Uint16(payload))
			t.mu.Unlock()
			helloOnce.Do(func() { close(t.hello) })
		case frameData:
			s, err := decodeData(payload)
			if err != nil {
				continue
			}
			t.mu.Lock()
			t.latest = s
			t.mu.Unlock()
			dataOnce.Do(func() { close(t.firstData) })
		}
	}
}

func (t *SerialTransport) write(typ byte, payload any) error {
	frame, err := encodeFrame(typ, payload)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("%s: write: %w", t.name, err)
	}
	return nil
}

func (t *SerialTransport) DeviceID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.devID
}

// Read returns the newest sample. It only blocks before the first data frame.
func (t *SerialTransport) Read() (RawSample, error) {
	select {
	case <-t.firstData:
	case <-time.After(helloTimeout):
		return RawSample{}, fmt.Errorf("%s: no data from actuator within %s", t.name, helloTimeout)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return RawSample{}, fmt.Errorf("%s: %w", t.name, t.err)
	}
	return t.latest, nil
}

func (t *SerialTransport) SendCommand(mode Mode, value int32) error {
	return t.write(frameCommand, commandPayload{Mode: uint8(mode), Value: value})
}

func (t *SerialTransport) SetGains(g Gains) error {
	return t.write(frameGains, gainsPayload{
		Kp: clampU16(g.Kp), Ki: clampU16(g.Ki), Kd: clampU16(g.Kd),
		K: clampU16(g.K), B: clampU16(g.B), FF: clampU16(g.FF),
	})
}

// Close stops streaming and closes the port. Safe to call more than once.
func (t *SerialTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if werr := t.write(frameStreamStop, nil); werr != nil {
			log.Printf("actuator %s: stop stream: %v", t.name, werr)
		}
		err = t.port.Close()
	})
	return err
}
