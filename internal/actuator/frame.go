package actuator

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout: sync, type, payload length, payload, checksum. The checksum
// is the low byte of the sum of type, length and payload bytes.
const (
	frameSync = 0xAA

	frameData        = 0x01 // pack -> host, dataPayload
	frameHello       = 0x02 // pack -> host, uint16 device id
	frameCommand     = 0x10 // host -> pack, commandPayload
	frameGains       = 0x11 // host -> pack, gainsPayload
	frameStreamStart = 0x20 // host -> pack, uint16 frequency
	frameStreamStop  = 0x21 // host -> pack, empty

	maxPayload = 64
)

var errChecksum = errors.New("frame checksum mismatch")

type dataPayload struct {
	StateTime              uint32
	AccelX, AccelY, AccelZ int16
	GyroX, GyroY, GyroZ    int16
	MotorAngle             int32
	MotorVelocity          int32
	MotorCurrent           int32
	Temperature            int8
	BatteryVolt            uint16
}

type commandPayload struct {
	Mode  uint8
	Value int32
}

type gainsPayload struct {
	Kp, Ki, Kd, K, B, FF uint16
}

func encodeFrame(typ byte, payload any) ([]byte, error) {
	var body bytes.Buffer
	if payload != nil {
		if err := binary.Write(&body, binary.LittleEndian, payload); err != nil {
			return nil, fmt.Errorf("encode frame 0x%02x: %w", typ, err)
		}
	}
	if body.Len() > maxPayload {
		return nil, fmt.Errorf("frame 0x%02x payload too long: %d", typ, body.Len())
	}

	out := make([]byte, 0, body.Len()+4)
	out = append(out, frameSync, typ, byte(body.Len()))
	out = append(out, body.Bytes()...)
	return append(out, checksum(typ, body.Bytes())), nil
}

func checksum(typ byte, payload []byte) byte {
	sum := typ + byte(len(payload))
	for _, b := range payload {
		sum += b
	}
	return sum
}

// readFrame returns the next well-formed frame, skipping bytes until a sync
// byte. A corrupt frame yields errChecksum; the caller may keep reading.
func readFrame(r *bufio.Reader) (byte, []byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, nil, err
		}
		if b == frameSync {
			break
		}
	}

	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	typ, n := hdr[0], int(hdr[1])
	if n > maxPayload {
		return 0, nil, errChecksum
	}

	buf := make([]byte, n+1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, nil, err
	}
	payload := buf[:n]
	if checksum(typ, payload) != buf[n] {
		return 0, nil, errChecksum
	}
	return typ, payload, nil
}

func decodeData(payload []byte) (RawSample, error) {
	var p dataPayload
	if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, &p); err != nil {
		return RawSample{}, fmt.Errorf("decode data frame: %w", err)
	}
	return RawSample{
		StateTime:     int64(p.StateTime),
		AccelX:        int32(p.AccelX),
		AccelY:        int32(p.AccelY),
		AccelZ:        int32(p.AccelZ),
		GyroX:         int32(p.GyroX),
		GyroY:         int32(p.GyroY),
		GyroZ:         int32(p.GyroZ),
		MotorAngle:    p.MotorAngle,
		MotorVelocity: p.MotorVelocity,
		MotorCurrent:  p.MotorCurrent,
		Temperature:   int32(p.Temperature),
		BatteryVolt:   int32(p.BatteryVolt),
	}, nil
}

func clampU16(v int) uint16 {
	if v < 0 {
		return 0
	}
	if v > 0xFFFF {
		return 0xFFFF
	}
	return uint16(v)
}
