// Package esc drives a KISS-style ESC over its serial command console and
// decodes the telemetry lines it answers with.
package esc

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"codeberg.org/mutker/thrustbench/internal/errors"
)

const (
	// FrameLength is the length of a telemetry line as read, terminator included
	FrameLength = 22
	// Terminator ends every telemetry line
	Terminator = "\r\n"

	payloadBytes = 9
	frameBytes   = payloadBytes + 1
)

// Frame is one decoded telemetry record.
type Frame struct {
	Temperature   uint8
	Voltage       float64 // V
	Current       float64 // A
	ConsumedMAh   float64 // mAh
	ElectricalRPM float64 // eRPM
	Checksum      uint8

	payload [payloadBytes]byte
}

// ChecksumOK reports whether the trailing byte matches the payload CRC8.
func (f Frame) ChecksumOK() bool {
	return crc8(f.payload[:]) == f.Checksum
}

// AngularVelocity converts the electrical RPM to mechanical rad/s for a motor
// with the given number of pole pairs.
func (f Frame) AngularVelocity(polePairs float64) float64 {
	if polePairs <= 0 {
		return math.NaN()
	}

	return f.ElectricalRPM * 2 * math.Pi / 60 / polePairs
}

// Decode parses a telemetry line including its terminator. The checksum is
// captured but not enforced; see Frame.ChecksumOK.
func Decode(line string) (Frame, error) {
	errFactory := errors.New()

	if len(line) != FrameLength {
		return Frame{}, errFactory.WithData(ErrBadLength, len(line))
	}

	text := strings.TrimRight(line, Terminator)
	if len(text) != 2*frameBytes {
		return Frame{}, errFactory.WithData(ErrBadLength, len(text))
	}

	raw, err := hex.DecodeString(text)
	if err != nil {
		return Frame{}, errFactory.Wrap(ErrBadHex, err)
	}

	var f Frame
	copy(f.payload[:], raw[:payloadBytes])
	f.Temperature = raw[0]
	f.Voltage = float64(binary.BigEndian.Uint16(raw[1:3])) / 100
	f.Current = float64(binary.BigEndian.Uint16(raw[3:5])) / 100
	f.ConsumedMAh = float64(binary.BigEndian.Uint16(raw[5:7]))
	f.ElectricalRPM = 100 * float64(binary.BigEndian.Uint16(raw[7:9]))
	f.Checksum = raw[payloadBytes]

	return f, nil
}

// Encode renders f as the line an ESC would send, with a valid checksum.
// Fields are rounded to their wire resolution and saturate at the u16 range.
func Encode(f Frame) string {
	var raw [frameBytes]byte
	raw[0] = f.Temperature
	binary.BigEndian.PutUint16(raw[1:3], wire(f.Voltage*100))
	binary.BigEndian.PutUint16(raw[3:5], wire(f.Current*100))
	binary.BigEndian.PutUint16(raw[5:7], wire(f.ConsumedMAh))
	binary.BigEndian.PutUint16(raw[7:9], wire(f.ElectricalRPM/100))
	raw[payloadBytes] = crc8(raw[:payloadBytes])

	return strings.ToUpper(hex.EncodeToString(raw[:])) + Terminator
}

func (f Frame) String() string {
	return fmt.Sprintf("%.2fV %.2fA %.0fmAh %.0feRPM %d°C",
		f.Voltage, f.Current, f.ConsumedMAh, f.ElectricalRPM, f.Temperature)
}

func wire(v float64) uint16 {
	v = math.Round(v)
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	}

	return uint16(v)
}

// crc8 is the KISS telemetry checksum (polynomial 0x07, zero seed).
func crc8(buf []byte) uint8 {
	var crc uint8
	for _, b := range buf {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}
