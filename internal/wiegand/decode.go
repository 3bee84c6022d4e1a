// Package wiegand captures and decodes card reads from Wiegand readers.
package wiegand

import "errors"

// ErrUnsupportedFormat is returned for any frame width other than 26 bits.
var ErrUnsupportedFormat = errors.New("unsupported card format")

// Card is a decoded credential.
type Card struct {
	Facility uint8
	Number   uint16
}

// Decode maps a captured frame onto a (facility, card) pair. Only the
// standard 26-bit layout is supported: one leading parity bit, 8 facility
// bits, 16 card bits, one trailing parity bit. Parity is not verified.
func Decode(bitCount uint8, bits uint64) (Card, error) {
	switch bitCount {
	case 26:
		return Card{
			Facility: uint8((bits & 0x1FE0000) >> 17),
			Number:   uint16((bits & 0x1FFFE) >> 1),
		}, nil
	default:
		return Card{}, ErrUnsupportedFormat
	}
}
