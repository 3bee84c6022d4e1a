// Package settings persists the device settings record: network identity,
// notification service credentials and the authorized-credential table. The
// wire layout is byte-exact with the firmware EEPROM image it replaces, so a
// record written by either implementation loads in the other.
package settings

import (
	"encoding/binary"
	"errors"

	"github.com/sigurn/crc16"
)

const (
	// Magic marks a record as initialized.
	Magic uint32 = 0xd41d8cd5

	// NumSlots is the size of the credential table. Slot identity is
	// positional: reassigning a slot's facility/card repoints any history
	// keyed by that slot.
	NumSlots = 7

	// RecordSize is the full serialized record including the trailing CRC.
	RecordSize = 4 + 33 + 64 + 64 + 64 + 32 + 1 + NumSlots*credentialSize + ntfySize + 2

	credentialSize = 20 + 64 + 1 + 2 + 1
	ntfySize       = 64 + 64 + 16 + 16
)

// Record flag bits.
const (
	FlagNotifyEnabled uint8 = 0x01
)

// Credential flag bits.
const (
	CredentialExit  uint8 = 0x01
	CredentialEntry uint8 = 0x02
)

// ErrCorrupt means the magic marker or checksum did not match.
var ErrCorrupt = errors.New("settings record corrupt")

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

type Credential struct {
	Name     string
	Topic    string
	Facility uint8
	Card     uint16
	Flags    uint8
}

func (c Credential) EntryAllowed() bool { return c.Flags&CredentialEntry != 0 }
func (c Credential) ExitAllowed() bool  { return c.Flags&CredentialExit != 0 }

type Ntfy struct {
	URL      string
	Topic    string
	Username string
	Password string
}

type Record struct {
	Hostname    string
	SSID        string
	WPAKey      string
	NTPServer   string
	Timezone    string
	Flags       uint8
	Credentials [NumSlots]Credential
	Ntfy        Ntfy
}

func (r *Record) NotifyEnabled() bool { return r.Flags&FlagNotifyEnabled != 0 }

// Defaults is the record written when the stored one fails its integrity
// check: blank credentials, blank network settings.
func Defaults() *Record {
	return &Record{
		Timezone:  "EST5EDT,M3.2.0,M11.1.0",
		NTPServer: "pool.ntp.org",
	}
}

// Marshal serializes the record and appends the CRC over all preceding bytes.
func (r *Record) Marshal() []byte {
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(buf[0:], Magic)
	off := 4
	off = putString(buf, off, r.Hostname, 33)
	off = putString(buf, off, r.SSID, 64)
	off = putString(buf, off, r.WPAKey, 64)
	off = putString(buf, off, r.NTPServer, 64)
	off = putString(buf, off, r.Timezone, 32)
	buf[off] = r.Flags
	off++
	for i := range r.Credentials {
		c := &r.Credentials[i]
		off = putString(buf, off, c.Name, 20)
		off = putString(buf, off, c.Topic, 64)
		buf[off] = c.Facility
		off++
		binary.LittleEndian.PutUint16(buf[off:], c.Card)
		off += 2
		buf[off] = c.Flags
		off++
	}
	off = putString(buf, off, r.Ntfy.URL, 64)
	off = putString(buf, off, r.Ntfy.Topic, 64)
	off = putString(buf, off, r.Ntfy.Username, 16)
	off = putString(buf, off, r.Ntfy.Password, 16)
	binary.LittleEndian.PutUint16(buf[off:], crc16.Checksum(buf[:off], crcTable))
	return buf
}

// Unmarshal parses a serialized record, verifying length, magic and CRC.
func Unmarshal(buf []byte) (*Record, error) {
	if len(buf) < RecordSize {
		return nil, ErrCorrupt
	}
	buf = buf[:RecordSize]
	if binary.LittleEndian.Uint32(buf[0:]) != Magic {
		return nil, ErrCorrupt
	}
	stored := binary.LittleEndian.Uint16(buf[RecordSize-2:])
	if stored != crc16.Checksum(buf[:RecordSize-2], crcTable) {
		return nil, ErrCorrupt
	}

	r := &Record{}
	off := 4
	r.Hostname, off = getString(buf, off, 33)
	r.SSID, off = getString(buf, off, 64)
	r.WPAKey, off = getString(buf, off, 64)
	r.NTPServer, off = getString(buf, off, 64)
	r.Timezone, off = getString(buf, off, 32)
	r.Flags = buf[off]
	off++
	for i := range r.Credentials {
		c := &r.Credentials[i]
		c.Name, off = getString(buf, off, 20)
		c.Topic, off = getString(buf, off, 64)
		c.Facility = buf[off]
		off++
		c.Card = binary.LittleEndian.Uint16(buf[off:])
		off += 2
		c.Flags = buf[off]
		off++
	}
	r.Ntfy.URL, off = getString(buf, off, 64)
	r.Ntfy.Topic, off = getString(buf, off, 64)
	r.Ntfy.Username, off = getString(buf, off, 16)
	r.Ntfy.Password, _ = getString(buf, off, 16)
	return r, nil
}

// putString stores s as a NUL-terminated field of n bytes, truncating to
// n-1 characters.
func putString(buf []byte, off int, s string, n int) int {
	if len(s) > n-1 {
		s = s[:n-1]
	}
	copy(buf[off:off+n-1], s)
	return off + n
}

func getString(buf []byte, off, n int) (string, int) {
	field := buf[off : off+n]
	for i, b := range field {
		if b == 0 {
			return string(field[:i]), off + n
		}
	}
	return string(field[:n-1]), off + n
}
