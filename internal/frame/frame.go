package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/beacon-relay/brc/internal/medium"
)

// Relay manufacturer envelope tag. The first two bytes are the company
// identifier (little endian), the third marks relay traffic.
const (
	TagByte0 = 0x59
	TagByte1 = 0x00
	TagByte2 = 0x08
)

// HeaderLen is the fixed frame prefix: three tag bytes, the running frame
// sequence and the global hop budget.
const HeaderLen = 5

// Record field widths.
const (
	baseRecordLen      = medium.AddrLen + 2 // identity + rssi + hop
	telemetryExtrasLen = 4                  // temperature int16 LE + voltage uint16 LE
)

// Header is the fixed frame prefix following the tag bytes.
type Header struct {
	Sequence  uint8
	HopBudget uint8
}

// Record is one relayed observation inside a frame.
type Record struct {
	Addr        medium.Addr
	RSSI        int8
	HopBudget   uint8
	Temperature int16
	Voltage     uint16
}

// RecordLen returns the wire size of one record.
func RecordLen(withTelemetry bool) int {
	if withTelemetry {
		return baseRecordLen + telemetryExtrasLen
	}
	return baseRecordLen
}

// Builder packs records into a frame under a byte budget and a record cap.
// Callers must check Fits before draining an observation from the store so
// that nothing is consumed speculatively.
type Builder struct {
	buf           []byte
	budget        int
	maxRecords    int
	withTelemetry bool
	count         int
}

// NewBuilder starts a frame with the given header. The budget must at least
// hold the header.
func NewBuilder(budget, maxRecords int, withTelemetry bool, hdr Header) (*Builder, error) {
	if budget < HeaderLen {
		return nil, fmt.Errorf("frame budget %d cannot hold %d header bytes", budget, HeaderLen)
	}

	buf := make([]byte, 0, budget)
	buf = append(buf, TagByte0, TagByte1, TagByte2, hdr.Sequence, hdr.HopBudget)

	return &Builder{
		buf:           buf,
		budget:        budget,
		maxRecords:    maxRecords,
		withTelemetry: withTelemetry,
	}, nil
}

// Fits reports whether one more record can be appended without exceeding the
// byte budget or the record cap.
func (b *Builder) Fits() bool {
	if b.count >= b.maxRecords {
		return false
	}
	return len(b.buf)+RecordLen(b.withTelemetry) <= b.budget
}

// Append adds a record. Callers are expected to have checked Fits.
func (b *Builder) Append(rec Record) error {
	if !b.Fits() {
		return fmt.Errorf("record does not fit: %d/%d bytes, %d/%d records",
			len(b.buf), b.budget, b.count, b.maxRecords)
	}

	b.buf = append(b.buf, rec.Addr[:]...)
	b.buf = append(b.buf, byte(rec.RSSI), rec.HopBudget)
	if b.withTelemetry {
		b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(rec.Temperature))
		b.buf = binary.LittleEndian.AppendUint16(b.buf, rec.Voltage)
	}
	b.count++

	return nil
}

// Count returns the number of packed records.
func (b *Builder) Count() int {
	return b.count
}

// Len returns the current frame size in bytes.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Bytes returns the finished frame.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Decode parses a relay frame back into its header and records. The caller
// states whether records carry telemetry extras; the layout itself has no
// flag for it.
func Decode(data []byte, withTelemetry bool) (Header, []Record, error) {
	var hdr Header

	if len(data) < HeaderLen {
		return hdr, nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	if data[0] != TagByte0 || data[1] != TagByte1 || data[2] != TagByte2 {
		return hdr, nil, fmt.Errorf("not a relay frame: tag %02X %02X %02X", data[0], data[1], data[2])
	}

	hdr.Sequence = data[3]
	hdr.HopBudget = data[4]

	recLen := RecordLen(withTelemetry)
	body := data[HeaderLen:]
	if len(body)%recLen != 0 {
		return hdr, nil, fmt.Errorf("frame body %d bytes is not a multiple of record size %d", len(body), recLen)
	}

	records := make([]Record, 0, len(body)/recLen)
	for off := 0; off < len(body); off += recLen {
		var rec Record
		copy(rec.Addr[:], body[off:off+medium.AddrLen])
		rec.RSSI = int8(body[off+medium.AddrLen])
		rec.HopBudget = body[off+medium.AddrLen+1]
		if withTelemetry {
			rec.Temperature = int16(binary.LittleEndian.Uint16(body[off+baseRecordLen:]))
			rec.Voltage = binary.LittleEndian.Uint16(body[off+baseRecordLen+2:])
		}
		records = append(records, rec)
	}

	return hdr, records, nil
}
