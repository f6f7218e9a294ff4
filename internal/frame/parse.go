package frame

// BLE advertising data structure types the parser recognizes.
const (
	adTypeServiceData16    = 0x16
	adTypeManufacturerData = 0xFF
)

// Eddystone service UUID and TLM frame type.
const (
	eddystoneUUID0 = 0xAA
	eddystoneUUID1 = 0xFE
	eddystoneTLM   = 0x20
)

// Fields holds the recognized sub-fields of an inbound advertisement.
type Fields struct {
	// Relayed is set when the payload carries the relay manufacturer
	// envelope; HopBudget and Frame are only meaningful then. Frame is
	// the raw envelope payload, decodable with Decode.
	Relayed   bool
	HopBudget uint8
	Frame     []byte

	// Sequence is the dedup marker: the envelope header sequence for
	// relayed payloads, the low byte of the TLM advertising counter for
	// direct observations that carry one.
	Sequence uint8

	// HasTelemetry is set when an Eddystone TLM block was found.
	HasTelemetry bool
	Temperature  int16
	Voltage      uint16
}

// Recognized reports whether any known structure was found. Payloads with
// nothing recognized are ignored by the ingestion path.
func (f Fields) Recognized() bool {
	return f.Relayed || f.HasTelemetry
}

// ParseAdvertisement walks the length/type/value structures of a raw
// advertisement payload and extracts the recognized sub-fields. Anything
// malformed or unknown is skipped silently; parsing never fails.
func ParseAdvertisement(data []byte) Fields {
	var fields Fields

	for len(data) > 1 {
		length := int(data[0])
		if length == 0 || 1+length > len(data) {
			break
		}

		adType := data[1]
		payload := data[2 : 1+length]

		switch adType {
		case adTypeManufacturerData:
			// Relay envelope: tag bytes, sequence marker, hop budget.
			if len(payload) >= 5 &&
				payload[0] == TagByte0 && payload[1] == TagByte1 && payload[2] == TagByte2 {
				fields.Relayed = true
				fields.Sequence = payload[3]
				fields.HopBudget = payload[4]
				fields.Frame = payload
			}

		case adTypeServiceData16:
			// Eddystone TLM: UUID, frame type, version, battery voltage
			// and temperature in big-endian order.
			if len(payload) >= 8 &&
				payload[0] == eddystoneUUID0 && payload[1] == eddystoneUUID1 &&
				payload[2] == eddystoneTLM {
				fields.HasTelemetry = true
				fields.Voltage = uint16(payload[4])<<8 | uint16(payload[5])
				fields.Temperature = int16(uint16(payload[6])<<8 | uint16(payload[7]))
				// The advertising PDU counter doubles as the dedup
				// marker for direct observations when present.
				if len(payload) >= 12 && !fields.Relayed {
					fields.Sequence = payload[11]
				}
			}
		}

		data = data[1+length:]
	}

	return fields
}
