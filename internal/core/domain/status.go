package domain

// Adapter failure byte layout.
const (
	AdapterBitReset   uint8 = 0x01
	AdapterBitHang    uint8 = 0x02
	AdapterBitLink    uint8 = 0x04
	AdapterBitMemory  uint8 = 0x08
	AdapterBitIRQ     uint8 = 0x10
	AdapterBitDma     uint8 = 0x20
	AdapterBitThermal uint8 = 0x40
	AdapterBitPower   uint8 = 0x80
)

// StatusSentinel is what a register read returns when the adapter is not
// driving the bus.
const StatusSentinel uint16 = 0xFFFF

// RawStatus is one snapshot of the adapter status registers.
type RawStatus struct {
	Word    uint16 `json:"word"`    // command/status register
	Rx      uint8  `json:"rx"`      // RX error byte
	Tx      uint8  `json:"tx"`      // TX error byte
	Adapter uint8  `json:"adapter"` // adapter failure byte
}

// StatusFromRegisters extracts the error bytes from bits 16..23 of the RX and
// TX status words.
func StatusFromRegisters(word uint16, rxStatus, txStatus uint32, adapter uint8) RawStatus {
	return RawStatus{
		Word:    word,
		Rx:      uint8(rxStatus >> 16),
		Tx:      uint8(txStatus >> 16),
		Adapter: adapter,
	}
}

// IsSentinel reports a floating-bus read.
func (s RawStatus) IsSentinel() bool { return s.Word == StatusSentinel }

// HasErrors reports whether any error bit is set.
func (s RawStatus) HasErrors() bool {
	return s.Rx != 0 || s.Tx != 0 || s.Adapter&^(AdapterBitReset|AdapterBitIRQ) != 0
}

// LinkState is the carrier state reported by the adapter.
type LinkState uint8

const (
	LinkUnknown LinkState = iota
	LinkUp
	LinkDown
)

func (l LinkState) String() string {
	switch l {
	case LinkUp:
		return "up"
	case LinkDown:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalText renders the link state by name in JSON exports.
func (l LinkState) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LinkState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "up":
		*l = LinkUp
	case "down":
		*l = LinkDown
	default:
		*l = LinkUnknown
	}
	return nil
}

// EncodeCategories builds the status that decodes to exactly cats. The
// simulator uses it to inject faults.
func EncodeCategories(cats ...Category) RawStatus {
	var s RawStatus
	for _, c := range cats {
		info := c.Info()
		switch info.Class {
		case ClassRx:
			s.Rx |= info.Bit
		case ClassTx:
			s.Tx |= info.Bit
		case ClassAdapter:
			s.Adapter |= info.Bit
		}
	}
	return s
}
