package domain

import (
	"fmt"
	"strings"
	"time"
)

// Severity ranks an error event.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
	SeverityFatal
)

var severityNames = [...]string{"info", "warning", "critical", "fatal"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return "unknown"
}

// MarshalText renders the severity by name in JSON exports.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(b []byte) error {
	for i, n := range severityNames {
		if n == string(b) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", b)
}

// CategoryClass groups categories by the hardware block that raised them.
type CategoryClass uint8

const (
	ClassRx CategoryClass = iota
	ClassTx
	ClassAdapter
)

// Category is the closed set of hardware error kinds.
type Category uint8

const (
	RxOverrun Category = iota
	RxCrc
	RxFrame
	RxLength
	RxAlignment
	RxCollision
	RxTimeout
	RxDma
	TxCollision
	TxUnderrun
	TxTimeout
	TxExcessiveCollision
	TxCarrierLost
	TxHeartbeat
	TxWindow
	TxDma
	AdapterHang
	AdapterMemory
	AdapterDma
	AdapterThermal
	AdapterPower

	// NumCategories sizes per-category arrays.
	NumCategories = int(AdapterPower) + 1
)

// CategoryInfo is the static description of a category.
type CategoryInfo struct {
	Name     string
	Class    CategoryClass
	Bit      uint8 // bit within the class status byte
	Severity Severity
	Message  string
}

var categoryTable = [NumCategories]CategoryInfo{
	RxOverrun:            {"rx_overrun", ClassRx, 0x01, SeverityWarning, "RX FIFO overrun"},
	RxCrc:                {"rx_crc", ClassRx, 0x02, SeverityCritical, "RX CRC error, check cable or PHY"},
	RxFrame:              {"rx_frame", ClassRx, 0x04, SeverityWarning, "RX frame error, malformed packet"},
	RxLength:             {"rx_length", ClassRx, 0x08, SeverityWarning, "RX length error, invalid packet size"},
	RxAlignment:          {"rx_alignment", ClassRx, 0x10, SeverityWarning, "RX alignment error"},
	RxCollision:          {"rx_collision", ClassRx, 0x20, SeverityInfo, "RX late collision"},
	RxTimeout:            {"rx_timeout", ClassRx, 0x40, SeverityCritical, "RX timeout, possible adapter hang"},
	RxDma:                {"rx_dma", ClassRx, 0x80, SeverityCritical, "RX DMA error"},
	TxCollision:          {"tx_collision", ClassTx, 0x01, SeverityInfo, "TX collision"},
	TxUnderrun:           {"tx_underrun", ClassTx, 0x02, SeverityWarning, "TX FIFO underrun"},
	TxTimeout:            {"tx_timeout", ClassTx, 0x04, SeverityCritical, "TX timeout, possible adapter hang"},
	TxExcessiveCollision: {"tx_excessive_collision", ClassTx, 0x08, SeverityWarning, "TX excessive collisions"},
	TxCarrierLost:        {"tx_carrier_lost", ClassTx, 0x10, SeverityCritical, "TX carrier lost, link failure"},
	TxHeartbeat:          {"tx_heartbeat", ClassTx, 0x20, SeverityWarning, "TX heartbeat failure"},
	TxWindow:             {"tx_window", ClassTx, 0x40, SeverityWarning, "TX out of window collision"},
	TxDma:                {"tx_dma", ClassTx, 0x80, SeverityCritical, "TX DMA error"},
	AdapterHang:          {"adapter_hang", ClassAdapter, AdapterBitHang, SeverityCritical, "adapter hang detected"},
	AdapterMemory:        {"adapter_memory", ClassAdapter, AdapterBitMemory, SeverityCritical, "adapter memory corruption"},
	AdapterDma:           {"adapter_dma", ClassAdapter, AdapterBitDma, SeverityCritical, "adapter DMA subsystem failure"},
	AdapterThermal:       {"adapter_thermal", ClassAdapter, AdapterBitThermal, SeverityFatal, "adapter thermal shutdown"},
	AdapterPower:         {"adapter_power", ClassAdapter, AdapterBitPower, SeverityFatal, "adapter power supply failure"},
}

// Info returns the static description of c.
func (c Category) Info() CategoryInfo {
	if int(c) < NumCategories {
		return categoryTable[c]
	}
	return CategoryInfo{Name: "unknown"}
}

func (c Category) String() string { return c.Info().Name }

// Severity returns the default severity for the category.
func (c Category) Severity() Severity { return c.Info().Severity }

// IsAdapterClass reports whether c is an adapter-level failure.
func (c Category) IsAdapterClass() bool {
	return int(c) < NumCategories && categoryTable[c].Class == ClassAdapter
}

// MarshalText renders the category by name in JSON exports.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ParseCategory resolves a category name such as "tx_collision".
func ParseCategory(name string) (Category, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, info := range categoryTable {
		if info.Name == n {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown error category %q", name)
}

// UnmarshalText reads a category exported by MarshalText.
func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Categories returns every category in declaration order.
func Categories() []Category {
	out := make([]Category, NumCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}

// ErrorEvent is an immutable diagnostic record.
type ErrorEvent struct {
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Severity  Severity        `json:"severity"`
	DeviceID  string          `json:"device_id"`
	Category  Category        `json:"category"`
	Action    EscalationLevel `json:"action"`
	Message   string          `json:"message"`
}

// NewErrorEvent builds the event for a classified category.
func NewErrorEvent(deviceID string, c Category, at time.Time) ErrorEvent {
	info := c.Info()
	return ErrorEvent{
		Timestamp: at,
		Severity:  info.Severity,
		DeviceID:  deviceID,
		Category:  c,
		Action:    LevelNone,
		Message:   info.Message,
	}
}
