package record

// Sample catalog for a 324-byte channel record, used by tests and the
// CLI's pretty printer. Real catalogs are model-specific data shipped
// outside the engine; nothing in the protocol layers depends on this
// layout.

// ChannelRecordSize is the fixed size of the sample channel record.
const ChannelRecordSize = 324

// Channel field names in the sample catalog.
const (
	ChannelFieldMode        = "mode"
	ChannelFieldColorCode   = "color_code"
	ChannelFieldRxFrequency = "rx_frequency"
	ChannelFieldTxFrequency = "tx_frequency"
	ChannelFieldRxTone      = "rx_tone"
	ChannelFieldTxTone      = "tx_tone"
	ChannelFieldPower       = "power"
	ChannelFieldTimeout     = "timeout"
	ChannelFieldName        = "name"
)

// Channel modes.
const (
	ChannelModeAnalog  = 0x00
	ChannelModeDigital = 0x01
)

// FrequencyUnitHz is the scale of the frequency fields: the stored u32
// counts steps of 5 Hz.
const FrequencyUnitHz = 5

// ToneUnitTenthHz is the scale of the tone fields: the stored u16 counts
// tenths of a hertz (67.0 Hz CTCSS is stored as 670).
const ToneUnitTenthHz = 10

// ChannelCatalog returns the sample channel layout.
func ChannelCatalog() *Catalog {
	return &Catalog{
		Name:       "channel",
		RecordSize: ChannelRecordSize,
		Fields: []Field{
			{Name: ChannelFieldMode, Offset: 0, Width: 1, Type: FieldUint8},
			{Name: ChannelFieldColorCode, Offset: 1, Width: 1, Type: FieldUint8},
			{Name: ChannelFieldPower, Offset: 2, Width: 1, Type: FieldUint8},
			{Name: ChannelFieldTimeout, Offset: 3, Width: 1, Type: FieldUint8},
			{Name: ChannelFieldRxFrequency, Offset: 4, Width: 4, Type: FieldUint32},
			{Name: ChannelFieldTxFrequency, Offset: 8, Width: 4, Type: FieldUint32},
			{Name: ChannelFieldRxTone, Offset: 12, Width: 2, Type: FieldUint16},
			{Name: ChannelFieldTxTone, Offset: 14, Width: 2, Type: FieldUint16},
			{Name: ChannelFieldName, Offset: 16, Width: 32, Type: FieldString},
		},
	}
}

// ChannelInfo is a typed view of one decoded channel record.
type ChannelInfo struct {
	Name        string
	Mode        byte
	ColorCode   byte
	Power       byte
	TimeoutSecs byte
	RxHz        uint64
	TxHz        uint64
	RxToneHz    float64 // 0 means none
	TxToneHz    float64
}

// DecodeChannel decodes buf with the sample catalog into a typed view.
func DecodeChannel(buf []byte) (*ChannelInfo, error) {
	values, err := ChannelCatalog().Decode(buf)
	if err != nil {
		return nil, err
	}
	return &ChannelInfo{
		Name:        values[ChannelFieldName].(string),
		Mode:        values[ChannelFieldMode].(byte),
		ColorCode:   values[ChannelFieldColorCode].(byte),
		Power:       values[ChannelFieldPower].(byte),
		TimeoutSecs: values[ChannelFieldTimeout].(byte),
		RxHz:        uint64(values[ChannelFieldRxFrequency].(uint32)) * FrequencyUnitHz,
		TxHz:        uint64(values[ChannelFieldTxFrequency].(uint32)) * FrequencyUnitHz,
		RxToneHz:    float64(values[ChannelFieldRxTone].(uint16)) / ToneUnitTenthHz,
		TxToneHz:    float64(values[ChannelFieldTxTone].(uint16)) / ToneUnitTenthHz,
	}, nil
}

// EncodeChannel builds a 324-byte channel record from the typed view.
func EncodeChannel(ch *ChannelInfo) ([]byte, error) {
	return ChannelCatalog().Encode(map[string]interface{}{
		ChannelFieldName:        ch.Name,
		ChannelFieldMode:        ch.Mode,
		ChannelFieldColorCode:   ch.ColorCode,
		ChannelFieldPower:       ch.Power,
		ChannelFieldTimeout:     ch.TimeoutSecs,
		ChannelFieldRxFrequency: uint32(ch.RxHz / FrequencyUnitHz),
		ChannelFieldTxFrequency: uint32(ch.TxHz / FrequencyUnitHz),
		ChannelFieldRxTone:      uint16(ch.RxToneHz * ToneUnitTenthHz),
		ChannelFieldTxTone:      uint16(ch.TxToneHz * ToneUnitTenthHz),
	})
}
