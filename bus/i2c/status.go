package i2c

// Status is the bus condition the hardware reports after each interrupt.
// The engine is a pure function of these: every interrupt reads one status
// and performs the matching action.
type Status uint8

const (
	// StatusNone: no relevant state, interface idle.
	StatusNone Status = iota

	// Master common
	StatusStartSent
	StatusRepStartSent
	StatusArbLost

	// Master transmitter
	StatusMTSlaACK
	StatusMTSlaNACK
	StatusMTDataACK
	StatusMTDataNACK

	// Master receiver
	StatusMRSlaACK
	StatusMRSlaNACK
	StatusMRDataACK
	StatusMRDataNACK

	// Slave receiver (own address and general call)
	StatusSRSlaWACK
	StatusSRGCallACK
	StatusSRSlaWArbLost
	StatusSRGCallArbLost
	StatusSRDataACK
	StatusSRGCallDataACK
	StatusSRDataNACK
	StatusSRGCallDataNACK
	StatusSRStop

	// Slave transmitter
	StatusSTSlaRACK
	StatusSTArbLost
	StatusSTDataACK
	StatusSTDataNACK
	StatusSTLastDataACK

	// StatusBusError: illegal start/stop condition on the wire.
	StatusBusError
)

func (st Status) String() string {
	switch st {
	case StatusNone:
		return "none"
	case StatusStartSent:
		return "start"
	case StatusRepStartSent:
		return "rep-start"
	case StatusArbLost:
		return "arb-lost"
	case StatusMTSlaACK:
		return "mt-sla-ack"
	case StatusMTSlaNACK:
		return "mt-sla-nack"
	case StatusMTDataACK:
		return "mt-data-ack"
	case StatusMTDataNACK:
		return "mt-data-nack"
	case StatusMRSlaACK:
		return "mr-sla-ack"
	case StatusMRSlaNACK:
		return "mr-sla-nack"
	case StatusMRDataACK:
		return "mr-data-ack"
	case StatusMRDataNACK:
		return "mr-data-nack"
	case StatusSRSlaWACK:
		return "sr-slaw-ack"
	case StatusSRGCallACK:
		return "sr-gcall-ack"
	case StatusSRSlaWArbLost:
		return "sr-slaw-arb-lost"
	case StatusSRGCallArbLost:
		return "sr-gcall-arb-lost"
	case StatusSRDataACK:
		return "sr-data-ack"
	case StatusSRGCallDataACK:
		return "sr-gcall-data-ack"
	case StatusSRDataNACK:
		return "sr-data-nack"
	case StatusSRGCallDataNACK:
		return "sr-gcall-data-nack"
	case StatusSRStop:
		return "sr-stop"
	case StatusSTSlaRACK:
		return "st-slar-ack"
	case StatusSTArbLost:
		return "st-arb-lost"
	case StatusSTDataACK:
		return "st-data-ack"
	case StatusSTDataNACK:
		return "st-data-nack"
	case StatusSTLastDataACK:
		return "st-last-data-ack"
	case StatusBusError:
		return "bus-error"
	}
	return "unknown"
}

// Hardware is the register-level surface the engine drives. No bit layouts
// here; a chip support package (or the simulator) maps these onto its
// control registers.
type Hardware interface {
	// Status returns the condition behind the current interrupt.
	Status() Status
	// WriteData loads the data register (address or data byte to shift out).
	WriteData(b byte)
	// ReadData reads the data register (byte shifted in).
	ReadData() byte
	// Start requests START (or repeated START) generation; ack keeps
	// slave acknowledgement enabled while waiting.
	Start(ack bool)
	// Stop generates STOP; ack selects whether the interface keeps
	// acknowledging its slave address afterwards.
	Stop(ack bool)
	// Reply continues the current transfer, acknowledging (or not) the
	// next byte.
	Reply(ack bool)
	// Release lets go of the bus and returns the interface to idle.
	Release()
	// Listen enables slave address recognition.
	Listen()
	// Block holds the clock low until the application responds.
	Block()
	// Reset recovers the interface from a bus error.
	Reset()
	// SetBitrate programs the clock generator for the given frequency.
	SetBitrate(freq uint32)
	// SetSlaveAddr programs the own-address register.
	SetSlaveAddr(sla byte)
}
