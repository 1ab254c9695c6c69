package protocol

import "fmt"

// CapabilityDescriptor is our answer to the peer's DeviceStatusQuery. It
// identifies the local entity type; the reply must echo the peer's
// transaction id and does not consume a command sequence number.
type CapabilityDescriptor struct {
	EntityType byte
}

// Parse parses a CapabilityDescriptor payload from raw bytes
func (p *CapabilityDescriptor) Parse(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("empty capability descriptor")
	}
	p.EntityType = data[0]
	return nil
}

// Encode encodes the CapabilityDescriptor payload to raw bytes
func (p *CapabilityDescriptor) Encode() ([]byte, error) {
	return []byte{p.EntityType}, nil
}

// StatusReport is the payload of a DeviceStatusReport broadcast. The peer
// emits a run of transitional reports after authentication and finishes
// with StatusReportReady; commands are honored only after that.
type StatusReport struct {
	Status byte
}

// Parse parses a StatusReport payload from raw bytes
func (p *StatusReport) Parse(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("empty status report")
	}
	p.Status = data[0]
	return nil
}

// Encode encodes the StatusReport payload to raw bytes
func (p *StatusReport) Encode() ([]byte, error) {
	return []byte{p.Status}, nil
}

// Ready reports whether this is the final "ready" status report.
func (p *StatusReport) Ready() bool {
	return p.Status >= StatusReportReady
}

// ParseStatusReport parses a StatusReport payload from raw bytes
func ParseStatusReport(data []byte) (*StatusReport, error) {
	p := &StatusReport{}
	err := p.Parse(data)
	return p, err
}
