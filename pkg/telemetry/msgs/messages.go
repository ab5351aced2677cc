package msgs

import (
	"errors"
	"time"

	"github.com/golang/protobuf/proto"

	"github.com/robotalks/minghe.go/pkg/minghe"
)

// Telemetry is one poll of a converter.
type Telemetry struct {
	Device      string   `protobuf:"bytes,1,opt,name=device,proto3" json:"device,omitempty"`
	Address     uint32   `protobuf:"varint,2,opt,name=address,proto3" json:"address,omitempty"`
	Model       uint32   `protobuf:"varint,3,opt,name=model,proto3" json:"model,omitempty"`
	Voltage     uint32   `protobuf:"varint,4,opt,name=voltage,proto3" json:"voltage"`
	Current     uint32   `protobuf:"varint,5,opt,name=current,proto3" json:"current"`
	Watts       uint32   `protobuf:"varint,6,opt,name=watts,proto3" json:"watts"`
	Output      bool     `protobuf:"varint,7,opt,name=output,proto3" json:"output"`
	Limiting    uint32   `protobuf:"varint,8,opt,name=limiting,proto3" json:"limiting"`
	Temperature uint32   `protobuf:"varint,9,opt,name=temperature,proto3" json:"temperature"`
	Charge      uint32   `protobuf:"varint,10,opt,name=charge,proto3" json:"charge"`
	OnTime      uint32   `protobuf:"varint,11,opt,name=on_time,json=onTime,proto3" json:"on_time"`
	MaxVoltage  uint32   `protobuf:"varint,12,opt,name=max_voltage,json=maxVoltage,proto3" json:"max_voltage"`
	MaxCurrent  uint32   `protobuf:"varint,13,opt,name=max_current,json=maxCurrent,proto3" json:"max_current"`
	Timestamp   int64    `protobuf:"varint,14,opt,name=timestamp,proto3" json:"timestamp"`
	Errors      []string `protobuf:"bytes,15,rep,name=errors,proto3" json:"errors,omitempty"`
}

// Reset implements proto.Message.
func (m *Telemetry) Reset() { *m = Telemetry{} }

// String implements proto.Message.
func (m *Telemetry) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*Telemetry) ProtoMessage() {}

// NewTelemetry creates a Telemetry from a polled status. err is the
// polling error, possibly aggregated.
func NewTelemetry(device string, addr uint32, model uint16, s *minghe.Status, err error, at time.Time) *Telemetry {
	t := &Telemetry{
		Device:      device,
		Address:     addr,
		Model:       uint32(model),
		Voltage:     uint32(s.Voltage),
		Current:     uint32(s.Current),
		Watts:       s.Watts,
		Output:      s.OutputEnabled,
		Limiting:    uint32(s.Limiting),
		Temperature: uint32(s.Temperature),
		Charge:      s.Charge,
		OnTime:      s.OnTime,
		MaxVoltage:  uint32(s.MaxVoltage),
		MaxCurrent:  uint32(s.MaxCurrent),
		Timestamp:   at.UnixNano() / int64(time.Millisecond),
	}
	if err != nil {
		var multi interface{ Unwrap() []error }
		if errors.As(err, &multi) {
			for _, e := range multi.Unwrap() {
				t.Errors = append(t.Errors, e.Error())
			}
		} else {
			t.Errors = []string{err.Error()}
		}
	}
	return t
}

// Time returns the timestamp.
func (m *Telemetry) Time() time.Time {
	return time.Unix(0, m.Timestamp*int64(time.Millisecond))
}

// Status converts back to a minghe.Status.
func (m *Telemetry) Status() *minghe.Status {
	return &minghe.Status{
		Voltage:       uint16(m.Voltage),
		Current:       uint16(m.Current),
		Watts:         m.Watts,
		OutputEnabled: m.Output,
		Limiting:      minghe.LimitingFactor(m.Limiting),
		Temperature:   uint16(m.Temperature),
		Charge:        m.Charge,
		OnTime:        m.OnTime,
		MaxVoltage:    uint16(m.MaxVoltage),
		MaxCurrent:    uint16(m.MaxCurrent),
	}
}

// CommandResult answers a remote set request.
type CommandResult struct {
	Device    string `protobuf:"bytes,1,opt,name=device,proto3" json:"device,omitempty"`
	Attribute string `protobuf:"bytes,2,opt,name=attribute,proto3" json:"attribute"`
	Value     uint32 `protobuf:"varint,3,opt,name=value,proto3" json:"value"`
	Ok        bool   `protobuf:"varint,4,opt,name=ok,proto3" json:"ok"`
	Error     string `protobuf:"bytes,5,opt,name=error,proto3" json:"error,omitempty"`
}

// Reset implements proto.Message.
func (m *CommandResult) Reset() { *m = CommandResult{} }

// String implements proto.Message.
func (m *CommandResult) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*CommandResult) ProtoMessage() {}

// NewCommandResult creates the result of setting attribute to value.
func NewCommandResult(device, attribute string, value uint32, err error) *CommandResult {
	r := &CommandResult{Device: device, Attribute: attribute, Value: value, Ok: err == nil}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Encode marshals a message.
func Encode(msg proto.Message) ([]byte, error) {
	return proto.Marshal(msg)
}

// DecodeTelemetry unmarshals a Telemetry.
func DecodeTelemetry(data []byte) (*Telemetry, error) {
	var t Telemetry
	if err := proto.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DecodeCommandResult unmarshals a CommandResult.
func DecodeCommandResult(data []byte) (*CommandResult, error) {
	var r CommandResult
	if err := proto.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
