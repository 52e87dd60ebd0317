// Package schema holds the application messages exchanged between a blimp
// (vehicle) and its ground station. The session layer treats them as opaque.
package schema

import (
	"fmt"
	"strings"
)

// Message kinds. They double as the variant keys on the wire, so a message
// encodes as a single-key object such as {"MotorSpeed":{"id":1,"speed":2}}.
const (
	KindDeclareInterest = "DeclareInterest"
	KindControls        = "Controls"
	KindMotorSpeed      = "MotorSpeed"
	KindServoPosition   = "ServoPosition"
	KindSensorData      = "SensorData"
)

type ValidationError struct {
	Message string
	Reason  string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("schema: %s: %s", e.Message, e.Reason)
}

// VizInterest lists the value groups a visualization client subscribes to.
type VizInterest struct {
	Motors  bool `json:"motors" cbor:"motors"`
	Servos  bool `json:"servos" cbor:"servos"`
	Sensors bool `json:"sensors" cbor:"sensors"`
}

// Controls carries pilot inputs for the blimp.
type Controls struct {
	Throttle  int32 `json:"throttle" cbor:"throttle"`
	Elevation int32 `json:"elevation" cbor:"elevation"`
	Yaw       int32 `json:"yaw" cbor:"yaw"`
}

// VehicleMessage is sent vehicle->ground. Exactly one field is set.
type VehicleMessage struct {
	DeclareInterest *VizInterest `json:"DeclareInterest,omitempty" cbor:"DeclareInterest,omitempty"`
	Controls        *Controls    `json:"Controls,omitempty" cbor:"Controls,omitempty"`
}

func DeclareInterest(v VizInterest) VehicleMessage {
	return VehicleMessage{DeclareInterest: &v}
}

func SendControls(c Controls) VehicleMessage {
	return VehicleMessage{Controls: &c}
}

func (m VehicleMessage) Kind() string {
	kinds := m.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (m VehicleMessage) kinds() []string {
	var out []string
	if m.DeclareInterest != nil {
		out = append(out, KindDeclareInterest)
	}
	if m.Controls != nil {
		out = append(out, KindControls)
	}
	return out
}

func (m VehicleMessage) Validate() error {
	return exactlyOne("vehicle message", m.kinds())
}

type MotorSpeed struct {
	ID    uint8 `json:"id" cbor:"id"`
	Speed int32 `json:"speed" cbor:"speed"`
}

type ServoPosition struct {
	ID    uint8 `json:"id" cbor:"id"`
	Angle int16 `json:"angle" cbor:"angle"`
}

type SensorData struct {
	ID   string  `json:"id" cbor:"id"`
	Data float64 `json:"data" cbor:"data"`
}

// GroundMessage is sent ground->vehicle. Exactly one field is set.
type GroundMessage struct {
	MotorSpeed    *MotorSpeed    `json:"MotorSpeed,omitempty" cbor:"MotorSpeed,omitempty"`
	ServoPosition *ServoPosition `json:"ServoPosition,omitempty" cbor:"ServoPosition,omitempty"`
	SensorData    *SensorData    `json:"SensorData,omitempty" cbor:"SensorData,omitempty"`
}

func ReportMotorSpeed(id uint8, speed int32) GroundMessage {
	return GroundMessage{MotorSpeed: &MotorSpeed{ID: id, Speed: speed}}
}

func ReportServoPosition(id uint8, angle int16) GroundMessage {
	return GroundMessage{ServoPosition: &ServoPosition{ID: id, Angle: angle}}
}

func ReportSensorData(id string, data float64) GroundMessage {
	return GroundMessage{SensorData: &SensorData{ID: id, Data: data}}
}

func (m GroundMessage) Kind() string {
	kinds := m.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (m GroundMessage) kinds() []string {
	var out []string
	if m.MotorSpeed != nil {
		out = append(out, KindMotorSpeed)
	}
	if m.ServoPosition != nil {
		out = append(out, KindServoPosition)
	}
	if m.SensorData != nil {
		out = append(out, KindSensorData)
	}
	return out
}

func (m GroundMessage) Validate() error {
	if err := exactlyOne("ground message", m.kinds()); err != nil {
		return err
	}
	if m.SensorData != nil && strings.TrimSpace(m.SensorData.ID) == "" {
		return ValidationError{Message: KindSensorData, Reason: "missing id"}
	}
	return nil
}

func exactlyOne(message string, kinds []string) error {
	switch len(kinds) {
	case 1:
		return nil
	case 0:
		return ValidationError{Message: message, Reason: "no variant set"}
	default:
		return ValidationError{Message: message, Reason: "multiple variants set: " + strings.Join(kinds, ",")}
	}
}
