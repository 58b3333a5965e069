package feature

import (
	"encoding/binary"
)

// byteFeature decodes a single unsigned byte.
type byteFeature struct {
	name  string
	field Field
}

func (d *byteFeature) Name() string    { return d.name }
func (d *byteFeature) Fields() []Field { return []Field{d.field} }

func (d *byteFeature) Extract(ts uint16, data []byte, offset int) (Sample, int, error) {
	if err := require(d.name, data, offset, 1); err != nil {
		return Sample{}, 0, err
	}
	return NewSample(ts, d.Fields(), Number(data[offset])), 1, nil
}

func newByteFeature(name, field string, max float64) byteFeature {
	return byteFeature{name: name, field: Field{Name: field, Type: UInt8, Min: 0, Max: max}}
}

type Switch struct{ byteFeature }

func NewSwitch() Decoder { return &Switch{newByteFeature("Switch", "Status", 256)} }

// SwitchStatus returns the switch state byte.
func SwitchStatus(s Sample) (int, bool) { return intAt(s, 0) }

// SwitchCommand encodes a status write: a zero timestamp followed by the
// status byte.
func SwitchCommand(status uint8) []byte {
	return []byte{0, 0, status}
}

type StepperMotor struct{ byteFeature }

// MotorStatus is reported by the stepper motor feature.
type MotorStatus int

const (
	MotorInactive MotorStatus = iota
	MotorRunning
)

// MotorCommand is written to the stepper motor characteristic.
type MotorCommand uint8

const (
	MotorStopWithoutTorque MotorCommand = iota
	MotorStopWithTorque
	MotorRunForward
	MotorRunBackward
	MotorMoveStepsForward
	MotorMoveStepsBackward
)

func NewStepperMotor() Decoder {
	return &StepperMotor{newByteFeature("Stepper Motor", "Status", 1)}
}

func MotorStatusOf(s Sample) (MotorStatus, bool) {
	n, ok := intAt(s, 0)
	return MotorStatus(n), ok
}

// StepperMotorCommand encodes cmd, appending the step count when non-zero.
func StepperMotorCommand(cmd MotorCommand, steps uint32) []byte {
	if steps == 0 {
		return []byte{byte(cmd)}
	}
	out := make([]byte, 5)
	out[0] = byte(cmd)
	binary.LittleEndian.PutUint32(out[1:], steps)
	return out
}

// Gesture detected by the proximity gesture feature.
type Gesture int

const (
	GestureUnknown Gesture = iota
	GestureTap
	GestureLeft
	GestureRight
	GestureError
)

var gestureNames = [...]string{"Unknown", "Tap", "Left", "Right", "Error"}

func (g Gesture) String() string {
	if g < 0 || int(g) >= len(gestureNames) {
		return "Error"
	}
	return gestureNames[g]
}

type ProximityGesture struct{ byteFeature }

func NewProximityGesture() Decoder {
	return &ProximityGesture{newByteFeature("Proximity Gesture", "Gesture", 4)}
}

// GestureOf returns the gesture, GestureError for unexpected codes.
func GestureOf(s Sample) (Gesture, bool) {
	n, ok := intAt(s, 0)
	if !ok {
		return GestureUnknown, false
	}
	if n > int(GestureError) {
		return GestureError, true
	}
	return Gesture(n), true
}

// MemsGestureType is recognised by the MEMS gesture library.
type MemsGestureType int

const (
	MemsGestureUnknown MemsGestureType = iota
	MemsGesturePickUp
	MemsGestureGlance
	MemsGestureWakeUp
	MemsGestureError
)

type MemsGesture struct{ byteFeature }

func NewMemsGesture() Decoder {
	return &MemsGesture{newByteFeature("Mems Gesture", "Gesture", 3)}
}

func MemsGestureOf(s Sample) (MemsGestureType, bool) {
	n, ok := intAt(s, 0)
	if !ok {
		return MemsGestureUnknown, false
	}
	if n > int(MemsGestureError) {
		return MemsGestureError, true
	}
	return MemsGestureType(n), true
}

// Position of the device as seen by the carry position library.
type Position int

const (
	PositionUnknown Position = iota
	PositionOnDesk
	PositionInHand
	PositionNearHead
	PositionShirtPocket
	PositionTrousersPocket
	PositionArmSwing
	PositionError
)

type CarryPosition struct{ byteFeature }

func NewCarryPosition() Decoder {
	return &CarryPosition{newByteFeature("Carry Position", "Position", 6)}
}

func PositionOf(s Sample) (Position, bool) {
	n, ok := intAt(s, 0)
	if !ok {
		return PositionUnknown, false
	}
	if n > int(PositionError) {
		return PositionError, true
	}
	return Position(n), true
}

type MotionIntensity struct{ byteFeature }

func NewMotionIntensity() Decoder {
	return &MotionIntensity{newByteFeature("Motion Intensity", "Intensity", 10)}
}

func MotionIntensityOf(s Sample) (int, bool) { return intAt(s, 0) }

type FreeFall struct{ byteFeature }

func NewFreeFall() Decoder {
	return &FreeFall{newByteFeature("Free Fall", "FreeFall", 1)}
}

func IsFreeFall(s Sample) bool {
	n, ok := intAt(s, 0)
	return ok && n != 0
}

type Beamforming struct{ byteFeature }

func NewBeamforming() Decoder {
	return &Beamforming{newByteFeature("Beamforming", "Beamforming", 7)}
}

func BeamDirection(s Sample) (int, bool) { return intAt(s, 0) }

// Scene reported by the audio scene classification feature.
type Scene int

const (
	SceneIndoor Scene = iota
	SceneOutdoor
	SceneInVehicle
	SceneError
)

type AudioSceneClassification struct{ byteFeature }

func NewAudioSceneClassification() Decoder {
	return &AudioSceneClassification{newByteFeature("Audio Scene Classification", "SceneType", 3)}
}

func SceneOf(s Sample) (Scene, bool) {
	n, ok := intAt(s, 0)
	if !ok {
		return SceneError, false
	}
	if n > int(SceneError) {
		return SceneError, true
	}
	return Scene(n), true
}

// Activity recognised by the activity recognition library.
type Activity int

const (
	NoActivity Activity = iota
	Stationary
	Walking
	FastWalking
	Jogging
	Biking
	Driving
	Stairs
	ActivityError
)

var activityFields = []Field{
	{Name: "Activity", Type: UInt8, Min: 0, Max: 7},
	{Name: "Algorithm", Type: UInt8, Min: 0, Max: 0xFF},
}

// ActivityRecognition carries the activity and, when the payload has a
// second byte, the id of the algorithm that produced it.
type ActivityRecognition struct{}

func NewActivityRecognition() Decoder { return &ActivityRecognition{} }

func (*ActivityRecognition) Name() string    { return "Activity Recognition" }
func (*ActivityRecognition) Fields() []Field { return activityFields }

func (a *ActivityRecognition) Extract(ts uint16, data []byte, offset int) (Sample, int, error) {
	if err := require(a.Name(), data, offset, 1); err != nil {
		return Sample{}, 0, err
	}
	if len(data)-offset == 1 {
		return NewSample(ts, activityFields, Number(data[offset]), NotAvailable), 1, nil
	}
	return NewSample(ts, activityFields, Number(data[offset]), Number(data[offset+1])), 2, nil
}

func ActivityOf(s Sample) (Activity, bool) {
	n, ok := intAt(s, 0)
	if !ok {
		return NoActivity, false
	}
	if n > int(ActivityError) {
		return ActivityError, true
	}
	return Activity(n), true
}

// ActivityAlgorithm returns the algorithm id when the device sent one.
func ActivityAlgorithm(s Sample) (int, bool) { return intAt(s, 1) }
