package registry

import "github.com/srg/bluest/feature"

// HeartRateMeasurement is the standard Bluetooth heart rate characteristic.
const HeartRateMeasurement = "2a37"

// DefaultBits is the wildcard capability table. Bits whose decoders are not
// implemented (analog, audio streams, direction of arrival, DC motor, SD
// logging, acceleration event, sensor fusion) are absent.
func DefaultBits() map[int]feature.Constructor {
	return map[int]feature.Constructor{
		29: feature.NewSwitch,
		26: feature.NewMicLevel,
		25: feature.NewProximity,
		24: feature.NewLuminosity,
		23: feature.NewAccelerometer,
		22: feature.NewGyroscope,
		21: feature.NewMagnetometer,
		20: feature.NewPressure,
		19: feature.NewHumidity,
		18: feature.NewTemperature,
		17: feature.NewBattery,
		16: feature.NewTemperature,
		15: feature.NewCOSensor,
		13: feature.NewStepperMotor,
		11: feature.NewBeamforming,
		9:  feature.NewFreeFall,
		6:  feature.NewCompass,
		5:  feature.NewMotionIntensity,
		4:  feature.NewActivityRecognition,
		3:  feature.NewCarryPosition,
		2:  feature.NewProximityGesture,
		1:  feature.NewMemsGesture,
		0:  feature.NewPedometer,
	}
}

// DefaultCharacteristics maps standard characteristics to their decoders.
func DefaultCharacteristics() map[string][]feature.Constructor {
	return map[string][]feature.Constructor{
		HeartRateMeasurement: {feature.NewHeartRate},
	}
}
