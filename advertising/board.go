package advertising

// BoardType identifies the hardware family of a node.
type BoardType int

const (
	Generic BoardType = iota
	STEVALWESU1
	SensorTile
	BlueCoin
	STEVALIDB008VX
	STEVALBCN002V1
	SensorTileBox
	Nucleo
)

var boardNames = map[BoardType]string{
	Generic:        "GENERIC",
	STEVALWESU1:    "STEVAL_WESU1",
	SensorTile:     "SENSOR_TILE",
	BlueCoin:       "BLUE_COIN",
	STEVALIDB008VX: "STEVAL_IDB008VX",
	STEVALBCN002V1: "STEVAL_BCN002V1",
	SensorTileBox:  "SENSOR_TILE_BOX",
	Nucleo:         "NUCLEO",
}

func (b BoardType) String() string {
	if name, ok := boardNames[b]; ok {
		return name
	}
	return "GENERIC"
}

// MarshalText renders the board by name.
func (b BoardType) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// BoardTypeOf maps a masked device id to its board.
func BoardTypeOf(id uint8) BoardType {
	switch {
	case id >= 0x80:
		return Nucleo
	case id >= 0x01 && id <= 0x06:
		return BoardType(id)
	default:
		return Generic
	}
}
