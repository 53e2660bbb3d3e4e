package j1939

// Param describes one signal inside a PGN payload.
type Param struct {
	Name       string  `json:"name"`
	Start      int     `json:"startByte"` // byte offset in the payload
	Length     int     `json:"length"`    // 1..4 bytes, little-endian
	Resolution float64 `json:"resolution"`
	Offset     float64 `json:"offset"`
	Unit       string  `json:"unit"`
	Min        float64 `json:"min"` // gauge range
	Max        float64 `json:"max"`
}

// Definition maps a PGN to its label and parameters, in display order.
type Definition struct {
	PGN    uint32  `json:"pgn"`
	Name   string  `json:"name"`
	Params []Param `json:"params"`
}

// definitions is the John Deere PGN table the dashboard understands.
var definitions = []Definition{
	{
		PGN:  0xFEF1,
		Name: "Motor",
		Params: []Param{
			{Name: "rpm", Start: 0, Length: 2, Resolution: 0.125, Unit: "RPM", Min: 0, Max: 8000},
			{Name: "torque", Start: 2, Length: 1, Resolution: 1, Unit: "%", Min: 0, Max: 100},
			{Name: "fuel_rate", Start: 3, Length: 2, Resolution: 0.1, Unit: "L/h", Min: 0, Max: 150},
		},
	},
	{
		PGN:  0xF004,
		Name: "Implemento",
		Params: []Param{
			{Name: "velocidade", Start: 0, Length: 2, Resolution: 0.001, Unit: "km/h", Min: 0, Max: 50},
			{Name: "area_total", Start: 2, Length: 4, Resolution: 0.01, Unit: "ha", Min: 0, Max: 1000},
			{Name: "profundidade", Start: 6, Length: 1, Resolution: 1, Unit: "cm", Min: 0, Max: 100},
		},
	},
	{
		PGN:  0xFEE8,
		Name: "Fluidos",
		Params: []Param{
			{Name: "nivel_combustivel", Start: 0, Length: 1, Resolution: 0.4, Unit: "%", Min: 0, Max: 100},
			{Name: "temp_motor", Start: 1, Length: 1, Resolution: 1, Offset: -40, Unit: "°C", Min: -40, Max: 150},
			{Name: "pressao_oleo", Start: 2, Length: 1, Resolution: 4, Unit: "kPa", Min: 0, Max: 1000},
		},
	},
}

var byPGN = func() map[uint32]*Definition {
	m := make(map[uint32]*Definition, len(definitions))
	for i := range definitions {
		m[definitions[i].PGN] = &definitions[i]
	}
	return m
}()

// Lookup returns the definition for pgn.
func Lookup(pgn uint32) (*Definition, bool) {
	d, ok := byPGN[pgn]
	return d, ok
}

// Definitions returns a copy of the table in declaration order.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	for i, d := range definitions {
		out[i] = d
		out[i].Params = append([]Param(nil), d.Params...)
	}
	return out
}
