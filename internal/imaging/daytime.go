package imaging

// Daytime is the tri-state light classification carried between captures.
type Daytime int8

const (
	DaytimeUnknown Daytime = iota
	DaytimeDay
	DaytimeNight
)

// DaytimeOf converts a classifier result.
func DaytimeOf(day bool) Daytime {
	if day {
		return DaytimeDay
	}
	return DaytimeNight
}

// String implements fmt.Stringer.
func (d Daytime) String() string {
	switch d {
	case DaytimeDay:
		return "day"
	case DaytimeNight:
		return "night"
	default:
		return "unknown"
	}
}

// MarshalText renders the classification for JSON status documents.
func (d Daytime) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
