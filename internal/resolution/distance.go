package resolution

import (
	"math"
	"strconv"
)

const (
	// UnknownRank is reported for entries without usable signal data.
	UnknownRank = 1000

	rssiSentinelMaximum = 127
	rssiSentinelInvalid = 128

	pathLossReferenceDecibels = 41
	pathLossDecadeDivisor     = 20
)

// Distance is a computed proximity estimate. Known is false when the
// signal data was absent, non-numeric, or an RSSI sentinel value.
type Distance struct {
	Meters float64
	Known  bool
}

// Rank converts the distance into the response rank: the distance itself
// when known, otherwise the fixed UnknownRank value.
func (distance Distance) Rank() float64 {
	if !distance.Known {
		return UnknownRank
	}
	return distance.Meters
}

// Less orders known distances ascending and places unknown distances after
// every known one. Ties report false so that a stable sort preserves the
// input order.
func (distance Distance) Less(other Distance) bool {
	if distance.Known && other.Known {
		return distance.Meters < other.Meters
	}
	return distance.Known && !other.Known
}

// ComputeDistance converts a raw RSSI and TxPower pair into a distance
// estimate. RSSI 127 (MAX) and 128 (INVALID) are wire sentinels and yield
// an unknown distance.
func ComputeDistance(rawRSSI any, rawTxPower any) Distance {
	rssi, rssiOK := numericValue(rawRSSI)
	txPower, txPowerOK := numericValue(rawTxPower)
	if !rssiOK || !txPowerOK {
		return Distance{}
	}
	if rssi == rssiSentinelMaximum || rssi == rssiSentinelInvalid {
		return Distance{}
	}

	pathLoss := txPower - rssi
	return Distance{
		Meters: math.Pow(10, (pathLoss-pathLossReferenceDecibels)/pathLossDecadeDivisor),
		Known:  true,
	}
}

// numericValue coerces a decoded JSON value into a float64. Numeric
// strings are accepted the same way the wire format historically allowed.
func numericValue(raw any) (float64, bool) {
	switch value := raw.(type) {
	case float64:
		return value, true
	case int:
		return float64(value), true
	case string:
		parsed, parseErr := strconv.ParseFloat(value, 64)
		if parseErr != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
