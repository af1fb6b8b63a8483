package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Signals are the typed values the rules operate on, extracted from a raw
// record with per-field defaults. Extraction never fails: anything that
// cannot be coerced falls back to its default so malformed upstream data
// cannot crash scoring.
type Signals struct {
	Amount      float64
	ProductType string
	Hour        int
	Reputation  string
	IPRisk      string
	EmailRisk   string
	DeviceRisk  string
	Chargebacks int
	LatencyMs   int
	Freq30d     int
	BinCountry  string
	IPCountry   string
}

// ExtractSignals normalizes a raw record into typed signals.
func ExtractSignals(rec domain.Record) Signals {
	return Signals{
		Amount:      asFloat(rec[domain.FieldAmount], 0.0),
		ProductType: asLowerString(rec[domain.FieldProductType], DefaultProductKey),
		Hour:        asInt(rec[domain.FieldHour], 12),
		Reputation:  asLowerString(rec[domain.FieldUserReputation], "new"),
		IPRisk:      asLowerString(rec[domain.FieldIPRisk], "low"),
		EmailRisk:   asLowerString(rec[domain.FieldEmailRisk], "low"),
		DeviceRisk:  asLowerString(rec[domain.FieldDeviceRisk], "low"),
		Chargebacks: asInt(rec[domain.FieldChargebacks], 0),
		LatencyMs:   asInt(rec[domain.FieldLatencyMs], 0),
		Freq30d:     asInt(rec[domain.FieldCustomerTxn30d], 0),
		BinCountry:  asUpperString(rec[domain.FieldBinCountry], ""),
		IPCountry:   asUpperString(rec[domain.FieldIPCountry], ""),
	}
}

// asInt coerces a loosely typed value to int, returning def when the
// value is missing or unparseable. Floats are truncated; strings must be
// whole integers.
func asInt(v any, def int) int {
	switch t := v.(type) {
	case nil:
		return def
	case int:
		return t
	case int8:
		return int(t)
	case int16:
		return int(t)
	case int32:
		return int(t)
	case int64:
		return int(t)
	case uint:
		return int(t)
	case uint8:
		return int(t)
	case uint16:
		return int(t)
	case uint32:
		return int(t)
	case uint64:
		return int(t)
	case float32:
		return int(t)
	case float64:
		return int(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// asFloat coerces a loosely typed value to float64, returning def when
// the value is missing or unparseable.
func asFloat(v any, def float64) float64 {
	switch t := v.(type) {
	case nil:
		return def
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// asLowerString coerces a value to a lower-cased string. Only a missing
// (nil) value takes the default; a present empty string stays empty.
func asLowerString(v any, def string) string {
	if v == nil {
		return strings.ToLower(def)
	}
	return strings.ToLower(stringify(v))
}

// asUpperString coerces a value to an upper-cased string.
func asUpperString(v any, def string) string {
	if v == nil {
		return strings.ToUpper(def)
	}
	return strings.ToUpper(stringify(v))
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	// Numbers arriving via JSON are float64; render whole values
	// without a trailing ".0" so they read like the original field.
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
