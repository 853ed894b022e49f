// Package scope defines the identity model for scoped service
// registrations. A registration is identified by a service type token
// qualified by two independent axes, zone and region, either of which may
// be wildcarded. Zones are nested inside regions, so lookups narrow
// zone-first: a zone-specific override wins over a region-wide default,
// which wins over a global default.
package scope

import "fmt"

// ServiceType is a stable, process-independent identifier for a service
// interface. Callers supply their own tokens; the registry never inspects
// the instances behind them.
type ServiceType string

// Valid reports whether the type token is usable as a registration key.
func (t ServiceType) Valid() bool {
	return t != ""
}

// Wildcard sentinels for the zone and region axes. A wildcard registration
// applies to every value on that axis; a wildcard lookup matches any
// registration on that axis.
const (
	AnyZone   int32 = -1
	AnyRegion int32 = -1
)

// Key identifies a scoped service registration. It is a comparable value
// type and is used directly as a map key.
type Key struct {
	Type   ServiceType `json:"type"`
	Zone   int32       `json:"zone"`
	Region int32       `json:"region"`
}

// NewKey builds a Key for the given type and axes.
func NewKey(t ServiceType, zone, region int32) Key {
	return Key{Type: t, Zone: zone, Region: region}
}

// GlobalKey builds a fully wildcarded Key for the given type.
func GlobalKey(t ServiceType) Key {
	return Key{Type: t, Zone: AnyZone, Region: AnyRegion}
}

// IsGlobal reports whether both axes are wildcarded.
func (k Key) IsGlobal() bool {
	return k.Zone == AnyZone && k.Region == AnyRegion
}

// Fallbacks returns the candidate keys for resolving k, in strict
// narrowing order: exact match, zone wildcard, region wildcard, global.
// Duplicates are elided when an axis of k is already wildcarded, so the
// result always holds between one and four distinct keys.
func (k Key) Fallbacks() []Key {
	out := make([]Key, 0, 4)
	out = append(out, k)
	if k.Zone != AnyZone {
		out = append(out, Key{Type: k.Type, Zone: AnyZone, Region: k.Region})
	}
	if k.Region != AnyRegion {
		out = append(out, Key{Type: k.Type, Zone: k.Zone, Region: AnyRegion})
	}
	if k.Zone != AnyZone && k.Region != AnyRegion {
		out = append(out, Key{Type: k.Type, Zone: AnyZone, Region: AnyRegion})
	}
	return out
}

// String renders the key for logs and diagnostics. Wildcarded axes render
// as "*".
func (k Key) String() string {
	return fmt.Sprintf("%s[zone=%s region=%s]", k.Type, axis(k.Zone, AnyZone), axis(k.Region, AnyRegion))
}

func axis(v, wildcard int32) string {
	if v == wildcard {
		return "*"
	}
	return fmt.Sprintf("%d", v)
}
