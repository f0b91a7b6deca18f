package domain

// Zone is a security-tier label assigned to an application.
// The set is closed: every classification resolves to one of these values.
type Zone string

const (
	ZoneWeb        Zone = "WEB_TIER"
	ZoneApp        Zone = "APP_TIER"
	ZoneData       Zone = "DATA_TIER"
	ZoneCache      Zone = "CACHE_TIER"
	ZoneMessaging  Zone = "MESSAGING_TIER"
	ZoneManagement Zone = "MANAGEMENT_TIER"
	ZoneExternal   Zone = "EXTERNAL"
	ZoneUnknown    Zone = "UNKNOWN"
)

// AllZones lists every valid zone label in a stable order.
var AllZones = []Zone{
	ZoneWeb,
	ZoneApp,
	ZoneData,
	ZoneCache,
	ZoneMessaging,
	ZoneManagement,
	ZoneExternal,
	ZoneUnknown,
}

// IsValid reports whether z is a member of the closed zone set.
func (z Zone) IsValid() bool {
	for _, known := range AllZones {
		if z == known {
			return true
		}
	}
	return false
}

// ParseZone maps a raw label to a Zone, falling back to UNKNOWN for
// anything outside the closed set.
func ParseZone(s string) Zone {
	z := Zone(s)
	if z.IsValid() {
		return z
	}
	return ZoneUnknown
}
