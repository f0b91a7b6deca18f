package domain

import "time"

// FlowRecord is a single normalized network-flow observation for an
// application. Records are immutable; predictors reference them but never
// own or mutate them.
type FlowRecord struct {
	AppCode        string    `json:"app_code"`
	SourceEndpoint string    `json:"source_endpoint"`
	DestEndpoint   string    `json:"dest_endpoint"`
	Protocol       string    `json:"protocol"`
	Port           int       `json:"port"`
	BytesIn        int64     `json:"bytes_in"`
	BytesOut       int64     `json:"bytes_out"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Well-known server ports used when inferring the role of a flow target.
// The mapping is deliberately coarse; it seeds zone and dependency-type
// hints, it does not decide classification on its own.
var portZones = map[int]Zone{
	80:    ZoneWeb,
	443:   ZoneWeb,
	8080:  ZoneWeb,
	8443:  ZoneWeb,
	3306:  ZoneData,
	5432:  ZoneData,
	1521:  ZoneData,
	1433:  ZoneData,
	27017: ZoneData,
	6379:  ZoneCache,
	11211: ZoneCache,
	5672:  ZoneMessaging,
	9092:  ZoneMessaging,
	61616: ZoneMessaging,
	22:    ZoneManagement,
	161:   ZoneManagement,
	3389:  ZoneManagement,
}

// PortZone returns the zone hint for a well-known port, or UNKNOWN when the
// port carries no signal.
func PortZone(port int) Zone {
	if z, ok := portZones[port]; ok {
		return z
	}
	return ZoneUnknown
}

// IsOutbound reports whether the flow leaves the application, i.e. the
// application is the source endpoint.
func (f *FlowRecord) IsOutbound() bool {
	return f.SourceEndpoint == f.AppCode
}

// Peer returns the endpoint on the far side of the flow from the
// application's perspective.
func (f *FlowRecord) Peer() string {
	if f.IsOutbound() {
		return f.DestEndpoint
	}
	return f.SourceEndpoint
}

// TotalBytes returns the combined volume of the flow in both directions.
func (f *FlowRecord) TotalBytes() int64 {
	return f.BytesIn + f.BytesOut
}
