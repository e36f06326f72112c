package fortilog

type logKey struct {
	Type    string
	Subtype string
}

// categories maps known (type, subtype) pairs to display categories.
// Pure configuration data; extend freely for new firmware log types.
var categories = map[logKey]string{
	{"traffic", "forward"}:  "traffic_forward",
	{"traffic", "local"}:    "traffic_local",
	{"traffic", "sniffer"}:  "traffic_sniffer",
	{"utm", "virus"}:        "security_av",
	{"utm", "webfilter"}:    "security_web",
	{"utm", "ips"}:          "security_ips",
	{"utm", "app-ctrl"}:     "security_app",
	{"utm", "dns"}:          "security_dns",
	{"event", "system"}:     "event_system",
	{"event", "vpn"}:        "event_vpn",
	{"event", "user"}:       "event_user",
	{"event", "router"}:     "event_router",
	{"event", "wireless"}:   "event_wireless",
	{"event", "connector"}:  "event_connector",
}

// Categorize derives the display category for a (type, subtype) pair.
// Unknown pairs fall back to "{type}_{subtype}".
func Categorize(logType, subtype string) string {
	if c, ok := categories[logKey{logType, subtype}]; ok {
		return c
	}
	return logType + "_" + subtype
}
