package grammar

import "strings"

// AdminKind identifies an admin console command.
type AdminKind int

const (
	AdminNone AdminKind = iota
	AdminAssignRoute
	AdminRemoveRoute
	AdminListRoutes
	AdminOverlay
	AdminClear
	AdminEmergencyStop
	AdminStats
	AdminRateLimitStats
	AdminRateLimitReset
	AdminInstances
)

// String returns the command name used in logs and coordination events.
func (k AdminKind) String() string {
	switch k {
	case AdminAssignRoute:
		return "route_add"
	case AdminRemoveRoute:
		return "route_remove"
	case AdminListRoutes:
		return "routes"
	case AdminOverlay:
		return "overlay_toggle"
	case AdminClear:
		return "clear"
	case AdminEmergencyStop:
		return "emergency_stop"
	case AdminStats:
		return "stats"
	case AdminRateLimitStats:
		return "ratelimit"
	case AdminRateLimitReset:
		return "ratelimit_reset"
	case AdminInstances:
		return "instances"
	default:
		return "none"
	}
}

// AdminCommand is a parsed admin console line.
type AdminCommand struct {
	Kind     AdminKind
	Output   string // AdminAssignRoute, AdminRemoveRoute (lowercased)
	Variable string // AdminAssignRoute, as typed; validate with ParseVariable
	Enabled  bool   // AdminOverlay
}

const routeArrow = "→"

// ParseAdminCommand recognises admin console lines:
//
//	<output> → <variable>
//	<output> to <variable>
//	remove <output>
//	routes | list routes | routing
//	overlay on | overlay off
//	clear
//	emergency stop
//	stats
//	rate | ratelimit
//	rate reset | ratelimit reset
//	instances
//
// An optional "!admin " prefix is accepted. Returns false for anything else.
func ParseAdminCommand(text string) (AdminCommand, bool) {
	t := strings.TrimSpace(text)
	if len(t) >= len("!admin") && strings.EqualFold(t[:len("!admin")], "!admin") {
		t = strings.TrimSpace(t[len("!admin"):])
	}
	lower := strings.ToLower(t)

	switch lower {
	case "overlay on":
		return AdminCommand{Kind: AdminOverlay, Enabled: true}, true
	case "overlay off":
		return AdminCommand{Kind: AdminOverlay, Enabled: false}, true
	case "routes", "list routes", "routing":
		return AdminCommand{Kind: AdminListRoutes}, true
	case "clear":
		return AdminCommand{Kind: AdminClear}, true
	case "emergency stop":
		return AdminCommand{Kind: AdminEmergencyStop}, true
	case "stats":
		return AdminCommand{Kind: AdminStats}, true
	case "rate", "ratelimit":
		return AdminCommand{Kind: AdminRateLimitStats}, true
	case "rate reset", "ratelimit reset":
		return AdminCommand{Kind: AdminRateLimitReset}, true
	case "instances":
		return AdminCommand{Kind: AdminInstances}, true
	}

	if output, variable, ok := strings.Cut(t, routeArrow); ok {
		output, variable = strings.TrimSpace(output), strings.TrimSpace(variable)
		if isRouteToken(output) && isRouteToken(variable) {
			return AdminCommand{Kind: AdminAssignRoute, Output: strings.ToLower(output), Variable: variable}, true
		}
		return AdminCommand{}, false
	}

	fields := strings.Fields(t)
	switch {
	case len(fields) == 3 && strings.EqualFold(fields[1], "to") && isRouteToken(fields[0]) && isRouteToken(fields[2]):
		return AdminCommand{Kind: AdminAssignRoute, Output: strings.ToLower(fields[0]), Variable: fields[2]}, true
	case len(fields) == 2 && strings.EqualFold(fields[0], "remove") && isRouteToken(fields[1]):
		return AdminCommand{Kind: AdminRemoveRoute, Output: strings.ToLower(fields[1])}, true
	}

	return AdminCommand{}, false
}

// IsRoutingDisplay reports whether text asks for the routing overlay.
func IsRoutingDisplay(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "routes", "all active", "routing", "show routes":
		return true
	}
	return false
}

func isRouteToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isAlnum(c) && c != '#' && c != '.' {
			return false
		}
	}
	return true
}
