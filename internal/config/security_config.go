package config

type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota // No authentication
	SecurityAdmin                       // Admin bearer token required
)

// RouteSecurityConfig maps route names to their required security level.
// Route names are the ones registered on the HTTP router.
var RouteSecurityConfig = map[string]SecurityLevel{
	"CreateCase":          SecurityPublic,
	"Health":              SecurityPublic,
	"Metrics":             SecurityPublic,
	"GetCase":             SecurityAdmin,
	"ChangeServiceLevel":  SecurityAdmin,
	"ListPaymentAudit":    SecurityAdmin,
	"ListProcessors":      SecurityAdmin,
	"GetProcessor":        SecurityAdmin,
	"CreateProcessor":     SecurityAdmin,
	"UpdateProcessor":     SecurityAdmin,
	"DeleteProcessor":     SecurityAdmin,
	"SetDefaultProcessor": SecurityAdmin,
	"ListWeights":         SecurityAdmin,
	"ConfigureWeights":    SecurityAdmin,
	"CreateOfflineLink":   SecurityAdmin,
	"GetOfflineLink":      SecurityAdmin,
}

// GetSecurityLevel returns the level for a route, defaulting to admin for unknown routes.
func GetSecurityLevel(route string) SecurityLevel {
	if level, ok := RouteSecurityConfig[route]; ok {
		return level
	}
	return SecurityAdmin
}
