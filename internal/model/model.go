package model

import "strings"

type AppKind string

const (
	AppName = "nbsync"

	AppKindSync   AppKind = "sync"
	AppKindServer AppKind = "server"

	LogLevelInfo  = 0
	LogLevelDebug = 1
	LogLevelTrace = 2
)

// AppKinds returns the supported nbsync app kinds
func AppKinds() []AppKind { return []AppKind{AppKindSync, AppKindServer} }

// LogLevel returns the logging verbosity from the CLI flags,
// the configured level name applies when no flag was given.
func LogLevel(flagLevel int, configured string) int {
	if flagLevel != LogLevelInfo {
		return flagLevel
	}

	switch strings.ToLower(configured) {
	case "debug":
		return LogLevelDebug
	case "trace":
		return LogLevelTrace
	default:
		return LogLevelInfo
	}
}

// DefaultBucket names the sentinel manufacturer, device type, role and site
// that devices fall back to when no better reference is known.
type DefaultBucket struct {
	Name      string
	Slug      string
	RoleColor string
}

// DefaultReferences holds the remote IDs of the default bucket objects.
//
// All four IDs are required to be set before any device is reconciled.
type DefaultReferences struct {
	Manufacturer int
	DeviceType   int
	Role         int
	Site         int
}

// Missing returns the names of the references that are not set.
func (d DefaultReferences) Missing() []string {
	missing := []string{}

	if d.Manufacturer <= 0 {
		missing = append(missing, "manufacturer")
	}

	if d.DeviceType <= 0 {
		missing = append(missing, "device type")
	}

	if d.Role <= 0 {
		missing = append(missing, "device role")
	}

	if d.Site <= 0 {
		missing = append(missing, "site")
	}

	return missing
}

// DevicePayload is the minimal device body written to the inventory.
//
// Zero valued fields are left out of the JSON body, the remote never receives an explicit null.
type DevicePayload struct {
	Name       string `json:"name,omitempty"`
	Site       int    `json:"site,omitempty"`
	Role       int    `json:"role,omitempty"`
	DeviceType int    `json:"device_type,omitempty"`
	// PrimaryIP4 is reserved, devices are not assigned a primary address yet.
	PrimaryIP4 *int `json:"primary_ip4,omitempty"`
}

// WithoutName returns a copy of the payload with the identifying name removed,
// the name is not sent again when updating an existing device.
func (p DevicePayload) WithoutName() DevicePayload {
	p.Name = ""
	return p
}
