package reconciler

import "github.com/metal-toolbox/nbsync/internal/model"

// BuildPayload returns the device payload for a record placed in the site,
// the role and device type are always the defaults.
func BuildPayload(name string, siteID int, defaults model.DefaultReferences) model.DevicePayload {
	return model.DevicePayload{
		Name:       name,
		Site:       siteID,
		Role:       defaults.Role,
		DeviceType: defaults.DeviceType,
	}
}
