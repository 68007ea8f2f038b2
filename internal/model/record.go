package model

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Device record attribute keys.
const (
	FieldName         = "name"
	FieldDisplayName  = "display_name"
	FieldSysName      = "sysName"
	FieldLocation     = "location"
	FieldSysLocation  = "sysLocation"
	FieldManagementIP = "management_ip"
	FieldInterfaces   = "interfaces"
)

var (
	ErrInvalidRecord = errors.New("invalid device record")

	// displayNameFields are looked up in order when a record has no name.
	displayNameFields = []string{FieldDisplayName, FieldSysName}

	// locationFields are looked up in order for the device site name.
	locationFields = []string{FieldLocation, FieldSysLocation}
)

// DeviceRecord is one discovered device as read from a snapshot.
//
// Apart from the name, location and management address, attributes are passed through untouched.
type DeviceRecord map[string]interface{}

// Name returns the device name, or an empty string when not set.
func (r DeviceRecord) Name() string {
	return r.stringField(FieldName)
}

// Location returns the free-text site name of the device.
func (r DeviceRecord) Location() string {
	for _, key := range locationFields {
		if value := r.stringField(key); value != "" {
			return value
		}
	}

	return ""
}

// ManagementIP returns the snapshot identifier the record was keyed by.
func (r DeviceRecord) ManagementIP() string {
	return r.stringField(FieldManagementIP)
}

// ApplyNameFallback copies the display name into the name field when the record has no name.
//
// This is the only change made to a record once it is loaded.
func (r DeviceRecord) ApplyNameFallback() {
	if r.Name() != "" {
		return
	}

	for _, key := range displayNameFields {
		if value := r.stringField(key); value != "" {
			r[FieldName] = value
			return
		}
	}
}

// Validate returns ErrInvalidRecord when the required name is missing or empty.
func (r DeviceRecord) Validate() error {
	if r == nil {
		return errors.Wrap(ErrInvalidRecord, "nil record")
	}

	if r.Name() == "" {
		if ip := r.ManagementIP(); ip != "" {
			return errors.Wrap(ErrInvalidRecord, fmt.Sprintf("record %s has no name", ip))
		}

		return errors.Wrap(ErrInvalidRecord, "record has no name")
	}

	return nil
}

func (r DeviceRecord) stringField(key string) string {
	value, exists := r[key]
	if !exists || value == nil {
		return ""
	}

	s, ok := value.(string)
	if !ok {
		return ""
	}

	return strings.TrimSpace(s)
}
