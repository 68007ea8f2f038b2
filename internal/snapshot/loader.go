// Package snapshot reads the static device inventory that stands in for a live discovery feed.
//
// A snapshot is a document keyed by device management address, each value is the
// attribute bundle of the device:
//
//	{
//	  "10.0.0.1": {"sysName": "core-sw01", "sysLocation": "HQ", "interfaces": [...]},
//	  "10.0.0.2": {"sysName": "edge-rtr01"}
//	}
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

var (
	ErrSnapshotRead   = errors.New("error reading snapshot")
	ErrSnapshotFormat = errors.New("invalid snapshot format")
)

// Loader loads device records from a snapshot file.
type Loader struct {
	path   string
	logger *logrus.Logger
}

// NewLoader returns a Loader for the snapshot at path.
func NewLoader(path string, logger *logrus.Logger) *Loader {
	return &Loader{path: path, logger: logger}
}

// Path returns the snapshot file path.
func (l *Loader) Path() string {
	return l.path
}

// Load returns the device records in the snapshot, ordered by management address.
//
// A missing or malformed snapshot is logged and results in no records, it is never an error to the caller.
func (l *Loader) Load() []model.DeviceRecord {
	records, err := l.load()
	if err != nil {
		l.logger.WithFields(logrus.Fields{
			"path": l.path,
			"err":  err.Error(),
		}).Warn("snapshot not loaded, no devices to sync")

		return []model.DeviceRecord{}
	}

	l.logger.WithFields(logrus.Fields{
		"path":    l.path,
		"devices": len(records),
	}).Debug("snapshot loaded")

	return records
}

func (l *Loader) load() ([]model.DeviceRecord, error) {
	if l.path == "" {
		return nil, errors.Wrap(ErrSnapshotRead, "no snapshot file given")
	}

	b, err := os.ReadFile(l.path)
	if err != nil {
		return nil, errors.Wrap(ErrSnapshotRead, err.Error())
	}

	var doc interface{}

	switch strings.ToLower(filepath.Ext(l.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &doc)
	default:
		err = json.Unmarshal(b, &doc)
	}

	if err != nil {
		return nil, errors.Wrap(ErrSnapshotFormat, err.Error())
	}

	devices, ok := doc.(map[string]interface{})
	if !ok {
		return nil, errors.Wrap(ErrSnapshotFormat, fmt.Sprintf("expected an object, got %T", doc))
	}

	if len(devices) == 0 {
		return nil, errors.Wrap(ErrSnapshotFormat, "snapshot is empty")
	}

	return l.records(devices), nil
}

func (l *Loader) records(devices map[string]interface{}) []model.DeviceRecord {
	ids := maps.Keys(devices)
	slices.Sort(ids)

	records := make([]model.DeviceRecord, 0, len(ids))

	for _, id := range ids {
		attrs, ok := devices[id].(map[string]interface{})
		if !ok {
			l.logger.WithFields(logrus.Fields{
				"path":         l.path,
				"managementIP": id,
			}).Warn("snapshot entry is not an object, skipped")

			continue
		}

		record := model.DeviceRecord(maps.Clone(attrs))

		record[model.FieldManagementIP] = id
		records = append(records, record)
	}

	return records
}

// FilterRecords returns the records whose attributes equal every criteria value.
func FilterRecords(records []model.DeviceRecord, criteria map[string]string) []model.DeviceRecord {
	if len(criteria) == 0 {
		return records
	}

	filtered := []model.DeviceRecord{}

	for _, record := range records {
		if matches(record, criteria) {
			filtered = append(filtered, record)
		}
	}

	return filtered
}

func matches(record model.DeviceRecord, criteria map[string]string) bool {
	for key, want := range criteria {
		value, exists := record[key]
		if !exists || value == nil {
			return false
		}

		if fmt.Sprint(value) != want {
			return false
		}
	}

	return true
}

// ParseCriteria parses key=value pairs into filter criteria.
func ParseCriteria(pairs []string) (map[string]string, error) {
	criteria := map[string]string{}

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, errors.New("invalid filter, expected key=value: " + pair)
		}

		criteria[strings.TrimSpace(key)] = value
	}

	return criteria, nil
}
