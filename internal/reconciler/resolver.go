package reconciler

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/metal-toolbox/nbsync/internal/netbox"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrDefaultReferences = errors.New("unable to resolve default references")
	ErrReference         = errors.New("reference lookup error")

	slugInvalidChars = regexp.MustCompile(`[^a-z0-9_]+`)
)

// Inventory is the remote inventory the reconciler reads and writes objects in.
type Inventory interface {
	// Find returns the first object in the collection matching the name, nil when none match.
	Find(ctx context.Context, collection netbox.Collection, name string) (*netbox.Object, error)
	// Create creates an object in the collection.
	Create(ctx context.Context, collection netbox.Collection, payload interface{}) (*netbox.Object, error)
	// Update partially updates the object identified by id.
	Update(ctx context.Context, collection netbox.Collection, id int, payload interface{}) (*netbox.Object, error)
}

// Resolver maps reference names to remote object IDs.
type Resolver struct {
	inventory Inventory
	logger    *logrus.Logger
}

// NewResolver returns a Resolver over the inventory.
func NewResolver(inventory Inventory, logger *logrus.Logger) *Resolver {
	return &Resolver{inventory: inventory, logger: logger}
}

// Find returns the ID of the first object of the kind matching the name.
func (r *Resolver) Find(ctx context.Context, kind netbox.Collection, name string) (int, bool, error) {
	obj, err := r.inventory.Find(ctx, kind, name)
	if err != nil {
		return 0, false, err
	}

	if obj == nil || obj.ID <= 0 {
		return 0, false, nil
	}

	return obj.ID, true, nil
}

// GetOrCreate returns the ID of the object of the kind matching the name,
// the object is created with the payload when it does not exist.
//
// A create rejected because the object was created in the meantime is followed by a single lookup.
func (r *Resolver) GetOrCreate(ctx context.Context, kind netbox.Collection, name string, payload interface{}) (int, error) {
	id, found, err := r.Find(ctx, kind, name)
	if err != nil {
		return 0, err
	}

	if found {
		return id, nil
	}

	obj, err := r.inventory.Create(ctx, kind, payload)
	if err != nil {
		if !netbox.IsConflict(err) {
			return 0, err
		}

		r.logger.WithFields(logrus.Fields{
			"kind": kind,
			"name": name,
		}).Debug("create conflict, looking up existing object")

		id, found, ferr := r.Find(ctx, kind, name)
		if ferr != nil {
			return 0, ferr
		}

		if !found {
			return 0, err
		}

		return id, nil
	}

	if obj == nil || obj.ID <= 0 {
		return 0, errors.Wrap(ErrReference, fmt.Sprintf("created %s %q returned no ID", kind, name))
	}

	r.logger.WithFields(logrus.Fields{
		"kind": kind,
		"name": name,
		"id":   obj.ID,
	}).Info("reference created")

	return obj.ID, nil
}

// ResolveDefaults finds or creates the default bucket objects.
//
// The manufacturer is resolved first since the device type is created with its ID.
func (r *Resolver) ResolveDefaults(ctx context.Context, bucket model.DefaultBucket) (model.DefaultReferences, error) {
	refs := model.DefaultReferences{}

	slug := bucket.Slug
	if slug == "" {
		slug = Slugify(bucket.Name)
	}

	var err error

	refs.Manufacturer, err = r.GetOrCreate(ctx, netbox.Manufacturers, bucket.Name,
		netbox.ManufacturerRequest{Name: bucket.Name, Slug: slug},
	)
	if err != nil {
		return refs, defaultReferenceError("manufacturer", bucket.Name, err)
	}

	refs.DeviceType, err = r.GetOrCreate(ctx, netbox.DeviceTypes, bucket.Name,
		netbox.DeviceTypeRequest{Model: bucket.Name, Slug: slug, Manufacturer: refs.Manufacturer},
	)
	if err != nil {
		return refs, defaultReferenceError("device type", bucket.Name, err)
	}

	refs.Role, err = r.GetOrCreate(ctx, netbox.DeviceRoles, bucket.Name,
		netbox.DeviceRoleRequest{Name: bucket.Name, Slug: slug, Color: bucket.RoleColor},
	)
	if err != nil {
		return refs, defaultReferenceError("device role", bucket.Name, err)
	}

	refs.Site, err = r.GetOrCreate(ctx, netbox.Sites, bucket.Name,
		netbox.SiteRequest{Name: bucket.Name, Slug: slug},
	)
	if err != nil {
		return refs, defaultReferenceError("site", bucket.Name, err)
	}

	if missing := refs.Missing(); len(missing) > 0 {
		return refs, errors.Wrap(ErrDefaultReferences, "missing "+strings.Join(missing, ", "))
	}

	return refs, nil
}

func defaultReferenceError(kind, name string, cause error) error {
	return errors.Wrap(
		ErrDefaultReferences,
		fmt.Sprintf("default %s %q could not be found or created, pre-create it in NetBox and retry: %s", kind, name, cause.Error()),
	)
}

// Slugify returns a NetBox compatible slug for the name.
func Slugify(name string) string {
	return strings.Trim(slugInvalidChars.ReplaceAllString(strings.ToLower(name), "-"), "-")
}
