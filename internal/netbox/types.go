package netbox

// Collection is a NetBox DCIM API collection.
type Collection string

const (
	Devices       Collection = "devices"
	Sites         Collection = "sites"
	DeviceRoles   Collection = "device-roles"
	DeviceTypes   Collection = "device-types"
	Manufacturers Collection = "manufacturers"
)

// Collections returns the collections this client writes to.
func Collections() []Collection {
	return []Collection{Devices, Sites, DeviceRoles, DeviceTypes, Manufacturers}
}

// LookupField returns the query parameter objects in the collection are looked up by,
// device types are identified by their model and not a name.
func (c Collection) LookupField() string {
	if c == DeviceTypes {
		return "model"
	}

	return "name"
}

// Object is the subset of a NetBox object the reconciler depends on.
type Object struct {
	ID      int    `json:"id"`
	Name    string `json:"name,omitempty"`
	Model   string `json:"model,omitempty"`
	Slug    string `json:"slug,omitempty"`
	Display string `json:"display,omitempty"`
	URL     string `json:"url,omitempty"`
}

// ListResponse represents a paginated NetBox list response.
type ListResponse struct {
	Count    int      `json:"count"`
	Next     string   `json:"next"`
	Previous string   `json:"previous"`
	Results  []Object `json:"results"`
}

// ManufacturerRequest is the body to create a manufacturer.
type ManufacturerRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// DeviceTypeRequest is the body to create a device type.
type DeviceTypeRequest struct {
	Model        string `json:"model"`
	Slug         string `json:"slug"`
	Manufacturer int    `json:"manufacturer"`
}

// DeviceRoleRequest is the body to create a device role.
type DeviceRoleRequest struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Color string `json:"color"`
}

// SiteRequest is the body to create a site.
type SiteRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}
