package netbox

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/metal-toolbox/nbsync/internal/app"
	"github.com/metal-toolbox/nbsync/internal/fixtures"
	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, endpoint string, maxRetries int) *Client {
	t.Helper()

	client, err := New(
		&app.NetboxOptions{
			Endpoint:     endpoint,
			Token:        fixtures.NetboxToken,
			Timeout:      2 * time.Second,
			MaxRetries:   maxRetries,
			RetryWaitMin: time.Millisecond,
			RetryWaitMax: 5 * time.Millisecond,
		},
		logrus.New(),
	)
	require.NoError(t, err)

	return client
}

func TestNew(t *testing.T) {
	_, err := New(&app.NetboxOptions{Token: "x"}, logrus.New())
	assert.ErrorIs(t, err, app.ErrConfig)

	_, err = New(&app.NetboxOptions{Endpoint: "https://netbox.example.com"}, logrus.New())
	assert.ErrorIs(t, err, app.ErrConfig)

	client, err := New(&app.NetboxOptions{Endpoint: "https://netbox.example.com/api/", Token: "x"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "https://netbox.example.com/api/dcim/devices/", client.collectionURL(Devices))
	assert.Equal(t, "https://netbox.example.com/api/dcim/device-roles/3/", client.objectURL(DeviceRoles, 3))
	assert.Equal(t, 30*time.Second, client.client.HTTPClient.Timeout)
}

func TestFind(t *testing.T) {
	srv := fixtures.NewNetboxServer()
	defer srv.Close()

	siteID := srv.Seed(string(Sites), map[string]interface{}{"name": "HQ", "slug": "hq"})
	typeID := srv.Seed(string(DeviceTypes), map[string]interface{}{"model": "Discovered", "slug": "discovered"})

	client := newTestClient(t, srv.URL, 0)

	obj, err := client.Find(context.Background(), Sites, "HQ")
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, siteID, obj.ID)
	assert.Equal(t, "HQ", obj.Name)

	obj, err = client.Find(context.Background(), Sites, "Nowhere")
	require.NoError(t, err)
	assert.Nil(t, obj)

	obj, err = client.Find(context.Background(), DeviceTypes, "Discovered")
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, typeID, obj.ID)

	reqs := srv.Requests(http.MethodGet, string(DeviceTypes))
	require.Len(t, reqs, 1)
	assert.Equal(t, "Discovered", reqs[0].Query["model"])
}

func TestCreateAndUpdate(t *testing.T) {
	srv := fixtures.NewNetboxServer()
	defer srv.Close()

	client := newTestClient(t, srv.URL, 0)

	created, err := client.Create(
		context.Background(),
		Devices,
		model.DevicePayload{Name: "sw01", Site: 1, Role: 2, DeviceType: 3},
	)
	require.NoError(t, err)
	assert.Greater(t, created.ID, 0)
	assert.Equal(t, "sw01", created.Name)

	posts := srv.Requests(http.MethodPost, string(Devices))
	require.Len(t, posts, 1)
	assert.Equal(t, "sw01", posts[0].Body["name"])
	assert.NotContains(t, posts[0].Body, "primary_ip4")

	updated, err := client.Update(
		context.Background(),
		Devices,
		created.ID,
		model.DevicePayload{Name: "sw01", Site: 9}.WithoutName(),
	)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	patches := srv.Requests(http.MethodPatch, string(Devices))
	require.Len(t, patches, 1)
	assert.Equal(t, created.ID, patches[0].ID)
	assert.NotContains(t, patches[0].Body, "name")
	assert.EqualValues(t, 9, patches[0].Body["site"])
}

func TestAPIError(t *testing.T) {
	srv := fixtures.NewNetboxServer()
	defer srv.Close()

	srv.Seed(string(Sites), map[string]interface{}{"name": "HQ", "slug": "hq"})

	client := newTestClient(t, srv.URL, 0)

	// duplicate names are rejected as a conflict
	_, err := client.Create(context.Background(), Sites, SiteRequest{Name: "HQ", Slug: "hq"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetbox)
	assert.True(t, IsConflict(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "already exists")

	_, err = client.Update(context.Background(), Sites, 9999, SiteRequest{Name: "x"})
	assert.ErrorIs(t, err, ErrNetbox)
	assert.False(t, IsConflict(err))

	// bad token
	badToken, err := New(&app.NetboxOptions{Endpoint: srv.URL, Token: "wrong"}, logrus.New())
	require.NoError(t, err)

	_, err = badToken.Find(context.Background(), Sites, "HQ")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestRetries(t *testing.T) {
	srv := fixtures.NewNetboxServer()
	defer srv.Close()

	srv.Seed(string(Sites), map[string]interface{}{"name": "HQ"})
	srv.FailOn(fixtures.NetboxFailure{Method: http.MethodGet, Collection: string(Sites), Status: http.StatusServiceUnavailable, Times: 2})
	srv.FailOn(fixtures.NetboxFailure{Method: http.MethodPost, Collection: string(Sites), Status: http.StatusBadGateway, Times: 1})

	client := newTestClient(t, srv.URL, 3)

	// lookups are retried until the server recovers
	obj, err := client.Find(context.Background(), Sites, "HQ")
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Len(t, srv.Requests(http.MethodGet, string(Sites)), 3)

	// creates are never retried
	_, err = client.Create(context.Background(), Sites, SiteRequest{Name: "Lab", Slug: "lab"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Len(t, srv.Requests(http.MethodPost, string(Sites)), 1)
}

func TestRetriesExhausted(t *testing.T) {
	srv := fixtures.NewNetboxServer()
	defer srv.Close()

	srv.FailOn(fixtures.NetboxFailure{Method: http.MethodGet, Status: http.StatusInternalServerError})

	client := newTestClient(t, srv.URL, 2)

	_, err := client.Find(context.Background(), Devices, "sw01")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Len(t, srv.Requests(http.MethodGet, string(Devices)), 3)
}

func TestTransportError(t *testing.T) {
	srv := fixtures.NewNetboxServer()
	endpoint := srv.URL
	srv.Close()

	client := newTestClient(t, endpoint, 1)

	_, err := client.Find(context.Background(), Devices, "sw01")
	assert.ErrorIs(t, err, ErrTransport)
	assert.NotErrorIs(t, err, ErrNetbox)
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(&APIError{StatusCode: http.StatusConflict}))
	assert.True(t, IsConflict(&APIError{StatusCode: http.StatusBadRequest, Body: `{"__all__":["Device name must be unique per site."]}`}))
	assert.False(t, IsConflict(&APIError{StatusCode: http.StatusBadRequest, Body: `{"site":["This field is required."]}`}))
	assert.False(t, IsConflict(ErrTransport))
}

func TestJitterBackoff(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		wait := jitterBackoff(10*time.Millisecond, 100*time.Millisecond, attempt, nil)
		assert.LessOrEqual(t, wait, 100*time.Millisecond)
	}
}
