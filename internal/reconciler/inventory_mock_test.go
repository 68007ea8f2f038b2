package reconciler

import (
	"context"

	"github.com/metal-toolbox/nbsync/internal/events"
	"github.com/metal-toolbox/nbsync/internal/netbox"
	"github.com/stretchr/testify/mock"
)

type mockInventory struct {
	mock.Mock
}

func (m *mockInventory) Find(ctx context.Context, collection netbox.Collection, name string) (*netbox.Object, error) {
	args := m.Called(ctx, collection, name)

	obj, _ := args.Get(0).(*netbox.Object)

	return obj, args.Error(1)
}

func (m *mockInventory) Create(ctx context.Context, collection netbox.Collection, payload interface{}) (*netbox.Object, error) {
	args := m.Called(ctx, collection, payload)

	obj, _ := args.Get(0).(*netbox.Object)

	return obj, args.Error(1)
}

func (m *mockInventory) Update(ctx context.Context, collection netbox.Collection, id int, payload interface{}) (*netbox.Object, error) {
	args := m.Called(ctx, collection, id, payload)

	obj, _ := args.Get(0).(*netbox.Object)

	return obj, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event *events.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *mockPublisher) Close() {
	m.Called()
}
