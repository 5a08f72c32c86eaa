package device

import (
	"context"
	"testing"
	"time"

	"fieldsync-agent/internal/model"
	"fieldsync-agent/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotsUnavailableUntilPushed(t *testing.T) {
	d := NewSignals(store.NewMemoryStore())
	ctx := context.Background()

	_, err := d.Reachability(ctx)
	assert.ErrorIs(t, err, ErrSignalUnavailable)
	_, err = d.LocationServices(ctx)
	assert.ErrorIs(t, err, ErrSignalUnavailable)
	_, err = d.LastPosition(ctx)
	assert.ErrorIs(t, err, ErrSignalUnavailable)

	reachable := false
	d.SetReachability(model.Reachability{Connected: true, InternetReachable: &reachable})
	r, err := d.Reachability(ctx)
	require.NoError(t, err)
	assert.False(t, r.Online())

	d.SetLocationServices(model.LocationServices{PermissionGranted: true, ServicesEnabled: true})
	l, err := d.LocationServices(ctx)
	require.NoError(t, err)
	assert.True(t, l.Enabled())

	d.SetPosition(model.Position{Latitude: 4.6, Longitude: -74.1, Accuracy: 8, Timestamp: time.Now()})
	p, err := d.LastPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4.6, p.Latitude)
}

func TestTrackingAndSessionArePersisted(t *testing.T) {
	s := store.NewMemoryStore()
	d := NewSignals(s)
	ctx := context.Background()

	assert.False(t, d.TrackingActive(ctx))
	require.NoError(t, d.SetTrackingActive(ctx, true))
	assert.True(t, NewSignals(s).TrackingActive(ctx))

	user, err := d.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	require.NoError(t, d.SetSession(ctx, &model.SessionUser{UserID: 5, TenantID: 2, LocationTracked: true}))
	user, err = NewSignals(s).Session(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(5), user.UserID)

	require.NoError(t, d.SetSession(ctx, nil))
	user, err = d.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestReachabilityOnline(t *testing.T) {
	yes, no := true, false
	assert.True(t, model.Reachability{Connected: true}.Online())
	assert.True(t, model.Reachability{Connected: true, InternetReachable: &yes}.Online())
	assert.False(t, model.Reachability{Connected: true, InternetReachable: &no}.Online())
	assert.False(t, model.Reachability{Connected: false}.Online())
}
