package instance

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/outboxware/outbox/internal/model"
	"github.com/outboxware/outbox/internal/platform/clock"
)

type fakeInstanceStore struct {
	rows map[string]*model.OutboxInstance
}

func newFakeInstanceStore() *fakeInstanceStore {
	return &fakeInstanceStore{rows: map[string]*model.OutboxInstance{}}
}

func (s *fakeInstanceStore) Register(ctx context.Context, inst *model.OutboxInstance) error {
	cp := *inst
	s.rows[inst.InstanceID] = &cp
	return nil
}

func (s *fakeInstanceStore) Heartbeat(ctx context.Context, instanceID string, now time.Time) (int64, error) {
	row, ok := s.rows[instanceID]
	if !ok {
		return 0, nil
	}
	row.LastHeartbeat = now
	return 1, nil
}

func (s *fakeInstanceStore) UpdateStatus(ctx context.Context, instanceID string, status model.InstanceStatus, now time.Time) error {
	row, ok := s.rows[instanceID]
	if !ok {
		return nil
	}
	row.Status = status
	row.UpdatedAt = now
	return nil
}

func (s *fakeInstanceStore) ListAll(ctx context.Context) ([]*model.OutboxInstance, error) {
	var out []*model.OutboxInstance
	for _, row := range s.rows {
		out = append(out, row)
	}
	return out, nil
}

func (s *fakeInstanceStore) Delete(ctx context.Context, instanceID string) error {
	delete(s.rows, instanceID)
	return nil
}

func TestRegisterThenHeartbeat(t *testing.T) {
	st := newFakeInstanceStore()
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	r := New(st, clk, 9090, zerolog.Nop())

	require.NoError(t, r.Register(context.Background()))
	clk.Advance(time.Second)
	require.NoError(t, r.Heartbeat(context.Background()))

	require.Equal(t, clk.Now(), st.rows[r.InstanceID()].LastHeartbeat)
}

func TestHeartbeatReregistersWhenRowMissing(t *testing.T) {
	st := newFakeInstanceStore()
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	r := New(st, clk, 9090, zerolog.Nop())

	require.NoError(t, r.Heartbeat(context.Background()))
	_, ok := st.rows[r.InstanceID()]
	require.True(t, ok)
}

func TestDetectStaleReapsOldPeersNotSelf(t *testing.T) {
	st := newFakeInstanceStore()
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	r := New(st, clk, 9090, zerolog.Nop())
	require.NoError(t, r.Register(context.Background()))

	peerID := "peer-1"
	st.rows[peerID] = &model.OutboxInstance{InstanceID: peerID, LastHeartbeat: clk.Now(), Status: model.InstanceActive}

	clk.Advance(time.Minute)
	reaped, err := r.DetectStale(context.Background(), 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, []string{peerID}, reaped)

	_, selfStillThere := st.rows[r.InstanceID()]
	require.True(t, selfStillThere)
}

func TestShutdownMarksThenDeletesSelf(t *testing.T) {
	st := newFakeInstanceStore()
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	r := New(st, clk, 9090, zerolog.Nop())
	require.NoError(t, r.Register(context.Background()))

	require.NoError(t, r.Shutdown(context.Background(), time.Millisecond))
	_, ok := st.rows[r.InstanceID()]
	require.False(t, ok)
}

func TestListActiveIDsFiltersByStatus(t *testing.T) {
	st := newFakeInstanceStore()
	clk := clock.NewFake(time.Unix(0, 0).UTC())
	r := New(st, clk, 9090, zerolog.Nop())
	require.NoError(t, r.Register(context.Background()))

	st.rows["shutting-down"] = &model.OutboxInstance{InstanceID: "shutting-down", Status: model.InstanceShuttingDown}

	ids, err := r.ListActiveIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{r.InstanceID()}, ids)
}
