package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"learnhub/realtime-service/models"
	"learnhub/realtime-service/utils"
)

type statusRecorder struct {
	mu     sync.Mutex
	events []models.UserStatusChanged
}

func (r *statusRecorder) listener(userID string, status models.PresenceStatus) {
	r.mu.Lock()
	r.events = append(r.events, models.UserStatusChanged{UserID: userID, Status: status})
	r.mu.Unlock()
}

func (r *statusRecorder) all() []models.UserStatusChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.UserStatusChanged(nil), r.events...)
}

func newRecordedRegistry() (*PresenceRegistry, *statusRecorder) {
	pr := NewPresenceRegistry(utils.NewNopLogger())
	rec := &statusRecorder{}
	pr.OnStatusChange(rec.listener)
	return pr, rec
}

func TestPresence_MultiDeviceLifecycle(t *testing.T) {
	pr, rec := newRecordedRegistry()
	web, mobile := newFakeConn("c1"), newFakeConn("c2")

	require.True(t, pr.Bind("A", "web1", web))
	require.False(t, pr.Bind("A", "mobile1", mobile))
	require.True(t, pr.IsOnline("A"))

	require.False(t, pr.Unbind("A", "mobile1"))
	require.True(t, pr.IsOnline("A"))

	require.True(t, pr.Unbind("A", "web1"))
	require.False(t, pr.IsOnline("A"))

	require.Equal(t, []models.UserStatusChanged{
		{UserID: "A", Status: models.StatusOnline},
		{UserID: "A", Status: models.StatusOffline},
	}, rec.all())
}

func TestPresence_SecondClientDoesNotEmitOnline(t *testing.T) {
	pr, rec := newRecordedRegistry()

	pr.Bind("A", "web1", newFakeConn("c1"))
	pr.Bind("A", "web2", newFakeConn("c2"))
	pr.Bind("A", "web1", newFakeConn("c3"))

	require.Len(t, rec.all(), 1)
	require.Equal(t, []string{"web1", "web2"}, pr.Clients("A"))
}

func TestPresence_RebindReplacesHandle(t *testing.T) {
	pr, _ := newRecordedRegistry()
	old, fresh := newFakeConn("old"), newFakeConn("new")

	pr.Bind("A", "web1", old)
	pr.Bind("A", "web1", fresh)

	conns := pr.Connections("A")
	require.Len(t, conns, 1)
	require.Same(t, fresh, conns[0])
}

func TestPresence_UnbindOwnedIgnoresStaleHandle(t *testing.T) {
	pr, rec := newRecordedRegistry()
	old, fresh := newFakeConn("old"), newFakeConn("new")

	pr.Bind("A", "web1", old)
	pr.Bind("A", "web1", fresh)

	require.False(t, pr.UnbindOwned("A", "web1", old))
	require.True(t, pr.IsOnline("A"))

	require.True(t, pr.UnbindOwned("A", "web1", fresh))
	require.False(t, pr.IsOnline("A"))
	require.Len(t, rec.all(), 2)
}

func TestPresence_UnbindUnknownIsNoop(t *testing.T) {
	pr, rec := newRecordedRegistry()

	require.False(t, pr.Unbind("ghost", "web1"))
	pr.Bind("A", "web1", newFakeConn("c1"))
	require.False(t, pr.Unbind("A", "other"))

	require.Len(t, rec.all(), 1)
}

func TestPresence_UnbindConnScansAllBindings(t *testing.T) {
	pr, rec := newRecordedRegistry()
	shared, other := newFakeConn("shared"), newFakeConn("other")

	pr.Bind("A", "legacy:shared", shared)
	pr.Bind("B", "web1", shared)
	pr.Bind("B", "web2", other)

	removed := pr.UnbindConn(shared)
	require.ElementsMatch(t, []models.Binding{
		{UserID: "A", ClientID: "legacy:shared"},
		{UserID: "B", ClientID: "web1"},
	}, removed)

	require.False(t, pr.IsOnline("A"))
	require.True(t, pr.IsOnline("B"))

	offline := 0
	for _, e := range rec.all() {
		if e.Status == models.StatusOffline {
			offline++
			require.Equal(t, "A", e.UserID)
		}
	}
	require.Equal(t, 1, offline)
}

func TestPresence_ConcurrentDevicesEmitOnce(t *testing.T) {
	pr, rec := newRecordedRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newFakeConn(string(rune('a' + i)))
			pr.Bind("A", c.ID(), c)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pr.Unbind("A", string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	require.Equal(t, []models.UserStatusChanged{
		{UserID: "A", Status: models.StatusOnline},
		{UserID: "A", Status: models.StatusOffline},
	}, rec.all())
}

func TestPresence_OnlineUsersSorted(t *testing.T) {
	pr, _ := newRecordedRegistry()
	pr.Bind("b", "1", newFakeConn("1"))
	pr.Bind("a", "2", newFakeConn("2"))

	require.Equal(t, []string{"a", "b"}, pr.OnlineUsers(context.Background()))
}

func TestPresence_TransitionsReachListenersInOrder(t *testing.T) {
	pr := NewPresenceRegistry(utils.NewNopLogger())
	web, mobile := newFakeConn("web"), newFakeConn("mobile")

	var (
		mu          sync.Mutex
		transitions []models.PresenceStatus
	)
	offlineEntered := make(chan struct{})
	releaseOffline := make(chan struct{})
	pr.OnStatusChange(func(userID string, status models.PresenceStatus) {
		if status == models.StatusOffline {
			close(offlineEntered)
			<-releaseOffline
		}
		mu.Lock()
		transitions = append(transitions, status)
		mu.Unlock()
	})

	pr.Bind("A", "web1", web)

	unbound := make(chan struct{})
	go func() {
		defer close(unbound)
		pr.UnbindOwned("A", "web1", web)
	}()
	<-offlineEntered

	bound := make(chan struct{})
	go func() {
		defer close(bound)
		pr.Bind("A", "mobile1", mobile)
	}()

	// The bind must wait for the offline listener to finish.
	select {
	case <-bound:
		t.Fatal("bind completed while the offline transition was still being delivered")
	case <-time.After(50 * time.Millisecond):
	}
	require.False(t, pr.IsLocallyOnline("A"))

	close(releaseOffline)
	<-unbound
	<-bound

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []models.PresenceStatus{models.StatusOnline, models.StatusOffline, models.StatusOnline}, transitions)
	require.True(t, pr.IsOnline("A"))
}
