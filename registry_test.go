package dbcon_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/dbcon"
	"github.com/yuku/dbcon/config"
	"github.com/yuku/dbcon/internal/testhelper"
	"golang.org/x/sync/errgroup"
)

func TestRegistryPool(t *testing.T) {
	ctx := context.Background()

	t.Run("same pool for the same synonym", func(t *testing.T) {
		srv := testhelper.NewServer(t)
		r := newRegistry(t, testhelper.Config("main", srv))

		p1, err := r.Pool(ctx, "main")
		require.NoError(t, err)
		p2, err := r.Pool(ctx, "main")
		require.NoError(t, err)
		assert.Same(t, p1, p2)
	})

	t.Run("concurrent first use builds one pool", func(t *testing.T) {
		srv := testhelper.NewServer(t)
		r := newRegistry(t, testhelper.Config("main", srv))

		const workers = 20
		pools := make([]*dbcon.Pool, workers)
		var g errgroup.Group
		for i := range workers {
			g.Go(func() error {
				p, err := r.Pool(ctx, "main")
				pools[i] = p
				return err
			})
		}
		require.NoError(t, g.Wait())

		for _, p := range pools {
			assert.Same(t, pools[0], p)
		}
		// One connection to find the url and one to check the driver.
		assert.EqualValues(t, 2, srv.Opened())
		assert.Zero(t, r.LockedNames())
	})

	t.Run("new pool after destroy", func(t *testing.T) {
		srv := testhelper.NewServer(t)
		r := newRegistry(t, testhelper.Config("main", srv))

		p1, err := r.Pool(ctx, "main")
		require.NoError(t, err)
		r.DestroyNamedPool("main")
		assert.Equal(t, dbcon.StateDestroyed, p1.State())

		p2, err := r.Pool(ctx, "main")
		require.NoError(t, err)
		assert.NotSame(t, p1, p2)
		assert.Equal(t, dbcon.StateReady, p2.State())
	})

	t.Run("unknown synonym", func(t *testing.T) {
		r := newRegistry(t)

		_, err := r.Pool(ctx, "nope")
		require.ErrorIs(t, err, dbcon.ErrConfiguration)
		require.ErrorIs(t, err, config.ErrUnknownSynonym)

		var dbErr *dbcon.Error
		require.True(t, errors.As(err, &dbErr))
		assert.Equal(t, "nope", dbErr.Synonym)
	})

	t.Run("source failure", func(t *testing.T) {
		boom := errors.New("boom")
		r := dbcon.NewRegistry(dbcon.WithSourceFunc(func() (config.Source, error) {
			return nil, boom
		}))

		_, err := r.Pool(ctx, "main")
		require.ErrorIs(t, err, dbcon.ErrConfiguration)
		require.ErrorIs(t, err, boom)
		assert.False(t, r.IsSynonymKnown("main"))
	})
}

func TestRegistryNames(t *testing.T) {
	ctx := context.Background()
	srv := testhelper.NewServer(t)
	r := newRegistry(t,
		testhelper.Config("b", srv),
		testhelper.Config("a", srv),
		testhelper.Config("c", srv),
	)

	names, err := r.AvailableNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Empty(t, r.LoadedNames())

	assert.True(t, r.IsSynonymKnown("a"))
	assert.False(t, r.IsSynonymKnown("d"))

	for _, name := range []string{"c", "a"} {
		_, err := r.Pool(ctx, name)
		require.NoError(t, err)
	}
	loaded := r.LoadedNames()
	assert.Equal(t, []string{"a", "c"}, loaded)

	// The returned slice is a copy.
	loaded[0] = "z"
	assert.Equal(t, []string{"a", "c"}, r.LoadedNames())

	assert.Equal(t, -1, r.ActiveConnections("b"))
	assert.Equal(t, -1, r.IdleConnections("b"))
	assert.Equal(t, 0, r.ActiveConnections("a"))
}

func TestRegistryDestroy(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown or unloaded names are ignored", func(t *testing.T) {
		r := newRegistry(t)
		r.DestroyNamedPool("nope")
		r.DestroyAllPools()
		assert.Empty(t, r.LoadedNames())
	})

	t.Run("destroy all keeps the configuration", func(t *testing.T) {
		srv := testhelper.NewServer(t)
		r := newRegistry(t, testhelper.Config("a", srv), testhelper.Config("b", srv))

		pa, err := r.Pool(ctx, "a")
		require.NoError(t, err)
		borrow(t, r, "b")

		r.DestroyAllPools()
		assert.Empty(t, r.LoadedNames())
		assert.Equal(t, dbcon.StateDestroyed, pa.State())

		names, err := r.AvailableNames()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names)

		_, err = r.Pool(ctx, "a")
		require.NoError(t, err)
	})

	t.Run("pools of a removed synonym are destroyed", func(t *testing.T) {
		srv := testhelper.NewServer(t)
		src := config.NewStaticSource(testhelper.Config("a", srv))
		r := dbcon.NewRegistry(dbcon.WithSource(src))
		t.Cleanup(func() { _ = r.Close() })

		p, err := r.Pool(ctx, "a")
		require.NoError(t, err)
		src.Remove("a")

		r.DestroyAllPools()
		assert.Equal(t, dbcon.StateDestroyed, p.State())
		assert.Empty(t, r.LoadedNames())
	})
}

type countingSource struct {
	config.Source
	mu      sync.Mutex
	reloads int
}

func (s *countingSource) Reload() error {
	s.mu.Lock()
	s.reloads++
	s.mu.Unlock()
	return s.Source.Reload()
}

func TestRegistryReset(t *testing.T) {
	ctx := context.Background()
	srv := testhelper.NewServer(t)

	var resolved int
	src := &countingSource{Source: config.NewStaticSource(testhelper.Config("a", srv))}
	r := dbcon.NewRegistry(dbcon.WithSourceFunc(func() (config.Source, error) {
		resolved++
		return src, nil
	}))
	t.Cleanup(func() { _ = r.Close() })

	p, err := r.Pool(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	r.Reset()
	assert.Equal(t, dbcon.StateDestroyed, p.State())
	assert.Empty(t, r.LoadedNames())
	assert.Equal(t, 1, src.reloads)

	_, err = r.Pool(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)
}

type recordingObserver struct {
	mu      sync.Mutex
	borrows map[string]int
	events  []string
}

func (o *recordingObserver) ObserveBorrow(synonym, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.borrows == nil {
		o.borrows = make(map[string]int)
	}
	o.borrows[outcome]++
}

func (o *recordingObserver) ObservePoolEvent(synonym, event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, synonym+":"+event)
}

func TestRegistryObserver(t *testing.T) {
	ctx := context.Background()
	srv := testhelper.NewServer(t)
	cfg := testhelper.Config("a", srv)
	cfg.MaxActive = 1

	obs := &recordingObserver{}
	r := dbcon.NewRegistry(
		dbcon.WithSource(config.NewStaticSource(cfg)),
		dbcon.WithObserver(obs),
	)

	conn, err := r.Conn(ctx, "a")
	require.NoError(t, err)
	_, err = r.Conn(ctx, "a")
	require.ErrorIs(t, err, dbcon.ErrConnectionNotAvailable)
	r.DataSource("a").Return(conn)
	require.NoError(t, r.Close())

	assert.Equal(t, map[string]int{dbcon.OutcomeOK: 1, dbcon.OutcomeExhausted: 1}, obs.borrows)
	assert.Equal(t, []string{"a:created", "a:destroyed"}, obs.events)
}
