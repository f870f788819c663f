package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComponent struct {
	name     string
	startErr error
	log      *[]string
}

func (c *fakeComponent) Start(_ context.Context) error {
	*c.log = append(*c.log, "start:"+c.name)
	return c.startErr
}

func (c *fakeComponent) Stop(_ context.Context) error {
	*c.log = append(*c.log, "stop:"+c.name)
	return nil
}

func (c *fakeComponent) Name() string {
	return c.name
}

func newFake(name string, log *[]string) *fakeComponent {
	return &fakeComponent{name: name, log: log}
}

func TestRegisterValidation(t *testing.T) {
	m := NewManager()
	var log []string
	a := newFake("a", &log)
	b := newFake("b", &log)

	require.Error(t, m.Register(nil))
	require.Error(t, m.Register(newFake("", &log)))
	require.Error(t, m.Register(a, b), "dependency must be registered first")

	require.NoError(t, m.Register(a))
	require.Error(t, m.Register(a), "duplicate registration")
	require.NoError(t, m.Register(b, a))
}

func TestStartStopOrder(t *testing.T) {
	m := NewManager()
	var log []string
	store := newFake("store", &log)
	engine := newFake("engine", &log)
	api := newFake("api", &log)

	// Register out of dependency order; the manager must still start the
	// store before the engine and the engine before the api.
	require.NoError(t, m.Register(store))
	require.NoError(t, m.Register(api))
	require.NoError(t, m.Register(engine, store))

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop(ctx))

	assert.Equal(t, []string{
		"start:store", "start:api", "start:engine",
		"stop:engine", "stop:api", "stop:store",
	}, log)
}

func TestStartFailureRollsBack(t *testing.T) {
	m := NewManager()
	var log []string
	a := newFake("a", &log)
	b := newFake("b", &log)
	b.startErr = errors.New("boom")
	c := newFake("c", &log)

	require.NoError(t, m.Register(a))
	require.NoError(t, m.Register(b, a))
	require.NoError(t, m.Register(c, b))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")

	// a started and was rolled back; b failed; c never started.
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, log)

	// Stop after a failed start has nothing left to do.
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, log)
}
