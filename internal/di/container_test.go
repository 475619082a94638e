// internal/di/container_test.go
package di

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
)

type fakeService struct{ name string }

// closeLog 记录关闭顺序
type closeLog struct{ names []string }

type closerWithErr struct {
	log *closeLog
	err error
}

func (c *closerWithErr) Close() error {
	c.log.names = append(c.log.names, "db")
	return c.err
}

type stopper struct{ log *closeLog }

func (s *stopper) Stop() { s.log.names = append(s.log.names, "locks") }

type closer struct{ log *closeLog }

func (c *closer) Close() { c.log.names = append(c.log.names, "api") }

func TestContainerRegisterAndResolve(t *testing.T) {
	c := NewContainer()
	c.Register("svc", &fakeService{name: "a"})

	assert.True(t, c.Has("svc"))
	svc, err := Resolve[*fakeService](c, "svc")
	require.NoError(t, err)
	assert.Equal(t, "a", svc.name)
}

func TestResolveMissingOrWrongType(t *testing.T) {
	c := NewContainer()
	c.Register("svc", "not a service")

	_, err := Resolve[*fakeService](c, "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsConfigurationError(err))
	assert.Contains(t, err.Error(), `"missing" is not registered`)

	_, err = Resolve[*fakeService](c, "svc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has type string")
}

func TestContainerKeepsRegistrationOrder(t *testing.T) {
	c := NewContainer()
	c.Register("b", 1)
	c.Register("a", 2)
	c.Register("b", 3)
	assert.Equal(t, []string{"b", "a"}, c.GetNames())
	assert.Equal(t, 3, c.Get("b"))

	c.Remove("b")
	assert.False(t, c.Has("b"))
	assert.Nil(t, c.Get("b"))
	assert.Equal(t, []string{"a"}, c.GetNames())

	c.Clear()
	assert.Empty(t, c.GetNames())
}

func TestShutdownClosesInReverseOrder(t *testing.T) {
	log := &closeLog{}
	c := NewContainer()
	c.Register(ServiceDB, &closerWithErr{log: log, err: errors.New("busy")})
	c.Register(ServiceProjects, &fakeService{})
	c.Register(ServiceLocks, &stopper{log: log})
	c.Register(ServiceAPI, &closer{log: log})

	err := c.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close db: busy")
	assert.Equal(t, []string{"api", "locks", "db"}, log.names)
	assert.Empty(t, c.GetNames())

	assert.NoError(t, c.Shutdown())
}

func TestGetContainerSingleton(t *testing.T) {
	assert.Same(t, GetContainer(), GetContainer())
}
