package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/gostep/pkg/model"
	"github.com/NicolasHaas/gostep/pkg/store"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) Load() ([]model.User, error) {
	args := m.Called()
	users, _ := args.Get(0).([]model.User)
	return users, args.Error(1)
}

func (m *mockBackend) Save(users []model.User) error {
	return m.Called(users).Error(0)
}

func (m *mockBackend) Close() error {
	return m.Called().Error(0)
}

func newMockedServer(t *testing.T, backend store.Backend) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.AdminAddr = ""
	cfg.MetricsLogInterval = 0
	return New(cfg, Dependencies{Backend: backend})
}

func TestStartKeepsUsersFromCorruptStore(t *testing.T) {
	backend := &mockBackend{}
	partial := []model.User{{Username: "alice", Wins: 3}}
	backend.On("Load").Return(partial, store.ErrCorrupt).Once()
	backend.On("Save", partial).Return(nil).Once()
	backend.On("Close").Return(nil).Once()

	srv := newMockedServer(t, backend)
	require.NoError(t, srv.Start())
	require.Equal(t, partial, srv.Hub().Users())

	require.NoError(t, srv.Shutdown())
	require.NoError(t, srv.Shutdown())
	backend.AssertExpectations(t)
}

func TestStartFailsOnUnreadableStore(t *testing.T) {
	backend := &mockBackend{}
	backend.On("Load").Return(nil, errors.New("disk on fire")).Once()

	srv := newMockedServer(t, backend)
	err := srv.Start()
	require.ErrorContains(t, err, "disk on fire")
	require.Nil(t, srv.Addr())
	backend.AssertExpectations(t)
}

func TestShutdownReportsSaveAndCloseErrors(t *testing.T) {
	backend := &mockBackend{}
	backend.On("Load").Return([]model.User{}, nil).Once()
	backend.On("Save", mock.Anything).Return(errors.New("read-only")).Once()
	backend.On("Close").Return(errors.New("busy")).Once()

	srv := newMockedServer(t, backend)
	require.NoError(t, srv.Start())

	err := srv.Shutdown()
	require.ErrorContains(t, err, "read-only")
	require.ErrorContains(t, err, "busy")
	backend.AssertExpectations(t)
}
