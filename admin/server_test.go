package admin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/katzenpost/core/log"
	"github.com/stretchr/testify/require"

	"github.com/anonmix/mixnode/metrics"
	"github.com/anonmix/mixnode/relaytable"
)

type fakeHandler struct {
	startCalls      int
	stopCalls       int
	reloadCalls     []string
	rotateKeyCalls  int
	reloadErr       error
	metricsSnapshot metrics.Snapshot
	relayEntries    []relaytable.Entry
}

func (f *fakeHandler) Start() error { f.startCalls++; return nil }
func (f *fakeHandler) Stop() error  { f.stopCalls++; return nil }
func (f *fakeHandler) Reload(path string) error {
	f.reloadCalls = append(f.reloadCalls, path)
	return f.reloadErr
}
func (f *fakeHandler) RotateKeys() error { f.rotateKeyCalls++; return nil }
func (f *fakeHandler) Metrics() *Response {
	snap := f.metricsSnapshot
	return &Response{OK: true, Metrics: &snap}
}
func (f *fakeHandler) RelayTable() *Response {
	return &Response{OK: true, RelayTable: f.relayEntries}
}

func testBackend(t *testing.T) *log.Backend {
	b, err := log.New("", "DEBUG", false)
	require.NoError(t, err)
	return b
}

func startTestServer(t *testing.T, h Handler) (*Server, string) {
	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	srv, err := NewServer(sockPath, h, testBackend(t))
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(srv.Shutdown)
	return srv, sockPath
}

func TestClientStartStop(t *testing.T) {
	h := &fakeHandler{}
	_, sockPath := startTestServer(t, h)
	c := NewClient(sockPath)

	resp, err := c.Call(&Request{Op: OpStart})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, 1, h.startCalls)

	resp, err = c.Call(&Request{Op: OpStop})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, 1, h.stopCalls)
}

func TestClientReloadPropagatesPath(t *testing.T) {
	h := &fakeHandler{}
	_, sockPath := startTestServer(t, h)
	c := NewClient(sockPath)

	resp, err := c.Call(&Request{Op: OpReload, ConfigPath: "/etc/mixnode/mixnode.toml"})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, []string{"/etc/mixnode/mixnode.toml"}, h.reloadCalls)
}

func TestClientReloadSurfacesError(t *testing.T) {
	h := &fakeHandler{reloadErr: errors.New("boot-only field changed")}
	_, sockPath := startTestServer(t, h)
	c := NewClient(sockPath)

	resp, err := c.Call(&Request{Op: OpReload})
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "boot-only")
}

func TestClientGetMetrics(t *testing.T) {
	h := &fakeHandler{metricsSnapshot: metrics.Snapshot{PacketsProcessed: 42}}
	_, sockPath := startTestServer(t, h)
	c := NewClient(sockPath)

	resp, err := c.Call(&Request{Op: OpGetMetrics})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.NotNil(t, resp.Metrics)
	require.Equal(t, uint64(42), resp.Metrics.PacketsProcessed)
}

func TestClientGetRelayTable(t *testing.T) {
	var e relaytable.Entry
	e.ID[0] = 7
	h := &fakeHandler{relayEntries: []relaytable.Entry{e}}
	_, sockPath := startTestServer(t, h)
	c := NewClient(sockPath)

	resp, err := c.Call(&Request{Op: OpGetRelayTable})
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Len(t, resp.RelayTable, 1)
	require.Equal(t, byte(7), resp.RelayTable[0].ID[0])
}

func TestClientUnknownOpReturnsError(t *testing.T) {
	h := &fakeHandler{}
	_, sockPath := startTestServer(t, h)
	c := NewClient(sockPath)

	resp, err := c.Call(&Request{Op: "bogus"})
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown op")
}

func TestServerShutdownRemovesSocketFile(t *testing.T) {
	h := &fakeHandler{}
	srv, sockPath := startTestServer(t, h)
	srv.Shutdown()

	c := NewClient(sockPath)
	_, err := c.Call(&Request{Op: OpStart})
	require.Error(t, err)

	// Allow a moment in case Shutdown's unlink races the test goroutine.
	time.Sleep(10 * time.Millisecond)
	_, statErr := os.Stat(sockPath)
	require.True(t, os.IsNotExist(statErr), "Shutdown must remove the socket file")
}
