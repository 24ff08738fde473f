package aevip

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"aevrt/pkg/api"
	"aevrt/pkg/registry"
	"aevrt/pkg/task"
)

type echoAdapter struct{}

func (echoAdapter) Execute(_ context.Context, tl task.Tile) (task.Result, error) {
	return task.Result{TileIndex: tl.Index, Success: true, Payload: []byte("ok"), LatencyMS: 1}, nil
}

func startWorker(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	recv := NewReceiver(secret, map[task.Type]api.ModalityAdapter{
		task.TypeLanguage: echoAdapter{},
	})
	t.Cleanup(recv.Close)
	recv.Routes(engine)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

func TestCoordinatorAgainstLiveWorker(t *testing.T) {
	const secret = "shared-secret"
	srv := startWorker(t, secret)

	reg := registry.NewMemoryRegistry(nil)
	require.NoError(t, reg.Register(context.Background(), registry.Node{
		ID:      "worker-1",
		Address: srv.URL,
		Status:  registry.StatusActive,
		Capabilities: map[task.Type]float64{
			task.TypeLanguage: 1.0,
		},
	}))

	coord, err := NewCoordinator(reg, NewHTTPClient(time.Second), Options{
		Secret:         secret,
		Sender:         "test-coord",
		PollInterval:   5 * time.Millisecond,
		MaxTaskTimeout: 2 * time.Second,
	})
	require.NoError(t, err)

	results, err := coord.DistributeTasks(context.Background(), makeTiles(3, task.TypeLanguage), DistributeOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for idx, res := range results {
		require.True(t, res.Success, "tile %d: %s", idx, res.Error)
		require.Equal(t, "ok", string(res.Payload))
	}
}

func TestReceiverRejectsBadSignature(t *testing.T) {
	srv := startWorker(t, "right-secret")

	body, sig, err := samplePacket().Encode("wrong-secret")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+ReceivePath, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestReceiverUnknownTaskIs404(t *testing.T) {
	srv := startWorker(t, "s")
	resp, err := http.Get(srv.URL + ResultPath + "nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
