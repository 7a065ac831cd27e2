package collector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goldshadow0731/IMAC-TelegramBot-V2/common/config"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/metrics"
	"github.com/goldshadow0731/IMAC-TelegramBot-V2/internal/models"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *metrics.Metrics) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	m := metrics.New()
	cfg := &config.HTTPConfig{BaseURL: server.URL, Timeout: 200 * time.Millisecond}
	return NewClient(cfg, m, zap.NewNop()), m
}

func TestPost_Success(t *testing.T) {
	var gotPath, gotBody, gotMethod string
	client, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte(`{"dl303":"rh_data_ok"}`))
	})

	err := client.Post(context.Background(), "/dl303/rh", map[string]float64{"rh": 55.3})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/dl303/rh", gotPath)
	assert.JSONEq(t, `{"rh":55.3}`, gotBody)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollectorRequests.WithLabelValues("/dl303/rh", metrics.ResultOK)))
}

func TestPost_NonSuccessIsDeliveryError(t *testing.T) {
	calls := 0
	client, m := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"dl303":"rh_data_info_fail"}`))
	})

	err := client.Post(context.Background(), "/dl303/rh", map[string]float64{"rh": 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelivery))
	assert.Equal(t, 1, calls, "no retry")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CollectorRequests.WithLabelValues("/dl303/rh", metrics.ResultDeliveryError)))
}

func TestPost_TimeoutIsDeliveryError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	})

	start := time.Now()
	err := client.Post(context.Background(), "/water-tank", map[string]float64{"current": 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDelivery))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestGetSwitches(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, SwitchesPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sw0":true,"sw1":false,"sw2":false,"sw3":true,"sw4":false,"sw5":false,"sw6":false,"sw7":false}`))
	})

	desired, err := client.GetSwitches(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Switches{true, false, false, true}, desired)
}

func TestGetSwitches_Errors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		_, err := client.GetSwitches(context.Background())
		assert.True(t, errors.Is(err, ErrDelivery))
	})

	t.Run("malformed", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[true]`))
		})
		_, err := client.GetSwitches(context.Background())
		assert.True(t, errors.Is(err, ErrDelivery))
	})
}
