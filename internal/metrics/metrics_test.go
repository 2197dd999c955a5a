package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancesAreIndependent(t *testing.T) {
	a := New()
	b := New()

	a.SessionOpened()
	a.FrameSent(100)
	a.FrameSent(50)
	a.FrameDropped()
	a.RecordRequest("SETUP", 200)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.ActiveSessions))
	assert.Equal(t, float64(2), testutil.ToFloat64(a.FramesSent))
	assert.Equal(t, float64(150), testutil.ToFloat64(a.BytesSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.FramesDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.Requests.WithLabelValues("SETUP", "200")))

	assert.Equal(t, float64(0), testutil.ToFloat64(b.ActiveSessions))
	assert.Equal(t, float64(0), testutil.ToFloat64(b.FramesSent))

	a.SessionClosed()
	assert.Equal(t, float64(0), testutil.ToFloat64(a.ActiveSessions))
	assert.Equal(t, float64(1), testutil.ToFloat64(a.SessionsTotal))
}

func TestHandler(t *testing.T) {
	m := New()
	m.FrameSent(10)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "vstream_frames_sent_total 1"), body)
}
