package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	depth := 3
	c := NewCache(reg, func() int { return depth })

	c.Written("text", 10)
	c.Written("text", 5)
	c.Dropped("bytes", "io")
	c.Cleared()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.written.WithLabelValues("text")))
	assert.Equal(t, 15.0, testutil.ToFloat64(c.bytesWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped.WithLabelValues("bytes", "io")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.clears))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "relaycache_queue_depth 3"), body)
}

func TestDiscoveryCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewDiscovery(reg)

	d.Broadcast()
	d.Broadcast()
	d.Reply()
	d.Connect(nil)
	d.Connect(errors.New("refused"))
	d.ListenerFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(d.broadcasts))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.replies))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.connects.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.connects.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.listenerFailures))
}

func TestNilReceiversAreNoops(t *testing.T) {
	var c *Cache
	var d *Discovery
	require.NotPanics(t, func() {
		c.Written("text", 1)
		c.Dropped("text", "io")
		c.Cleared()
		d.Broadcast()
		d.Reply()
		d.Connect(nil)
		d.ListenerFailure()
	})
}
