package sessionmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/livequiz-api/internal/websocket"
)

func TestMetricsBroadcaster_PublishPayload(t *testing.T) {
	// Arrange
	m, deps, rec := newRecordingManager(t)
	go deps.Hub.Run()
	t.Cleanup(deps.Hub.Stop)

	// Act
	m.metrics.publish(testSessionID)

	// Assert: метрики уходят только контроллеру и несут все поля нагрузки
	ev := rec.lastEvent(websocket.ControllerChannel(testSessionID), websocket.EventSystemMetrics)
	require.NotNil(t, ev, "system_metrics публикуется в канал контроллера")
	for _, key := range []string{"cpuUsage", "memoryUsage", "activeConnections", "averageLatency", "timestamp"} {
		assert.Contains(t, ev, key)
	}

	assert.Nil(t, rec.lastEvent(websocket.ParticipantsChannel(testSessionID), websocket.EventSystemMetrics),
		"Игроки метрик не видят")
}
