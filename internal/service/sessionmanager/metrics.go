package sessionmanager

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/yourusername/livequiz-api/internal/websocket"
)

// MetricsBroadcaster шлет контроллеру сессии system_metrics раз в
// MetricsInterval, пока контроллер подключен. Без контроллера тик
// пропускается: метрики никому не нужны.
type MetricsBroadcaster struct {
	config *Config
	deps   *Dependencies

	cancels sync.Map // sessionID -> context.CancelFunc
}

// NewMetricsBroadcaster создает рассыльщик метрик
func NewMetricsBroadcaster(config *Config, deps *Dependencies) *MetricsBroadcaster {
	return &MetricsBroadcaster{config: config, deps: deps}
}

// Start запускает контур метрик сессии (идемпотентно)
func (b *MetricsBroadcaster) Start(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	if _, loaded := b.cancels.LoadOrStore(sessionID, cancel); loaded {
		cancel()
		return
	}
	go b.run(ctx, sessionID)
}

// Stop останавливает контур метрик сессии
func (b *MetricsBroadcaster) Stop(sessionID string) {
	if cancel, ok := b.cancels.LoadAndDelete(sessionID); ok {
		cancel.(context.CancelFunc)()
	}
}

// StopAll останавливает все контуры (graceful shutdown)
func (b *MetricsBroadcaster) StopAll() {
	b.cancels.Range(func(key, _ interface{}) bool {
		b.Stop(key.(string))
		return true
	})
}

func (b *MetricsBroadcaster) run(ctx context.Context, sessionID string) {
	interval := b.config.MetricsInterval
	if interval <= 0 {
		interval = DefaultMetricsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.deps.Hub.ControllerAttached(sessionID) {
				continue
			}
			b.publish(sessionID)
		}
	}
}

func (b *MetricsBroadcaster) publish(sessionID string) {
	cpuPercent := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	memPercent := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}

	err := b.deps.Fanout.PublishToController(sessionID, websocket.EventSystemMetrics,
		map[string]interface{}{
			"cpuUsage":          cpuPercent,
			"memoryUsage":       memPercent,
			"activeConnections": b.deps.Hub.ClientCount(),
			"averageLatency":    b.deps.Fanout.AverageLatencyMs(),
			"timestamp":         time.Now().UnixMilli(),
		})
	if err != nil {
		log.Printf("[Metrics] Сессия %s: публикация метрик не удалась: %v", sessionID, err)
	}
}
