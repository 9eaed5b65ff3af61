package engine

import "time"

const queueDepthPollInterval = 20 * time.Millisecond
const telemetryPollInterval = time.Second

// pollQueueDepths periodically publishes both queue depths to the
// metrics bus.
func (e *Engine) pollQueueDepths() {
	ticker := time.NewTicker(queueDepthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.metricsBus.SetQueueDepths(e.processingQ.Len(), e.displayQ.Len())
		}
	}
}

// pollSourceTelemetry publishes camera-reported FPS/data-rate/exposure
// when running against a live CameraSDK. In mock mode the
// configured target FPS is reported once, since there is no underlying
// camera to poll.
func (e *Engine) pollSourceTelemetry() {
	if e.opts.CameraSDK == nil {
		e.metricsBus.RecordSourceTelemetry(float64(e.cfg.TargetFPS), 0, 0)
		return
	}
	ticker := time.NewTicker(telemetryPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			fps, rate, exposure := e.opts.CameraSDK.Telemetry()
			e.metricsBus.RecordSourceTelemetry(fps, rate, exposure)
		}
	}
}
