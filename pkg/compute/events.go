package compute

import (
	"bufio"
	"context"
	"encoding/json"

	"github.com/netloom/netloom/internal/logger"
	"github.com/netloom/netloom/pkg/notification"
)

// streamEvents consumes the compute's JSON-lines notification stream and
// forwards events to the bus. It returns when the stream breaks or ctx is
// cancelled; the caller treats either as a disconnect.
func (p *Proxy) streamEvents(ctx context.Context) {
	body, err := p.client.OpenStream(ctx, "/v2/compute/notifications")
	if err != nil {
		logger.Debug("compute notification stream failed to open",
			logger.KeyComputeID, p.computeID,
			logger.KeyError, err,
		)
		return
	}
	defer func() { _ = body.Close() }()

	// Close the body when ctx ends so the scanner unblocks.
	go func() {
		<-ctx.Done()
		_ = body.Close()
	}()

	scanner := bufio.NewScanner(body)
	// Events carry full node payloads; allow lines up to 1 MiB.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw struct {
			Action string          `json:"action"`
			Event  json.RawMessage `json:"event"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			logger.Warn("discarding malformed compute event",
				logger.KeyComputeID, p.computeID,
				logger.KeyError, err,
			)
			continue
		}

		p.handleEvent(raw.Action, raw.Event)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.Warn("compute notification stream broke",
			logger.KeyComputeID, p.computeID,
			logger.KeyError, err,
		)
	}
}

// handleEvent routes one decoded stream event. Pings update usage telemetry
// and are absorbed; everything else is forwarded to the bus with the
// project id lifted out of the payload.
func (p *Proxy) handleEvent(action string, payload json.RawMessage) {
	if action == "ping" {
		var usage Usage
		if err := json.Unmarshal(payload, &usage); err == nil {
			p.mu.Lock()
			p.usage = usage
			p.mu.Unlock()
		}
		return
	}

	if p.sink == nil {
		return
	}

	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		logger.Warn("discarding compute event with malformed payload",
			logger.KeyComputeID, p.computeID,
			logger.KeyAction, action,
			logger.KeyError, err,
		)
		return
	}

	projectID, _ := decoded["project_id"].(string)
	p.sink.Publish(notification.Event{
		Action:    action,
		Event:     decoded,
		ProjectID: projectID,
	})
}
