package mqtt

import (
	"encoding/json"
	"fmt"
	"time"
)

// StatusEvent is published on connection state transitions.
type StatusEvent struct {
	ProcessorID string `json:"processor_id"`
	State       string `json:"state"`
	Timestamp   string `json:"timestamp"`
}

// ParamEvent is published when a parameter change is confirmed by the device.
type ParamEvent struct {
	ProcessorID string  `json:"processor_id"`
	Param       string  `json:"param"`
	Value       float64 `json:"value"`
	Source      string  `json:"source"` // "api", "scene", "device"
	Timestamp   string  `json:"timestamp"`
}

// SceneEvent is published after a scene recall completes or fails.
type SceneEvent struct {
	ProcessorID string   `json:"processor_id"`
	SceneID     string   `json:"scene_id"`
	SceneName   string   `json:"scene_name"`
	Status      string   `json:"status"` // "recalled", "partial", "failed"
	Failed      []string `json:"failed,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// ClipEvent is published when a channel enters or leaves the clipping state.
type ClipEvent struct {
	ProcessorID string `json:"processor_id"`
	Direction   string `json:"direction"`
	Channel     int    `json:"channel"`
	Clipping    bool   `json:"clipping"`
	Timestamp   string `json:"timestamp"`
}

// PublishStatus publishes a connection state transition. Retained, so late
// subscribers see the current state immediately.
func (c *Client) PublishStatus(processorID, state string) error {
	return c.publish(StatusTopic(processorID), true, StatusEvent{
		ProcessorID: processorID,
		State:       state,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

// PublishParam publishes a confirmed parameter change.
func (c *Client) PublishParam(processorID, param string, value float64, source string) error {
	return c.publish(ParamTopic(processorID, param), false, ParamEvent{
		ProcessorID: processorID,
		Param:       param,
		Value:       value,
		Source:      source,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

// PublishScene publishes a scene recall result.
func (c *Client) PublishScene(ev SceneEvent) error {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return c.publish(SceneTopic(ev.ProcessorID), false, ev)
}

// PublishClip publishes a clip state change.
func (c *Client) PublishClip(ev ClipEvent) error {
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return c.publish(ClipTopic(ev.ProcessorID), false, ev)
}

// publish marshals the payload and publishes at the configured QoS.
func (c *Client) publish(topic string, retained bool, payload interface{}) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshalling payload: %v", ErrPublishFailed, err)
	}

	token := c.client.Publish(topic, byte(c.cfg.QoS), retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: publish timed out on %s", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}
