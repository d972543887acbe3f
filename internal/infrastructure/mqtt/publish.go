package mqtt

import (
	"fmt"
)

// maxPayloadSize bounds a single message (1MB), in line with common broker
// limits.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker acknowledgment.
// It satisfies changes.MessagePublisher. Every outcome past argument
// validation is counted in Stats.
//
// Change events are never retained; only the status topic is.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	err := c.publish(topic, payload, qos, retained)
	if err != nil {
		c.failed.Add(1)
		c.noteFailure(err)
		return err
	}
	c.published.Add(1)
	return nil
}

func (c *Client) publish(topic string, payload []byte, qos byte, retained bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
