package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewKafkaPublisher_Defaults(t *testing.T) {
	p := NewKafkaPublisher("localhost:9092", []string{TopicSMS, TopicFraudAlerts}, RetryConfig{})
	defer p.Close()

	assert.Len(t, p.Writers, 2)
	assert.Contains(t, p.Writers, TopicSMS)
	assert.Contains(t, p.Writers, TopicFraudAlerts)
	assert.Equal(t, 5, p.RetryConfig.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.RetryConfig.BaseDelay)
	assert.Equal(t, 10*time.Second, p.RetryConfig.MaxDelay)
}

func TestKafkaPublisher_Publish_UnknownTopic(t *testing.T) {
	p := NewKafkaPublisher("localhost:9092", []string{TopicSMS}, RetryConfig{})
	defer p.Close()

	err := p.Publish(context.Background(), "no.such.topic", SMSEvent{Phone: "+911234567890"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no writer configured")
}

func TestKafkaPublisher_CalculateBackoff(t *testing.T) {
	p := NewKafkaPublisher("localhost:9092", nil, RetryConfig{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  1 * time.Second,
	})

	t.Run("exponential growth", func(t *testing.T) {
		assert.Equal(t, 100*time.Millisecond, p.calculateBackoff(0))
		assert.Equal(t, 200*time.Millisecond, p.calculateBackoff(1))
		assert.Equal(t, 400*time.Millisecond, p.calculateBackoff(2))
	})

	t.Run("capped at max delay", func(t *testing.T) {
		assert.Equal(t, 1*time.Second, p.calculateBackoff(10))
	})

	t.Run("jitter stays within bounds", func(t *testing.T) {
		jittered := NewKafkaPublisher("localhost:9092", nil, RetryConfig{
			BaseDelay: 100 * time.Millisecond,
			MaxDelay:  1 * time.Second,
			Jitter:    true,
		})

		for i := 0; i < 50; i++ {
			delay := jittered.calculateBackoff(1)
			assert.GreaterOrEqual(t, delay, 170*time.Millisecond)
			assert.LessOrEqual(t, delay, 230*time.Millisecond)
		}
	})
}
