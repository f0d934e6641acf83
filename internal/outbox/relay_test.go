package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"recruit-agent-go/internal/constants"
	"recruit-agent-go/internal/storage/models"
)

type nopPublisher struct{}

func (nopPublisher) PublishMessage(context.Context, string, string, []byte, bool) error { return nil }

func TestApplyPublishResult_Success(t *testing.T) {
	msg := &models.OutboxMessage{Status: constants.OutboxStatusPending, ErrorMessage: "old"}
	now := time.Now()
	applyPublishResult(msg, nil, now)

	assert.Equal(t, constants.OutboxStatusSent, msg.Status)
	assert.Equal(t, &now, msg.ProcessedAt)
	assert.Empty(t, msg.ErrorMessage)
}

func TestApplyPublishResult_RetryThenFail(t *testing.T) {
	msg := &models.OutboxMessage{Status: constants.OutboxStatusPending}
	for i := 1; i < maxRetryCount; i++ {
		applyPublishResult(msg, errors.New("broker down"), time.Now())
		assert.Equal(t, constants.OutboxStatusPending, msg.Status, "未达到最大重试次数前保持 PENDING")
		assert.Equal(t, i, msg.RetryCount)
	}
	applyPublishResult(msg, errors.New("broker down"), time.Now())
	assert.Equal(t, constants.OutboxStatusFailed, msg.Status)
	assert.Equal(t, "broker down", msg.ErrorMessage)
	assert.Nil(t, msg.ProcessedAt)
}

func TestNewMessageRelay_Options(t *testing.T) {
	r := NewMessageRelay(nil, nopPublisher{}, WithPollingInterval(time.Second), WithBatchSize(3), WithPollingInterval(-1))
	assert.Equal(t, time.Second, r.pollingInterval)
	assert.Equal(t, 3, r.batchSize)

	r.Start()
	r.Stop()
	r.Stop()
}
