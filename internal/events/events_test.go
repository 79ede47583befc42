package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/chargecfg/internal/observability"
	"github.com/pitabwire/chargecfg/model"
)

func TestNew_fillsIdentity(t *testing.T) {
	e := New(TypeRulePublished, "TOLL", "user-1", map[string]string{"rule_id": "R012"})

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, TypeRulePublished, e.Type)
	assert.Equal(t, "TOLL", e.ChargeCode)
	assert.Equal(t, "user-1", e.SubjectID)
	assert.False(t, e.OccurredAt.IsZero())

	other := New(TypeRulePublished, "TOLL", "user-1", nil)
	assert.NotEqual(t, e.ID, other.ID)
}

func TestKafkaPublisher_sendsKeyedMessage(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Type != TypeChargeCreated || e.ChargeCode != "UNLOAD" {
			return errors.New("unexpected event " + e.Type + " " + e.ChargeCode)
		}
		return nil
	})

	p := NewKafkaPublisherWithProducer(producer, "chargecfg.events")
	err := p.Publish(context.Background(), New(TypeChargeCreated, "UNLOAD", "user-1", nil))
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_sendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	p := NewKafkaPublisherWithProducer(producer, "chargecfg.events")
	err := p.Publish(context.Background(), New(TypeRulePublished, "TOLL", "", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	assert.Contains(t, err.Error(), TypeRulePublished)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_cancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := NewKafkaPublisherWithProducer(producer, "chargecfg.events")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Publish(ctx, New(TypeRulePublished, "TOLL", "", nil))
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_healthWithoutClient(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := NewKafkaPublisherWithProducer(producer, "chargecfg.events")
	assert.NoError(t, p.HealthCheck(context.Background()))
	require.NoError(t, p.Close())
}

func TestNewKafkaConfig(t *testing.T) {
	cfg := NewKafkaConfig("chargecfg-test")
	assert.Equal(t, "chargecfg-test", cfg.ClientID)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
}

func TestLogPublisher_writesRequestFields(t *testing.T) {
	var buf bytes.Buffer
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{MessageKey: "msg"})
	logger := zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel))

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID:     "user-42",
		CorrelationID: "corr-1",
	})
	ctx = observability.WithLogger(ctx, logger)

	p := NewLogPublisher(zap.NewNop())
	require.NoError(t, p.Publish(ctx, New(TypeEntryApproved, "UNLOAD", "user-42", nil)))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "domain event", entry["msg"])
	assert.Equal(t, TypeEntryApproved, entry["event_type"])
	assert.Equal(t, "UNLOAD", entry["charge_code"])
	assert.Equal(t, "corr-1", entry["correlation_id"])
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), New(TypeRulesExpired, "TOLL", "", nil)))
	assert.NoError(t, p.Close())
}

func TestMemoryPublisher_filtersByType(t *testing.T) {
	p := &MemoryPublisher{}
	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, New(TypeChargeCreated, "A", "", nil)))
	require.NoError(t, p.Publish(ctx, New(TypeRulePublished, "A", "", nil)))
	require.NoError(t, p.Publish(ctx, New(TypeRulePublished, "B", "", nil)))

	assert.Len(t, p.Events(), 3)
	published := p.Events(TypeRulePublished)
	require.Len(t, published, 2)
	assert.Equal(t, "B", published[1].ChargeCode)
	assert.Empty(t, p.Events(TypeEntryRejected))
}
