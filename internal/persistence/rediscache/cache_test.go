package rediscache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/evengine/internal/domain"
)

func sampleDecision() domain.Decision {
	return domain.Decision{
		ID:        "d-42",
		Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Symbol:    "EURUSD",
		Action:    domain.ActionHold,
		Reason:    "no directional signal",
	}
}

func TestPutAndGet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, time.Minute)

	d := sampleDecision()
	data, err := json.Marshal(d)
	require.NoError(t, err)

	mock.ExpectSet(keyPrefix+"hash-1", data, time.Minute).SetVal("OK")
	require.NoError(t, c.Put(context.Background(), "hash-1", d))

	mock.ExpectGet(keyPrefix + "hash-1").SetVal(string(data))
	got, err := c.Get(context.Background(), "hash-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d, *got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissIsNotAnError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, time.Minute)

	mock.ExpectGet(keyPrefix + "absent").RedisNil()

	got, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetCorruptPayload(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, time.Minute)

	mock.ExpectGet(keyPrefix + "bad").SetVal("{not json")

	_, err := c.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache decode")
}

func TestPutPropagatesRedisError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := New(client, time.Minute)

	d := sampleDecision()
	data, err := json.Marshal(d)
	require.NoError(t, err)

	mock.ExpectSet(keyPrefix+"hash-err", data, time.Minute).SetErr(assert.AnError)

	err = c.Put(context.Background(), "hash-err", d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache put")
}
