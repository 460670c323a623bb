package service

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/iliyamo/grow4bot/internal/queue"
)

// silentBroker accepts TCP connections and never answers the AMQP
// handshake.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func TestPublishGivesUpWithTheContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := NewAMQPPublisher(silentBroker(t), zap.New(core))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Publish(ctx, queue.LedgerEvent{Kind: queue.KindWalletTopUp, UserID: 1})
	require.Error(t, err)
	assert.Less(t, time.Since(start), defaultDialTimeout)
	assert.Zero(t, logs.Len())
}

func TestPublishDialTimeoutWithoutDeadline(t *testing.T) {
	p := NewAMQPPublisher(silentBroker(t), nil)
	p.dialTimeout = 100 * time.Millisecond

	start := time.Now()
	err := p.Publish(context.Background(), queue.LedgerEvent{Kind: queue.KindWalletTopUp})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPublishExpiredContext(t *testing.T) {
	p := NewAMQPPublisher(silentBroker(t), nil)
	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()

	err := p.Publish(ctx, queue.LedgerEvent{Kind: queue.KindWalletTopUp})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
