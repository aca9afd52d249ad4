package worker

import (
	"context"
	"sync"
	"time"

	"color-server/common"
	"color-server/common/logger"
	"color-server/internal/metrics"
	"color-server/internal/model"
	"color-server/internal/store"

	"go.uber.org/zap"
)

// Publisher outbox 发布端（RocketMQ、Redis pub/sub）
type Publisher interface {
	Name() string
	Publish(ctx context.Context, topic, bizKey string, body []byte) error
}

const (
	outboxInterval  = time.Second
	outboxBatchSize = 100
)

// OutboxDispatcher 定时扫描待发送的 outbox 记录，投递到全部发布端
// 至少一次：任一发布端失败整条记录计一次失败，下轮重投到全部发布端
type OutboxDispatcher struct {
	store    store.Store
	pubs     []Publisher
	interval time.Duration
}

func NewOutboxDispatcher(st store.Store, pubs ...Publisher) *OutboxDispatcher {
	live := make([]Publisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			live = append(live, p)
		}
	}
	return &OutboxDispatcher{store: st, pubs: live, interval: outboxInterval}
}

// Start 启动分发循环，支持通过 ctx 优雅退出；没有发布端时不启动
func (d *OutboxDispatcher) Start(ctx context.Context, wg *sync.WaitGroup) {
	if len(d.pubs) == 0 {
		logger.Warn("outbox: no publisher configured, dispatcher not started")
		return
	}
	names := make([]string, 0, len(d.pubs))
	for _, p := range d.pubs {
		names = append(names, p.Name())
	}
	logger.Info("outbox: dispatcher started", zap.Strings("publishers", names))

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("outbox: dispatch failed", zap.Error(err))
				}
			}
		}
	}()
}

// DispatchOnce 投递一批，返回发送成功的条数
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var rows []model.OutboxRow
	err := d.store.View(c, func(tx store.Tx) error {
		var err error
		rows, err = tx.ListOutboxPending(c, outboxBatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, r := range rows {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		var failed error
		for _, p := range d.pubs {
			err := p.Publish(ctx, r.Topic, r.BizKey, []byte(r.Payload))
			metrics.RecordOutbox(p.Name(), r.Topic, err)
			if err != nil {
				logger.Warn("outbox: publish failed",
					zap.String("publisher", p.Name()), zap.Int64("id", r.ID),
					zap.String("topic", r.Topic), zap.Error(err))
				failed = err
			}
		}
		err := d.store.WithTx(ctx, func(tx store.Tx) error {
			if failed != nil {
				return tx.MarkOutboxFailed(ctx, r.ID, truncateErr(failed))
			}
			return tx.MarkOutboxSent(ctx, r.ID)
		})
		if err != nil {
			logger.Warn("outbox: mark failed", zap.Int64("id", r.ID), zap.Error(err))
			continue
		}
		if failed == nil {
			sent++
		}
	}
	return sent, nil
}

func truncateErr(err error) string {
	s, _ := common.JsonMarshalToString(map[string]string{"error": err.Error()})
	if len(s) > 240 {
		return s[:240]
	}
	return s
}
