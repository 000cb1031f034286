package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"

	commonlog "media_server/server/common/log"
)

var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Handler processes one delivery. Returning nil acknowledges it, an error
// wrapped with Permanent dead-letters it, any other error requeues it.
// Handlers must be idempotent: redelivery is expected.
type Handler func(ctx context.Context, d amqp.Delivery) error

type ConsumerConfig struct {
	Queue         string
	Tag           string
	Workers       int
	MaxDeliveries int
	DrainTimeout  time.Duration
}

// Consumer runs handlers for a queue with at most Workers deliveries in
// flight and tracks them so shutdown can drain.
type Consumer struct {
	ch      *amqp.Channel
	cfg     ConsumerConfig
	handler Handler
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
}

func NewConsumer(ch *amqp.Channel, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	return &Consumer{
		ch:      ch,
		cfg:     cfg,
		handler: handler,
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
	}
}

// Run consumes until ctx is canceled or the broker closes the delivery
// channel. It returns only after in-flight handlers have finished.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ch.Qos(c.cfg.Workers, 0, false); err != nil {
		return fmt.Errorf("set qos on %s: %w", c.cfg.Queue, err)
	}
	deliveries, err := c.ch.Consume(c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	commonlog.Infof("event=mq_consumer action=start queue=%s tag=%s workers=%d", c.cfg.Queue, c.cfg.Tag, c.cfg.Workers)

	return c.serve(ctx, deliveries, func() {
		if err := c.ch.Cancel(c.cfg.Tag, false); err != nil {
			commonlog.Warnf("event=mq_consumer action=cancel status=failed queue=%s error=%v", c.cfg.Queue, err)
		}
	})
}

func (c *Consumer) serve(ctx context.Context, deliveries <-chan amqp.Delivery, stopIntake func()) error {
	// Handlers outlive ctx so that a drain can let them finish; jobsCancel
	// aborts them once the drain timeout expires.
	jobsCtx, jobsCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer jobsCancel()

	for {
		select {
		case <-ctx.Done():
			stopIntake()
			c.drain(jobsCancel)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				c.drain(jobsCancel)
				return ErrDeliveriesClosed
			}
			if err := c.sem.Acquire(ctx, 1); err != nil {
				c.settle(d, "requeue", d.Nack(false, true))
				stopIntake()
				c.drain(jobsCancel)
				return nil
			}
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer c.sem.Release(1)
				c.dispatch(jobsCtx, d)
			}()
		}
	}
}

func (c *Consumer) drain(cancelJobs context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		commonlog.Infof("event=mq_consumer action=drain status=ok queue=%s", c.cfg.Queue)
	case <-time.After(c.cfg.DrainTimeout):
		commonlog.Warnf("event=mq_consumer action=drain status=timeout queue=%s timeout=%s", c.cfg.Queue, c.cfg.DrainTimeout)
		cancelJobs()
		<-done
	}
}

func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery) {
	err := c.invoke(ctx, d)
	attempt := DeliveryAttempt(d)
	switch {
	case err == nil:
		c.settle(d, "ack", d.Ack(false))
	case ctx.Err() != nil:
		commonlog.Warnf("event=mq_delivery action=requeue reason=shutdown queue=%s routing_key=%s error=%v", c.cfg.Queue, d.RoutingKey, err)
		c.settle(d, "requeue", d.Nack(false, true))
	case IsPermanent(err):
		commonlog.Errorf("event=mq_delivery action=dead_letter reason=permanent queue=%s routing_key=%s attempt=%d error=%v", c.cfg.Queue, d.RoutingKey, attempt, err)
		c.settle(d, "dead_letter", d.Reject(false))
	case c.cfg.MaxDeliveries > 0 && attempt >= c.cfg.MaxDeliveries:
		commonlog.Errorf("event=mq_delivery action=dead_letter reason=max_deliveries queue=%s routing_key=%s attempt=%d error=%v", c.cfg.Queue, d.RoutingKey, attempt, err)
		c.settle(d, "dead_letter", d.Reject(false))
	default:
		commonlog.Warnf("event=mq_delivery action=requeue reason=retryable queue=%s routing_key=%s attempt=%d error=%v", c.cfg.Queue, d.RoutingKey, attempt, err)
		c.settle(d, "requeue", d.Nack(false, true))
	}
}

func (c *Consumer) invoke(ctx context.Context, d amqp.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			commonlog.Exceptionf("event=mq_delivery action=handle status=panic queue=%s routing_key=%s panic=%v", c.cfg.Queue, d.RoutingKey, r)
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return c.handler(ctx, d)
}

func (c *Consumer) settle(d amqp.Delivery, action string, err error) {
	if err != nil {
		commonlog.Errorf("event=mq_delivery action=%s status=failed queue=%s delivery_tag=%d error=%v", action, c.cfg.Queue, d.DeliveryTag, err)
	}
}
