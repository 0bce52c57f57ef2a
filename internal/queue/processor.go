package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sender is an interface for delivering messages to the smarthost
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// AuditUpdater records the delivery outcome on the audit rows that
// were created when the send was accepted.
type AuditUpdater interface {
	SetMessageID(ctx context.Context, id, messageID string) error
}

// DeliveryObserver is notified about delivery outcomes
type DeliveryObserver interface {
	DeliverySucceeded()
	DeliveryFailed()
}

// Processor processes the message spool. Each message gets exactly one
// delivery attempt; a failed attempt never goes back to pending and
// never refunds quota.
type Processor struct {
	queue           Queue
	sender          Sender
	audit           AuditUpdater
	observer        DeliveryObserver
	workers         int
	processInterval time.Duration
	sendTimeout     time.Duration
	logger          *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ProcessorConfig contains processor configuration
type ProcessorConfig struct {
	Workers         int
	ProcessInterval time.Duration
	SendTimeout     time.Duration
}

// NewProcessor creates a new spool processor
func NewProcessor(q Queue, sender Sender, audit AuditUpdater, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Minute
	}

	return &Processor{
		queue:           q,
		sender:          sender,
		audit:           audit,
		workers:         cfg.Workers,
		processInterval: cfg.ProcessInterval,
		sendTimeout:     cfg.SendTimeout,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
}

// SetObserver sets the delivery outcome observer
func (p *Processor) SetObserver(o DeliveryObserver) {
	p.observer = o
}

// Start starts the processor workers
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting delivery processor", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop stops the processor gracefully
func (p *Processor) Stop() {
	p.logger.Info("stopping delivery processor")
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("delivery processor stopped")
}

// worker is the main processing loop
func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-p.stopCh:
			logger.Debug("worker stopped by signal")
			return
		case <-ticker.C:
			p.processOne(ctx, logger)
		}
	}
}

// processOne processes a single message from the spool
func (p *Processor) processOne(ctx context.Context, logger *slog.Logger) {
	msg, err := p.queue.Dequeue(ctx)
	if err != nil {
		logger.Error("failed to dequeue message", "error", err)
		return
	}

	if msg == nil {
		return // Spool is empty
	}

	logger = logger.With("spool_id", msg.ID)
	logger.Debug("processing message")

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	err = p.sender.Send(sendCtx, msg)
	cancel()

	if err == nil {
		msg.Status = StatusDelivered
		msg.UpdatedAt = time.Now()

		if err := p.queue.Update(ctx, msg); err != nil {
			logger.Error("failed to update message status", "error", err)
		}

		p.resolveAudit(ctx, msg, msg.MessageID, logger)
		if p.observer != nil {
			p.observer.DeliverySucceeded()
		}

		logger.Info("message delivered", "from", msg.From, "to", msg.To, "message_id", msg.MessageID)
		return
	}

	// Single attempt: any delivery error is final
	msg.Status = StatusFailed
	msg.LastError = err.Error()
	msg.UpdatedAt = time.Now()

	if uerr := p.queue.Update(ctx, msg); uerr != nil {
		logger.Error("failed to update message status", "error", uerr)
	}

	// An empty message ID marks the audit rows as failed deliveries.
	p.resolveAudit(ctx, msg, "", logger)
	if p.observer != nil {
		p.observer.DeliveryFailed()
	}

	logger.Error("message delivery failed", "from", msg.From, "to", msg.To, "error", err)
}

// resolveAudit records the outcome on every audit row behind the message
func (p *Processor) resolveAudit(ctx context.Context, msg *Message, messageID string, logger *slog.Logger) {
	if p.audit == nil {
		return
	}

	for _, auditID := range msg.AuditIDs {
		if err := p.audit.SetMessageID(ctx, auditID, messageID); err != nil {
			logger.Error("failed to record delivery outcome", "audit_id", auditID, "error", err)
		}
	}
}
