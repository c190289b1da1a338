package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/metrics"
)

// Archiver stores verified raw payloads for audit. Failures never fail a
// delivery.
type Archiver interface {
	Archive(ctx context.Context, provider models.Provider, eventID string, payload []byte) error
}

// Processor runs one webhook delivery through verification, normalization
// and reconciliation.
type Processor struct {
	verifier   *Verifier
	normalizer *Normalizer
	reconciler *Reconciler
	repo       Repository
	archiver   Archiver
}

func NewProcessor(verifier *Verifier, normalizer *Normalizer, reconciler *Reconciler, repo Repository) *Processor {
	return &Processor{verifier: verifier, normalizer: normalizer, reconciler: reconciler, repo: repo}
}

// WithArchiver enables payload archiving.
func (p *Processor) WithArchiver(a Archiver) *Processor {
	p.archiver = a
	return p
}

// HandleCard processes a card processor delivery. Errors wrapping
// ErrVerification mean the request must be rejected; any other error is a
// storage failure the provider should retry.
func (p *Processor) HandleCard(ctx context.Context, payload []byte, signatureHeader string) (*Outcome, error) {
	start := time.Now()
	v, err := p.verifier.VerifyCard(payload, signatureHeader)
	if err != nil {
		return nil, p.rejected(models.ProviderCardProcessor, err)
	}
	out, err := p.process(ctx, v)
	p.observe(models.ProviderCardProcessor, start, out, err)
	return out, err
}

// HandleIAP processes an in-app purchase broker delivery.
func (p *Processor) HandleIAP(ctx context.Context, payload []byte, authHeader, queryToken string) (*Outcome, error) {
	start := time.Now()
	v, err := p.verifier.VerifyIAP(payload, authHeader, queryToken)
	if err != nil {
		return nil, p.rejected(models.ProviderIAPBroker, err)
	}
	out, err := p.process(ctx, v)
	p.observe(models.ProviderIAPBroker, start, out, err)
	return out, err
}

func (p *Processor) process(ctx context.Context, v *VerifiedEvent) (*Outcome, error) {
	p.archive(ctx, v)

	if v.Advisory {
		log.Infof("[Webhook] advisory %s event %s (%s) logged, not applied", v.Provider, v.EventID, v.EventType)
		return &Outcome{Status: OutcomeAdvisory}, nil
	}

	ev, err := p.normalizer.Normalize(v)
	if errors.Is(err, ErrUnmappable) {
		return p.dropUnmappable(ctx, v, err)
	}
	if err != nil {
		return nil, err
	}
	return p.reconciler.Apply(ctx, ev)
}

// dropUnmappable remembers the event id so redeliveries short-circuit as
// duplicates.
func (p *Processor) dropUnmappable(ctx context.Context, v *VerifiedEvent, reason error) (*Outcome, error) {
	log.Warnf("[Webhook] %v", reason)
	status := OutcomeUnmappable
	err := p.repo.Transaction(ctx, func(tx Repository) error {
		we := &models.WebhookEvent{Provider: v.Provider, ProviderEventID: v.EventID, EventType: v.EventType}
		created, err := tx.CreateWebhookEventIfNotExists(ctx, we)
		if err != nil {
			return err
		}
		if !created {
			status = OutcomeDuplicate
			return nil
		}
		return tx.MarkWebhookProcessed(ctx, we.ID, models.WebhookOutcomeUnmappable, 0, reason.Error())
	})
	if err != nil {
		return nil, fmt.Errorf("record unmappable %s event %s: %w", v.Provider, v.EventID, err)
	}
	return &Outcome{Status: status, Reason: reason.Error()}, nil
}

func (p *Processor) archive(ctx context.Context, v *VerifiedEvent) {
	if p.archiver == nil {
		return
	}
	if err := p.archiver.Archive(ctx, v.Provider, v.EventID, v.Payload); err != nil {
		metrics.ArchiveFailures.Inc()
		log.Warnf("[Webhook] archiving %s event %s failed: %v", v.Provider, v.EventID, err)
	}
}

func (p *Processor) rejected(provider models.Provider, err error) error {
	metrics.WebhookEventsTotal.WithLabelValues(string(provider), "rejected").Inc()
	log.Warnf("[Webhook] rejected %s delivery: %v", provider, err)
	return err
}

func (p *Processor) observe(provider models.Provider, start time.Time, out *Outcome, err error) {
	outcome := models.WebhookOutcomeFailed
	if err == nil && out != nil {
		outcome = string(out.Status)
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(provider), outcome).Inc()
	metrics.WebhookDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())
}
