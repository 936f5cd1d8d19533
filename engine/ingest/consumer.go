package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/docdex/docdex/pkg/natsutil"
	"github.com/docdex/docdex/pkg/resilience"
)

const (
	// ConvertedSubject carries conversion-completed document events.
	ConvertedSubject = "docs.converted"
	// DLQSubject is the dead letter queue for events that keep failing.
	DLQSubject = "docs.dlq"
	// MaxRetries before an event is dead-lettered.
	MaxRetries = 3
	// retryHeader tracks redelivery attempts across re-publishes.
	retryHeader = "X-Retry-Count"
)

// ConvertedEvent announces one converted HTML document ready for indexing.
type ConvertedEvent struct {
	DocumentID string    `json:"document_id"`
	HTML       string    `json:"html"`
	Source     string    `json:"source,omitempty"`
	FetchedAt  time.Time `json:"fetched_at,omitempty"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Event   ConvertedEvent `json:"event"`
	Error   string         `json:"error"`
	Retries int            `json:"retries"`
}

// PublishConverted announces a converted document on the events subject.
func PublishConverted(ctx context.Context, nc *nats.Conn, event ConvertedEvent) error {
	return natsutil.Publish(ctx, nc, ConvertedSubject, event)
}

// StartConsumer subscribes to converted-document events and runs each
// through the pipeline. Failed events are re-published with an incremented
// retry header and dead-lettered after MaxRetries attempts; one bad
// document never stops the subscription.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = resilience.NewLimiter(resilience.DefaultLimiterOpts)
	}
	pipeline := resilience.LimiterStageWait(limiter, NewPipeline(deps))

	return natsutil.Subscribe(nc, ConvertedSubject, func(ctx context.Context, event ConvertedEvent, msg *nats.Msg) {
		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		summary, err := Process(ctx, pipeline, rawDocumentFromEvent(event))
		if err != nil {
			retries++
			log.Error("ingest: pipeline failed",
				"error", err,
				"document_id", event.DocumentID,
				"retry", retries,
			)

			if retries >= MaxRetries {
				dlq := dlqMessage{Event: event, Error: err.Error(), Retries: retries}
				if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
			} else {
				retryMsg := nats.NewMsg(ConvertedSubject)
				retryMsg.Data = msg.Data
				for k, vs := range msg.Header {
					for _, v := range vs {
						retryMsg.Header.Add(k, v)
					}
				}
				retryMsg.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("ingest: retry publish failed", "error", err)
				}
			}
		} else {
			log.Info("ingest: document indexed",
				"document_id", summary.DocumentID,
				"chunks", summary.Chunks,
				"written", summary.Written,
			)
		}

		// Ack if JetStream.
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}
