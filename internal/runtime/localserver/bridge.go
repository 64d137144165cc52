package localserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/ids"
	"github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/transport"
)

// Metadata keys and values set on bridge replies.
const (
	MetadataRequestID     = "request_id"
	MetadataCorrelationID = middleware.CorrelationIDMetadataKey
	MetadataStatus        = "funcflow_status"

	StatusOK    = "ok"
	StatusError = "error"
)

const bridgeHandlerName = "funcflow_bridge"

// Submitter is the part of Server the bridge drives.
type Submitter interface {
	SubmitInvocation(ctx context.Context, body []byte) (string, []byte, error)
}

// Bridge feeds broker messages into the local server one at a time and
// publishes each outcome to the reply topic. Messages are acked once the
// invocation resolved; shutdown and cancellation nack them for redelivery.
type Bridge struct {
	server     Submitter
	transport  transport.Transport
	topic      string
	replyTopic string
	logger     logging.ServiceLogger
	tracer     trace.Tracer
	router     *message.Router
}

// NewBridge wires a watermill router from topic to replyTopic. An empty
// replyTopic consumes without replying.
func NewBridge(server Submitter, tr transport.Transport, topic, replyTopic string, logger logging.ServiceLogger) (*Bridge, error) {
	switch {
	case server == nil:
		return nil, errors.New("funcflow: bridge requires a submitter")
	case logger == nil:
		return nil, errspkg.ErrLoggerRequired
	case tr.Subscriber == nil:
		return nil, errors.New("funcflow: bridge requires a subscriber")
	case topic == "":
		return nil, errors.New("funcflow: bridge topic is required")
	case replyTopic != "" && tr.Publisher == nil:
		return nil, errors.New("funcflow: bridge reply topic requires a publisher")
	}

	b := &Bridge{
		server:     server,
		transport:  tr,
		topic:      topic,
		replyTopic: replyTopic,
		logger:     logger.With(logging.LogFields{"component": "bridge", "topic": topic}),
		tracer:     otel.Tracer("github.com/drblury/funcflow/bridge"),
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logging.NewWatermillAdapter(b.logger))
	if err != nil {
		return nil, fmt.Errorf("funcflow: create bridge router: %w", err)
	}
	router.AddMiddleware(
		ensureCorrelationID,
		b.logMessages,
		b.traceMessages,
		middleware.Recoverer,
	)

	if replyTopic != "" {
		router.AddHandler(bridgeHandlerName, topic, tr.Subscriber, replyTopic, tr.Publisher, b.handle)
	} else {
		router.AddNoPublisherHandler(bridgeHandlerName, topic, tr.Subscriber, func(msg *message.Message) error {
			_, err := b.handle(msg)
			return err
		})
	}
	b.router = router
	return b, nil
}

// Run consumes until ctx is cancelled, then closes the transport.
func (b *Bridge) Run(ctx context.Context) error {
	if starter, ok := b.transport.Subscriber.(transport.ServerStarter); ok {
		go func() {
			select {
			case <-b.router.Running():
			case <-ctx.Done():
				return
			}
			if err := starter.StartHTTPServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.logger.Error("Bridge HTTP subscriber stopped", err, nil)
			}
		}()
	}

	b.logger.Info("Bridge started", logging.LogFields{"reply_topic": b.replyTopic})
	runErr := b.router.Run(ctx)
	closeErr := b.transport.Close()
	b.logger.Info("Bridge stopped", nil)
	return errors.Join(runErr, closeErr)
}

// Running is closed once the bridge has subscribed.
func (b *Bridge) Running() chan struct{} {
	return b.router.Running()
}

func (b *Bridge) handle(msg *message.Message) ([]*message.Message, error) {
	requestID, output, err := b.server.SubmitInvocation(msg.Context(), msg.Payload)

	status := StatusOK
	var failed *InvocationFailedError
	switch {
	case err == nil:
	case errors.As(err, &failed):
		status = StatusError
		output = failed.Payload
	default:
		b.logger.Error("Bridge submission not resolved; message will be redelivered", err, logging.LogFields{
			"message_uuid": msg.UUID,
		})
		return nil, err
	}

	b.logger.Debug("Bridge invocation resolved", logging.LogFields{
		"message_uuid": msg.UUID,
		"request_id":   requestID,
		"status":       status,
	})

	if b.replyTopic == "" {
		return nil, nil
	}

	reply := message.NewMessage(ids.CreateULID(), output)
	reply.Metadata.Set(MetadataRequestID, requestID)
	reply.Metadata.Set(MetadataCorrelationID, msg.Metadata.Get(MetadataCorrelationID))
	reply.Metadata.Set(MetadataStatus, status)
	return []*message.Message{reply}, nil
}

// ensureCorrelationID falls back to the message UUID so replies can always be
// matched to their trigger.
func ensureCorrelationID(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(MetadataCorrelationID) == "" {
			msg.Metadata.Set(MetadataCorrelationID, msg.UUID)
		}
		return h(msg)
	}
}

func (b *Bridge) logMessages(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		b.logger.Trace("Bridge received message", logging.LogFields{
			"message_uuid": msg.UUID,
			"bytes":        len(msg.Payload),
			"metadata":     msg.Metadata,
		})
		return h(msg)
	}
}

func (b *Bridge) traceMessages(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := b.tracer.Start(msg.Context(), "funcflow.bridge.message",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.message.id", msg.UUID),
				attribute.String("messaging.destination.name", b.topic),
			),
		)
		defer span.End()
		msg.SetContext(ctx)

		out, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return out, err
	}
}
