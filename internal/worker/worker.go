// Package worker runs the service's background machinery: the NATS
// request/reply listener and the bounded synthesis pool it feeds.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/book-expert/logger"

	"github.com/book-expert/voiceclone-service/internal/router"
)

const handleMessageTimeout = 30 * time.Second

// NatsWorker listens for requests on a NATS subject and answers them through
// the router. Synthesis replies return immediately with a job id; the actual
// work happens on the pool.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	router         *router.Router
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	routerInstance *router.Router,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		router:         routerInstance,
		log:            log,
	}
}

// Run starts the worker and begins listening for messages. It blocks until
// ctx is canceled, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for requests on subject %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	reply := w.router.Handle(ctx, msg.Data)

	if msg.Reply == "" {
		// Fire-and-forget publish; nothing to answer.
		return
	}

	err := msg.Respond(reply)
	if err != nil {
		w.log.Error("Failed to send reply on %s: %v", w.subject, err)
	}
}
