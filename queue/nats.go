package queue

import (
	"time"

	nats "github.com/nats-io/go-nats"
	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

func init() {
	logger = log.WithFields(log.Fields{
		"package": "queue",
	})
}

// NATS is a message bus backed by a NATS connection. Senders and
// receivers are exposed as channels so the rest of the code doesn't
// have to know anything about the broker.
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to the NATS server at url.
func NewNATS(url string) (*NATS, error) {
	logger := logger.WithField("url", url)
	logger.Debug("connecting to nats")

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		logger.WithField("error", err).Debug("unable to connect to nats")
		return nil, err
	}

	return &NATS{
		conn: conn,
	}, nil
}

// SenderOn returns a channel that publishes everything sent on it to
// the subject. The channel is drained by a goroutine that lives as long
// as the connection; publish errors are logged and the message dropped,
// callers that care about delivery should retry at their level.
func (q *NATS) SenderOn(subject string) chan<- []byte {
	logger := logger.WithField("subject", subject)

	ch := make(chan []byte)
	go func() {
		for msg := range ch {
			if err := q.conn.Publish(subject, msg); err != nil {
				logger.WithField("error", err).
					Error("unable to publish message")
			}
		}
	}()

	return ch
}

// ReceiverOn subscribes to the subject and returns a channel of the raw
// message payloads.
func (q *NATS) ReceiverOn(subject string) (<-chan []byte, error) {
	logger := logger.WithField("subject", subject)

	ch := make(chan []byte)
	_, err := q.conn.Subscribe(subject, func(msg *nats.Msg) {
		ch <- msg.Data
	})
	if err != nil {
		logger.WithField("error", err).Debug("unable to subscribe")
		return nil, err
	}

	return ch, nil
}

// Close drains the connection.
func (q *NATS) Close() {
	q.conn.Close()
}
