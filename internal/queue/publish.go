package queue

import (
	"encoding/json"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rabbitmq/amqp091-go"
)

// EnqueueIndexDocument publishes an index job for the document. A missing
// correlation id is filled in before publishing so producer and worker log
// lines can be joined.
func EnqueueIndexDocument(ch *amqp091.Channel, msg QueueDocumentMsg) error {
	if msg.CorrelationID == "" {
		msg.CorrelationID = gonanoid.Must()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return PublishFIFO(ch, IndexQueue, data)
}

// EnqueueUpdateDocument publishes an update job for the document.
func EnqueueUpdateDocument(ch *amqp091.Channel, msg QueueDocumentMsg) error {
	if msg.CorrelationID == "" {
		msg.CorrelationID = gonanoid.Must()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return PublishFIFO(ch, UpdateQueue, data)
}

// EnqueueDeleteDocument publishes a delete job for the document.
func EnqueueDeleteDocument(ch *amqp091.Channel, msg QueueDeleteDocumentMsg) error {
	if msg.CorrelationID == "" {
		msg.CorrelationID = gonanoid.Must()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return PublishFIFO(ch, DeleteQueue, data)
}
