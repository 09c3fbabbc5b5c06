package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/OFFIS-RIT/hippo/backend/pkg/indexer"
	"github.com/OFFIS-RIT/hippo/backend/pkg/logger"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// QueueDocumentMsg carries a document through the index and update queues.
type QueueDocumentMsg struct {
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id"`
	DocumentID    string         `json:"document_id"`
	Collection    string         `json:"collection"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata"`
}

// QueueDeleteDocumentMsg asks the worker to remove a document and every
// graph artifact that only it references.
type QueueDeleteDocumentMsg struct {
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
	DocumentID    string `json:"document_id"`
}

func ProcessIndexMessage(
	ctx context.Context,
	ix *indexer.Indexer,
	msg string,
) error {
	data := new(QueueDocumentMsg)
	if err := json.Unmarshal([]byte(msg), &data); err != nil {
		return err
	}
	if data.CorrelationID == "" {
		data.CorrelationID = gonanoid.Must()
	}

	logger.Info("[Queue] Indexing document", "document_id", data.DocumentID, "collection", data.Collection, "correlation_id", data.CorrelationID)

	start := time.Now()
	err := ix.CreateDocument(ctx, indexer.Document{
		ID:       data.DocumentID,
		Content:  data.Content,
		Metadata: data.Metadata,
	}, data.Collection)
	if err != nil {
		return err
	}

	logger.Info("[Queue] Document indexed", "document_id", data.DocumentID, "correlation_id", data.CorrelationID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func ProcessUpdateMessage(
	ctx context.Context,
	ix *indexer.Indexer,
	msg string,
) error {
	data := new(QueueDocumentMsg)
	if err := json.Unmarshal([]byte(msg), &data); err != nil {
		return err
	}
	if data.CorrelationID == "" {
		data.CorrelationID = gonanoid.Must()
	}

	logger.Info("[Queue] Updating document", "document_id", data.DocumentID, "collection", data.Collection, "correlation_id", data.CorrelationID)

	start := time.Now()
	err := ix.UpdateDocument(ctx, indexer.Document{
		ID:       data.DocumentID,
		Content:  data.Content,
		Metadata: data.Metadata,
	}, data.Collection)
	if err != nil {
		return err
	}

	logger.Info("[Queue] Document updated", "document_id", data.DocumentID, "correlation_id", data.CorrelationID, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func ProcessDeleteMessage(
	ctx context.Context,
	ix *indexer.Indexer,
	msg string,
) error {
	data := new(QueueDeleteDocumentMsg)
	if err := json.Unmarshal([]byte(msg), &data); err != nil {
		return err
	}

	logger.Info("[Queue] Deleting document", "document_id", data.DocumentID, "correlation_id", data.CorrelationID)

	if err := ix.DeleteDocument(ctx, data.DocumentID); err != nil {
		return err
	}

	logger.Info("[Queue] Document deleted", "document_id", data.DocumentID, "correlation_id", data.CorrelationID)
	return nil
}
