package main

import (
	"encoding/json"
	"flag"
	"io"
	"os"

	"github.com/OFFIS-RIT/hippo/backend/internal/queue"
	"github.com/OFFIS-RIT/hippo/backend/internal/util"
	"github.com/OFFIS-RIT/hippo/backend/pkg/logger"
	"github.com/OFFIS-RIT/hippo/backend/pkg/logger/console"
)

// enqueue publishes a single document job for the worker. Content is read
// from -file, or from stdin when no file is given.
func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	}))

	operation := flag.String("op", "index", "index, update or delete")
	docID := flag.String("doc", "", "document id")
	collection := flag.String("collection", util.GetEnvString("COLLECTION", ""), "collection for the document")
	file := flag.String("file", "", "path to the document content, stdin if empty")
	metadataJSON := flag.String("metadata", "", "extra metadata as a JSON object")
	flag.Parse()

	if *docID == "" {
		logger.Fatal("missing -doc")
	}

	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	switch *operation {
	case "delete":
		err = queue.EnqueueDeleteDocument(ch, queue.QueueDeleteDocumentMsg{
			DocumentID: *docID,
		})
	case "index", "update":
		var metadata map[string]any
		if *metadataJSON != "" {
			if err := json.Unmarshal([]byte(*metadataJSON), &metadata); err != nil {
				logger.Fatal("Invalid -metadata", "err", err)
			}
		}

		content, readErr := readContent(*file)
		if readErr != nil {
			logger.Fatal("Failed to read document content", "err", readErr)
		}

		msg := queue.QueueDocumentMsg{
			DocumentID: *docID,
			Collection: *collection,
			Content:    string(content),
			Metadata:   metadata,
		}
		if *operation == "update" {
			err = queue.EnqueueUpdateDocument(ch, msg)
		} else {
			err = queue.EnqueueIndexDocument(ch, msg)
		}
	default:
		logger.Fatal("Unknown operation", "op", *operation)
	}
	if err != nil {
		logger.Fatal("Failed to publish job", "op", *operation, "doc", *docID, "err", err)
	}

	logger.Info("Job published", "op", *operation, "doc", *docID)
}

func readContent(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
