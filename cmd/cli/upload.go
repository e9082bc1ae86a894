package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-doc-processor/internal/bus/kafka"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/extract"
)

func uploadCmd(e *env) *cobra.Command {
	var bucket, object, file string

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a file to GCS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if object == "" {
				object = filepath.Base(file)
			}
			uri, err := e.uploadToGCS(ctx, bucket, object, file)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Uploaded %s to %s\n", file, uri)
			return nil
		},
	}
	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "GCS bucket name (required)")
	cmd.Flags().StringVarP(&object, "object", "o", "", "GCS object name (defaults to the file name)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the local file (required)")
	_ = cmd.MarkFlagRequired("bucket")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (e *env) uploadToGCS(ctx context.Context, bucket, object, file string) (string, error) {
	e.log.Info().
		Str("bucket", bucket).
		Str("object", object).
		Str("file", file).
		Msg("Uploading file to GCS")

	gcs, err := extract.NewGCSStore(ctx)
	if err != nil {
		return "", err
	}
	defer closeLogged(e.log, "gcs", gcs.Close)

	return gcs.Upload(ctx, bucket, object, file)
}

func publishCmd(e *env) *cobra.Command {
	var (
		flags  documentFlags
		bucket string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a local file to the documents topic",
		Long: `Publish a local file as a document message for the worker service. With
--bucket the file is uploaded to GCS first and the message carries its URI
instead of the file content.`,
		Example: "  cli publish -f statement.pdf -t bank_statement --user-id 42 -b finance-docs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			now := time.Now()
			var contentURI string
			if bucket != "" {
				uri, err := e.uploadToGCS(ctx, bucket, gcsObjectName(flags.userID, flags.file, now), flags.file)
				if err != nil {
					return err
				}
				contentURI = uri
			}

			doc, err := flags.newDocument(contentURI, now)
			if err != nil {
				return err
			}
			payload, err := encodeDocument(doc)
			if err != nil {
				return err
			}

			publisher, err := kafka.NewPublisher(kafka.PublisherConfig{Brokers: e.cfg.Kafka.Brokers})
			if err != nil {
				return err
			}
			defer closeLogged(e.log, "publisher", publisher.Close)

			key := []byte(strconv.FormatInt(doc.ID, 10))
			if _, err := publisher.Publish(ctx, e.cfg.Kafka.DocumentsTopic, key, payload, nil); err != nil {
				return err
			}

			e.log.Info().
				Int64("document_id", doc.ID).
				Str("topic", e.cfg.Kafka.DocumentsTopic).
				Int("bytes", len(payload)).
				Msg("Document published")
			fmt.Fprintf(e.out, "Published document %d (%s) to %s\n", doc.ID, doc.ExternalID, e.cfg.Kafka.DocumentsTopic)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&bucket, "bucket", "b", "", "Upload to this GCS bucket and publish the URI")
	return cmd
}

// encodeDocument renders doc in the inbound message format read by the
// worker.
func encodeDocument(doc domain.Document) ([]byte, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document %d: %w", doc.ID, err)
	}
	return payload, nil
}

// gcsObjectName places uploads under a per-user, per-day prefix.
func gcsObjectName(userID int64, file string, now time.Time) string {
	return fmt.Sprintf("documents/%d/%s/%s", userID, now.UTC().Format("2006-01-02"), filepath.Base(file))
}
