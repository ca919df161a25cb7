// Package objectevent decodes the provider-native object-created event
// envelope carried by each queue message body into the inner
// (source_container, key, event_time) records described in section 6,
// mirroring the real S3 event notification JSON shape.
package objectevent

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Record is one decoded object-created notification.
type Record struct {
	SourceContainer string
	Key             string
	EventTime       time.Time
	EventName       string
}

type envelope struct {
	Records []envelopeRecord `json:"Records"`
}

type envelopeRecord struct {
	EventName string    `json:"eventName"`
	EventTime time.Time `json:"eventTime"`
	S3        struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// Decode parses one queue message body into its constituent object-created
// records. A malformed envelope returns an error; per section 4.5 step 1,
// the caller marks the owning message as failed and continues rather than
// aborting the batch.
func Decode(body []byte) ([]Record, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode object-created event envelope: %w", err)
	}

	records := make([]Record, 0, len(env.Records))
	for i, r := range env.Records {
		if !strings.HasPrefix(r.EventName, "ObjectCreated:") {
			continue
		}

		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to URL-decode object key in record %d: %w", i, err)
		}

		records = append(records, Record{
			SourceContainer: r.S3.Bucket.Name,
			Key:             key,
			EventTime:       r.EventTime,
			EventName:       r.EventName,
		})
	}

	return records, nil
}
