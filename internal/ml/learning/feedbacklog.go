package learning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ternarybob/arremate/internal/interfaces"
	"github.com/ternarybob/arremate/internal/models"
	"github.com/ternarybob/arremate/internal/objectstore"
)

// FeedbackRequest is one entry in the pending review queue: enough
// context for a reviewer to label the prediction without opening the
// document.
type FeedbackRequest struct {
	JobID       string    `json:"job_id"`
	Score       float64   `json:"score"`
	Class       string    `json:"class"`
	Confidence  float64   `json:"confidence"`
	Summary     string    `json:"summary,omitempty"`
	Questions   []string  `json:"questions"`
	RequestedAt time.Time `json:"requested_at"`
}

// reviewQuestions is the fixed questionnaire attached to every request.
var reviewQuestions = []string{
	"O documento é um edital de leilão judicial válido?",
	"A classificação do lead (high/medium/low) está correta?",
	"O lead resultou em uma oportunidade real de investimento?",
}

// feedbackLog appends JSON lines to monthly objects in the object store.
// The store's Put is atomic, so a rewritten month file is never observed
// half-written.
type feedbackLog struct {
	objects interfaces.ObjectStore
}

func (l *feedbackLog) requestKey(at time.Time) string {
	return fmt.Sprintf("feedback/%s.jsonl", at.UTC().Format("2006-01"))
}

func (l *feedbackLog) archiveKey(at time.Time) string {
	return fmt.Sprintf("feedback/processed/%s.jsonl", at.UTC().Format("2006-01-02T150405"))
}

// appendRequests adds requests to the current month's pending file.
func (l *feedbackLog) appendRequests(ctx context.Context, requests []FeedbackRequest) error {
	if len(requests) == 0 {
		return nil
	}
	key := l.requestKey(time.Now())

	var buf bytes.Buffer
	if rc, err := l.objects.Get(ctx, key); err == nil {
		_, copyErr := io.Copy(&buf, rc)
		rc.Close()
		if copyErr != nil {
			return fmt.Errorf("feedback log: read %s: %w", key, copyErr)
		}
	} else if !errors.Is(err, objectstore.ErrObjectNotFound) {
		return fmt.Errorf("feedback log: open %s: %w", key, err)
	}

	enc := json.NewEncoder(&buf)
	for i := range requests {
		if err := enc.Encode(&requests[i]); err != nil {
			return fmt.Errorf("feedback log: encode request: %w", err)
		}
	}

	if _, err := l.objects.Put(ctx, key, &buf); err != nil {
		return fmt.Errorf("feedback log: write %s: %w", key, err)
	}
	return nil
}

// archive writes processed feedback records to a timestamped file under
// feedback/processed/.
func (l *feedbackLog) archive(ctx context.Context, records []*models.FeedbackRecord) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("feedback log: encode record %s: %w", record.ID, err)
		}
	}

	key := l.archiveKey(time.Now())
	if _, err := l.objects.Put(ctx, key, &buf); err != nil {
		return fmt.Errorf("feedback log: archive %s: %w", key, err)
	}
	return nil
}
