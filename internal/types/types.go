package types

import (
	"context"

	"github.com/xhad/brief/internal/models"
)

// Core interfaces
type PolicyGate interface {
	Evaluate(ctx context.Context, rawURL string) (models.PolicyDecision, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.Document, error)
}

type Extractor interface {
	ExtractDocument(doc *models.Document) (models.ExtractedText, error)
}

type Generator interface {
	Complete(ctx context.Context, req models.CompletionRequest) (*models.Completion, error)
}

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type SummaryArchive interface {
	Save(ctx context.Context, summary models.Summary) error
}

// SummaryLibrary is an archive that can also be read back.
type SummaryLibrary interface {
	SummaryArchive
	Get(ctx context.Context, id string) (models.Summary, error)
	Similar(ctx context.Context, text string, limit int) ([]models.Summary, error)
}
