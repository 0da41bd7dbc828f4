package port

import (
	"context"

	"campusrag/internal/domain"
)

// Classifier scores how strongly a query belongs to each domain.
type Classifier interface {
	Classify(ctx context.Context, query string) (domain.Classification, error)
}
