package usecase

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"campusrag/internal/adapter/fs"
	"campusrag/internal/domain"
	"campusrag/internal/port"
)

// maxRecordBytes bounds one JSON line; a 3072-dimension embedding
// serializes to roughly 70 KiB.
const maxRecordBytes = 16 << 20

// Record is one line of a chunk export.
type Record struct {
	URL         string          `json:"url"`
	ChunkNumber *int            `json:"chunk_number"`
	Title       string          `json:"title"`
	Summary     string          `json:"summary"`
	Content     string          `json:"content"`
	Metadata    domain.Metadata `json:"metadata"`
	Embedding   []float32       `json:"embedding"`
	CreatedAt   *time.Time      `json:"created_at,omitempty"`
}

// Chunk converts the record. A missing chunk_number becomes -1 so the
// store rejects it instead of silently taking position 0.
func (r Record) Chunk() domain.Chunk {
	n := -1
	if r.ChunkNumber != nil {
		n = *r.ChunkNumber
	}
	c := domain.Chunk{
		URL:         r.URL,
		ChunkNumber: n,
		Title:       r.Title,
		Summary:     r.Summary,
		Content:     r.Content,
		Metadata:    r.Metadata,
		Embedding:   r.Embedding,
	}
	if r.CreatedAt != nil {
		c.CreatedAt = *r.CreatedAt
	}
	return c
}

// RecordError locates a record that could not be ingested.
type RecordError struct {
	File string
	Line int
	Err  error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// IngestResult contains the results of an ingestion run.
type IngestResult struct {
	Files    int
	Records  int
	Upserted int
	Embedded int
	Rejected []RecordError
	Errors   []RecordError
}

// IngestUseCase upserts chunk exports into one domain store.
type IngestUseCase struct {
	store    port.ChunkStore
	walker   *fs.Walker
	embedder port.Embedder
	logger   *slog.Logger
}

// NewIngestUseCase creates an ingest use case. The embedder is optional
// and only used for records without an embedding.
func NewIngestUseCase(store port.ChunkStore, walker *fs.Walker, embedder port.Embedder, logger *slog.Logger) *IngestUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUseCase{
		store:    store,
		walker:   walker,
		embedder: embedder,
		logger:   logger,
	}
}

type pendingRecord struct {
	file  string
	line  int
	chunk domain.Chunk
}

// Ingest reads every matching file under root and upserts its records.
// Constraint violations are collected per record; a store connectivity
// failure aborts the run. progress, when set, is called after each record.
func (u *IngestUseCase) Ingest(ctx context.Context, root string, progress func(done, total int)) (*IngestResult, error) {
	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	result := &IngestResult{Files: len(files)}
	var pending []pendingRecord
	for _, f := range files {
		recs, errs, err := readRecordFile(f.Path)
		if err != nil {
			return nil, err
		}
		result.Errors = append(result.Errors, errs...)
		pending = append(pending, recs...)
	}
	result.Records = len(pending) + len(result.Errors)

	if err := u.embedMissing(ctx, pending, result); err != nil {
		return nil, err
	}

	for i, p := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		_, err := u.store.Upsert(ctx, p.chunk)
		switch {
		case err == nil:
			result.Upserted++
		case errors.Is(err, domain.ErrConstraintViolation):
			result.Rejected = append(result.Rejected, RecordError{File: p.file, Line: p.line, Err: err})
		case errors.Is(err, domain.ErrStoreUnavailable):
			return result, fmt.Errorf("upsert %s:%d: %w", p.file, p.line, err)
		default:
			result.Errors = append(result.Errors, RecordError{File: p.file, Line: p.line, Err: err})
		}
		if progress != nil {
			progress(i+1, len(pending))
		}
	}

	u.logger.Info("ingestion finished",
		"domain", u.store.Domain(),
		"files", result.Files,
		"upserted", result.Upserted,
		"rejected", len(result.Rejected),
		"errors", len(result.Errors),
	)
	return result, nil
}

// embedMissing fills in embeddings for records that came without one.
func (u *IngestUseCase) embedMissing(ctx context.Context, pending []pendingRecord, result *IngestResult) error {
	if u.embedder == nil {
		return nil
	}
	var idx []int
	var texts []string
	for i, p := range pending {
		if len(p.chunk.Embedding) == 0 && strings.TrimSpace(p.chunk.Content) != "" {
			idx = append(idx, i)
			texts = append(texts, p.chunk.Content)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := u.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed records: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("embed records: expected %d vectors, got %d", len(texts), len(vecs))
	}
	for j, i := range idx {
		pending[i].chunk.Embedding = vecs[j]
		if pending[i].chunk.Metadata == nil {
			pending[i].chunk.Metadata = domain.Metadata{}
		}
		if _, ok := pending[i].chunk.Metadata["embedding_model"]; !ok {
			pending[i].chunk.Metadata["embedding_model"] = u.embedder.ModelName()
		}
	}
	result.Embedded = len(texts)
	return nil
}

func readRecordFile(path string) ([]pendingRecord, []RecordError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	recs, errs, err := readRecords(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	pending := make([]pendingRecord, len(recs))
	for i, r := range recs {
		pending[i] = pendingRecord{file: path, line: r.line, chunk: r.record.Chunk()}
	}
	for i := range errs {
		errs[i].File = path
	}
	return pending, errs, nil
}

type lineRecord struct {
	line   int
	record Record
}

// readRecords decodes JSON lines. Blank lines are skipped; lines that do
// not decode are returned as errors without stopping the read.
func readRecords(r io.Reader) ([]lineRecord, []RecordError, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	var recs []lineRecord
	var errs []RecordError
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			errs = append(errs, RecordError{Line: line, Err: fmt.Errorf("invalid record: %w", err)})
			continue
		}
		recs = append(recs, lineRecord{line: line, record: rec})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return recs, errs, nil
}
