package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"claimsapi/internal/docproc"
	"claimsapi/internal/index"
	"claimsapi/internal/llm"
	"claimsapi/internal/model"
	"claimsapi/internal/pdftext"
	"claimsapi/internal/repository"
	"claimsapi/internal/staging"
	"claimsapi/internal/storage"
)

var (
	ErrNoFiles    = errors.New("no files provided")
	ErrIDRequired = errors.New("id is required")
	ErrNotFound   = errors.New("claim not found")
	ErrEmptyQuery = errors.New("query is required")
)

const (
	defaultSearchK   = 5
	presignURLExpiry = 15 * time.Minute
)

// Upload is one file of a process-claim request, already read off the wire.
type Upload struct {
	Filename string
	Content  []byte
}

// ClaimListResult is the service-level DTO for paginated claims.
type ClaimListResult struct {
	Items []model.Claim `json:"data"`
	Total int           `json:"total"`
}

// ClaimService defines the use cases for processing and querying claims.
type ClaimService interface {
	// ProcessClaim runs the full pipeline over a batch of uploaded PDFs:
	// stage, extract text, classify, extract fields, cross-validate, then
	// best-effort index/archive/persist. Document results come back in
	// upload order.
	ProcessClaim(ctx context.Context, uploads []Upload) (*model.ClaimResult, error)

	// SearchSimilar returns up to k indexed documents nearest to the query.
	SearchSimilar(ctx context.Context, query string, k int) ([]model.SearchHit, error)

	// ListClaims returns processed claims using limit/offset and a total count.
	ListClaims(ctx context.Context, limit, offset int) (*ClaimListResult, error)

	// GetClaim returns a single processed claim by ID, with presigned
	// download URLs for its archived uploads when available.
	GetClaim(ctx context.Context, id string) (*model.Claim, error)

	// DeleteClaim removes a claim and its archived uploads.
	DeleteClaim(ctx context.Context, id string) error
}

// Options carries the tunables of the pipeline.
type Options struct {
	MaxFileBytes    int64
	MaxConcurrency  int
	VectorDimension int
}

// claimService is the concrete pipeline implementation.
type claimService struct {
	completer llm.Completer
	prompts   *docproc.PromptBuilder
	extractor pdftext.Extractor
	sink      index.Sink
	embed     index.Embedder
	archive   storage.Archive
	repo      repository.ClaimRepository
	opts      Options
	log       *slog.Logger
}

// NewClaimService constructs a ClaimService. sink, archive and repo may each
// be nil, which disables indexing, archival and persistence respectively; the
// core pipeline still runs.
func NewClaimService(
	completer llm.Completer,
	prompts *docproc.PromptBuilder,
	extractor pdftext.Extractor,
	sink index.Sink,
	embed index.Embedder,
	archive storage.Archive,
	repo repository.ClaimRepository,
	opts Options,
	log *slog.Logger,
) ClaimService {
	if embed == nil {
		embed = index.HashEmbedder
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.VectorDimension <= 0 {
		opts.VectorDimension = 512
	}
	if log == nil {
		log = slog.Default()
	}
	return &claimService{
		completer: completer,
		prompts:   prompts,
		extractor: extractor,
		sink:      sink,
		embed:     embed,
		archive:   archive,
		repo:      repo,
		opts:      opts,
		log:       log,
	}
}

// fileOutcome is the per-file result of the fan-out phase. text carries the
// extracted document text so validation does not re-read the PDF.
type fileOutcome struct {
	record model.ExtractionRecord
	text   string
}

func (s *claimService) ProcessClaim(ctx context.Context, uploads []Upload) (*model.ClaimResult, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	area, err := staging.NewArea(s.opts.MaxFileBytes, s.log)
	if err != nil {
		return nil, fmt.Errorf("create staging area: %w", err)
	}
	defer area.Cleanup()

	// All uploads are validated and staged before any model call, so one
	// bad file rejects the whole batch up front.
	paths := make([]string, len(uploads))
	for i, up := range uploads {
		p, err := area.Stage(up.Filename, up.Content)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}

	outcomes := make([]fileOutcome, len(uploads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.MaxConcurrency)
	for i := range uploads {
		i := i
		g.Go(func() error {
			out, err := s.processOne(gctx, uploads[i].Filename, paths[i])
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &model.ClaimResult{
		Documents: make([]model.ExtractionRecord, len(outcomes)),
	}
	var billText, dischargeText string
	for i, out := range outcomes {
		result.Documents[i] = out.record
		// First occurrence wins when a type appears more than once.
		switch out.record.Type {
		case model.TypeBill:
			if billText == "" {
				billText = out.text
			}
		case model.TypeDischarge:
			if dischargeText == "" {
				dischargeText = out.text
			}
		}
	}

	result.Validation = s.validate(ctx, billText, dischargeText)

	s.indexDocuments(ctx, result.Documents)
	archiveKeys := s.archiveUploads(ctx, uploads)
	s.persistClaim(ctx, result, archiveKeys)

	return result, nil
}

// processOne runs the per-file pipeline: text extraction, classification,
// field extraction. Model-side failures degrade to a safe record so one bad
// response never sinks the batch; infrastructure failures propagate.
func (s *claimService) processOne(ctx context.Context, filename, path string) (fileOutcome, error) {
	text, err := s.extractor.Extract(path)
	if err != nil {
		if errors.Is(err, pdftext.ErrEmptyDocument) {
			s.log.Warn("document has no extractable text", "filename", filename)
			return fileOutcome{record: model.ExtractionRecord{
				Filename: filename,
				Type:     model.TypeUnknown,
				Data:     nil,
			}}, nil
		}
		return fileOutcome{}, fmt.Errorf("extract text from %s: %w", filename, err)
	}

	raw, err := s.completer.Complete(ctx, s.prompts.BuildClassify(text))
	if err != nil {
		var fatal *llm.FatalError
		if errors.As(err, &fatal) {
			s.log.Error("classification exhausted retries, degrading",
				"filename", filename, "attempts", fatal.Attempts, "error", fatal.Cause)
			return fileOutcome{record: model.ExtractionRecord{
				Filename: filename,
				Type:     model.TypeUnknown,
				Data:     nil,
			}, text: text}, nil
		}
		return fileOutcome{}, fmt.Errorf("classify %s: %w", filename, err)
	}

	typ := docproc.NormalizeDocType(raw)
	if typ == model.TypeUnknown {
		s.log.Warn("unrecognized classification", "filename", filename, "raw", raw)
		return fileOutcome{record: model.ExtractionRecord{
			Filename: filename,
			Type:     model.TypeUnknown,
			Data:     nil,
		}, text: text}, nil
	}

	keys, _ := docproc.RequiredKeys(typ)
	prompt, err := s.prompts.BuildExtract(typ, text)
	if err != nil {
		return fileOutcome{}, err
	}

	raw, err = s.completer.Complete(ctx, prompt)
	if err != nil {
		var fatal *llm.FatalError
		if errors.As(err, &fatal) {
			s.log.Error("extraction exhausted retries, degrading",
				"filename", filename, "type", typ, "attempts", fatal.Attempts, "error", fatal.Cause)
			return fileOutcome{record: model.ExtractionRecord{
				Filename: filename,
				Type:     typ,
				Data:     docproc.DefaultRecord(keys),
			}, text: text}, nil
		}
		return fileOutcome{}, fmt.Errorf("extract fields from %s: %w", filename, err)
	}

	data, err := docproc.Normalize(raw, keys)
	if err != nil {
		s.log.Warn("unusable extraction response, degrading",
			"filename", filename, "type", typ, "error", err)
		data = docproc.DefaultRecord(keys)
	}

	return fileOutcome{record: model.ExtractionRecord{
		Filename: filename,
		Type:     typ,
		Data:     data,
	}, text: text}, nil
}

// validate produces the cross-document consistency record. Without both a
// bill and a discharge text no model call happens.
func (s *claimService) validate(ctx context.Context, billText, dischargeText string) model.ValidationRecord {
	if billText == "" || dischargeText == "" {
		return docproc.MissingDocumentsValidation()
	}

	raw, err := s.completer.Complete(ctx, s.prompts.BuildValidate(billText, dischargeText))
	if err != nil {
		s.log.Error("validation completion failed", "error", err)
		return docproc.ErrorValidation()
	}
	return docproc.NormalizeValidation(raw)
}

// indexDocuments writes processed records to the vector index. Best-effort:
// failures are logged and the request still succeeds.
func (s *claimService) indexDocuments(ctx context.Context, records []model.ExtractionRecord) {
	if s.sink == nil {
		return
	}
	for _, rec := range records {
		doc := model.IndexedDocument{
			ID:        uuid.NewString(),
			Type:      rec.Type,
			Filename:  rec.Filename,
			Data:      rec.Data,
			Embedding: s.embed(embedText(rec), s.opts.VectorDimension),
		}
		if err := s.sink.Put(ctx, doc); err != nil {
			s.log.Warn("indexing failed", "filename", rec.Filename, "error", err)
		}
	}
}

// embedText flattens a record into the text the embedder sees. Keys are
// sorted so equal records always embed to equal vectors.
func embedText(rec model.ExtractionRecord) string {
	var b strings.Builder
	b.WriteString(rec.Filename)
	b.WriteByte(' ')
	b.WriteString(string(rec.Type))

	keys := make([]string, 0, len(rec.Data))
	for k := range rec.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		if v := rec.Data[k]; v != nil {
			fmt.Fprintf(&b, " %v", v)
		}
	}
	return b.String()
}

// archiveUploads stores the raw PDFs in object storage under a shared batch
// prefix. Best-effort; returns whatever keys were written.
func (s *claimService) archiveUploads(ctx context.Context, uploads []Upload) []string {
	if s.archive == nil {
		return nil
	}
	batch := uuid.NewString()
	keys := make([]string, 0, len(uploads))
	for _, up := range uploads {
		key := path.Join("claims", batch, uuid.NewString()+".pdf")
		_, err := s.archive.Put(ctx, key, bytes.NewReader(up.Content), storage.PutObjectOptions{
			Size:        int64(len(up.Content)),
			ContentType: "application/pdf",
			Metadata: map[string]string{
				"original-filename": up.Filename,
			},
		})
		if err != nil {
			s.log.Warn("archiving upload failed", "filename", up.Filename, "error", err)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// persistClaim records the processed result. Best-effort: the pipeline's
// response does not depend on the row existing.
func (s *claimService) persistClaim(ctx context.Context, result *model.ClaimResult, archiveKeys []string) {
	if s.repo == nil {
		return
	}
	docsJSON, err := json.Marshal(result.Documents)
	if err != nil {
		s.log.Error("marshal claim documents", "error", err)
		return
	}
	valJSON, err := json.Marshal(result.Validation)
	if err != nil {
		s.log.Error("marshal claim validation", "error", err)
		return
	}

	status := "invalid"
	if result.Validation.IsValid {
		status = "valid"
	}
	claim := &model.Claim{
		ID:          uuid.NewString(),
		Status:      status,
		Documents:   docsJSON,
		Validation:  valJSON,
		ArchiveKeys: archiveKeys,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.repo.Create(ctx, claim); err != nil {
		s.log.Warn("persisting claim failed", "claim_id", claim.ID, "error", err)
	}
}

func (s *claimService) SearchSimilar(ctx context.Context, query string, k int) ([]model.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = defaultSearchK
	}
	if s.sink == nil {
		return []model.SearchHit{}, nil
	}
	hits, err := s.sink.Search(ctx, s.embed(query, s.opts.VectorDimension), k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return hits, nil
}

func (s *claimService) ListClaims(ctx context.Context, limit, offset int) (*ClaimListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	page, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	items := page.Items
	if items == nil {
		items = []model.Claim{}
	}
	for i := range items {
		if err := hydrateResult(&items[i]); err != nil {
			return nil, err
		}
	}
	return &ClaimListResult{Items: items, Total: page.Total}, nil
}

func (s *claimService) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrIDRequired
	}
	claim, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := hydrateResult(claim); err != nil {
		return nil, err
	}

	if s.archive != nil && len(claim.ArchiveKeys) > 0 {
		claim.FileURLs = make(map[string]string, len(claim.ArchiveKeys))
		for _, key := range claim.ArchiveKeys {
			url, err := s.archive.PresignGet(ctx, key, presignURLExpiry)
			if err != nil {
				s.log.Warn("presign archive url failed", "key", key, "error", err)
				continue
			}
			claim.FileURLs[key] = url
		}
	}
	return claim, nil
}

func (s *claimService) DeleteClaim(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrIDRequired
	}
	claim, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if s.archive != nil {
		for _, key := range claim.ArchiveKeys {
			if err := s.archive.Delete(ctx, key); err != nil {
				s.log.Warn("deleting archived upload failed", "key", key, "error", err)
			}
		}
	}
	return s.repo.Delete(ctx, id)
}

// hydrateResult decodes the stored JSON columns into the response shape.
func hydrateResult(c *model.Claim) error {
	res := &model.ClaimResult{}
	if len(c.Documents) > 0 {
		if err := json.Unmarshal(c.Documents, &res.Documents); err != nil {
			return fmt.Errorf("decode claim %s documents: %w", c.ID, err)
		}
	}
	if len(c.Validation) > 0 {
		if err := json.Unmarshal(c.Validation, &res.Validation); err != nil {
			return fmt.Errorf("decode claim %s validation: %w", c.ID, err)
		}
	}
	c.Result = res
	return nil
}
