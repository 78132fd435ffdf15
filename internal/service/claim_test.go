package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"claimsapi/internal/docproc"
	indexMocks "claimsapi/internal/index/mocks"
	"claimsapi/internal/llm"
	"claimsapi/internal/model"
	"claimsapi/internal/pdftext"
	"claimsapi/internal/repository"
	repoMocks "claimsapi/internal/repository/mocks"
	"claimsapi/internal/storage"
	storeMocks "claimsapi/internal/storage/mocks"
)

const (
	billFixture = `MEDICAL BILL
Patient Name: John Smith
Hospital: General Hospital
Total Amount: 1250.50
Date of Service: 2024-01-15`

	dischargeFixture = `DISCHARGE SUMMARY
Patient Name: John Smith
Hospital: General Hospital
Admission Date: 2024-01-10
Discharge Date: 2024-01-15
Diagnosis: Acute appendicitis
Treatment Summary: Appendectomy performed without complications`

	billResponse = `{"Patient Name": "John Smith", "Hospital": "General Hospital", "Total Amount": 1250.50, "Date of Service": "2024-01-15"}`

	dischargeResponse = `{"Patient Name": "John Smith", "Hospital": "General Hospital", "Admission Date": "2024-01-10", "Discharge Date": "2024-01-15", "Diagnosis": "Acute appendicitis", "Treatment Summary": "Appendectomy performed without complications"}`

	validResponse = `{"is_valid": true, "discrepancies": [], "validation_details": {"patient_name_match": true, "hospital_match": true, "dates_consistent": true}}`
)

// pdfUpload wraps document text in enough PDF dressing to pass staging. The
// stub extractor peels the header back off.
func pdfUpload(filename, text string) Upload {
	return Upload{Filename: filename, Content: []byte("%PDF-1.4\n" + text)}
}

// stubExtractor returns the staged file content minus the fake PDF header.
type stubExtractor struct {
	err error
}

func (e *stubExtractor) Extract(path string) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	_, text, _ := strings.Cut(string(b), "\n")
	return text, nil
}

// funcCompleter scripts completion behavior per prompt.
type funcCompleter func(ctx context.Context, prompt string) (string, error)

func (f funcCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// pipelineCompleter answers classification, extraction and validation prompts
// the way a well-behaved model would, counting validation calls.
func pipelineCompleter(validateCalls *int32) funcCompleter {
	return func(_ context.Context, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "classify it"):
			switch {
			case strings.Contains(prompt, "MEDICAL BILL"):
				return "bill", nil
			case strings.Contains(prompt, "DISCHARGE SUMMARY"):
				return "discharge", nil
			default:
				return "something else", nil
			}
		case strings.Contains(prompt, "Medical bill text:"):
			return billResponse, nil
		case strings.Contains(prompt, "Discharge summary text:"):
			return dischargeResponse, nil
		case strings.Contains(prompt, "Compare these medical documents"):
			atomic.AddInt32(validateCalls, 1)
			return validResponse, nil
		default:
			return "", fmt.Errorf("unexpected prompt: %.60s", prompt)
		}
	}
}

func newTestService(completer llm.Completer, extractor pdftext.Extractor) ClaimService {
	return NewClaimService(
		completer,
		docproc.NewPromptBuilder(2000),
		extractor,
		nil, nil, nil, nil,
		Options{MaxFileBytes: 5 << 20, MaxConcurrency: 4, VectorDimension: 16},
		nil,
	)
}

func TestClaimService_ProcessClaim_NoFiles(t *testing.T) {
	svc := newTestService(nil, nil)
	_, err := svc.ProcessClaim(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestClaimService_ProcessClaim_BillAndDischarge(t *testing.T) {
	var validateCalls int32
	svc := newTestService(pipelineCompleter(&validateCalls), &stubExtractor{})

	res, err := svc.ProcessClaim(context.Background(), []Upload{
		pdfUpload("bill.pdf", billFixture),
		pdfUpload("discharge.pdf", dischargeFixture),
	})
	assert.NoError(t, err)
	assert.Len(t, res.Documents, 2)

	bill := res.Documents[0]
	assert.Equal(t, "bill.pdf", bill.Filename)
	assert.Equal(t, model.TypeBill, bill.Type)
	assert.Equal(t, "John Smith", bill.Data["Patient Name"])
	assert.Equal(t, "General Hospital", bill.Data["Hospital"])
	assert.Equal(t, 1250.50, bill.Data["Total Amount"])
	assert.Equal(t, "2024-01-15", bill.Data["Date of Service"])

	discharge := res.Documents[1]
	assert.Equal(t, model.TypeDischarge, discharge.Type)
	assert.Equal(t, "Acute appendicitis", discharge.Data["Diagnosis"])

	assert.True(t, res.Validation.IsValid)
	assert.Empty(t, res.Validation.Discrepancies)
	assert.Equal(t, true, res.Validation.ValidationDetails["patient_name_match"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&validateCalls))
}

func TestClaimService_ProcessClaim_MissingDischarge(t *testing.T) {
	var validateCalls int32
	svc := newTestService(pipelineCompleter(&validateCalls), &stubExtractor{})

	res, err := svc.ProcessClaim(context.Background(), []Upload{
		pdfUpload("bill.pdf", billFixture),
	})
	assert.NoError(t, err)
	assert.Equal(t, docproc.MissingDocumentsValidation(), res.Validation)
	assert.Equal(t, int32(0), atomic.LoadInt32(&validateCalls),
		"no validation call should happen without both documents")
}

func TestClaimService_ProcessClaim_UnknownClassification(t *testing.T) {
	var validateCalls int32
	svc := newTestService(pipelineCompleter(&validateCalls), &stubExtractor{})

	res, err := svc.ProcessClaim(context.Background(), []Upload{
		pdfUpload("mystery.pdf", "SOMETHING UNRECOGNIZABLE"),
	})
	assert.NoError(t, err)
	assert.Equal(t, model.TypeUnknown, res.Documents[0].Type)
	assert.Nil(t, res.Documents[0].Data)
	assert.Equal(t, docproc.MissingDocumentsValidation(), res.Validation)
}

func TestClaimService_ProcessClaim_MalformedExtraction(t *testing.T) {
	completer := funcCompleter(func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "classify it") {
			return "bill", nil
		}
		return "I'm sorry, I cannot produce JSON today.", nil
	})
	svc := newTestService(completer, &stubExtractor{})

	res, err := svc.ProcessClaim(context.Background(), []Upload{
		pdfUpload("bill.pdf", billFixture),
	})
	assert.NoError(t, err)

	keys, _ := docproc.RequiredKeys(model.TypeBill)
	assert.Equal(t, model.TypeBill, res.Documents[0].Type)
	assert.Equal(t, docproc.DefaultRecord(keys), res.Documents[0].Data,
		"unusable extraction should degrade to an all-null record")
}

func TestClaimService_ProcessClaim_ClassificationFatal(t *testing.T) {
	var validateCalls int32
	inner := pipelineCompleter(&validateCalls)
	completer := funcCompleter(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "classify it") && strings.Contains(prompt, "MEDICAL BILL") {
			return "", &llm.FatalError{Attempts: 3, Cause: llm.ErrRateLimited}
		}
		return inner(ctx, prompt)
	})
	svc := newTestService(completer, &stubExtractor{})

	res, err := svc.ProcessClaim(context.Background(), []Upload{
		pdfUpload("bill.pdf", billFixture),
		pdfUpload("discharge.pdf", dischargeFixture),
	})
	assert.NoError(t, err, "one exhausted file must not sink the batch")
	assert.Equal(t, model.TypeUnknown, res.Documents[0].Type)
	assert.Nil(t, res.Documents[0].Data)
	assert.Equal(t, model.TypeDischarge, res.Documents[1].Type)
}

func TestClaimService_ProcessClaim_EmptyDocument(t *testing.T) {
	var validateCalls int32
	svc := newTestService(pipelineCompleter(&validateCalls), &stubExtractor{err: pdftext.ErrEmptyDocument})

	res, err := svc.ProcessClaim(context.Background(), []Upload{
		pdfUpload("scan.pdf", "image only"),
	})
	assert.NoError(t, err)
	assert.Equal(t, model.TypeUnknown, res.Documents[0].Type)
	assert.Nil(t, res.Documents[0].Data)
}

func TestClaimService_ProcessClaim_OrderPreserved(t *testing.T) {
	var validateCalls int32
	inner := pipelineCompleter(&validateCalls)
	// Random per-call latency shuffles completion order across the pool.
	completer := funcCompleter(func(ctx context.Context, prompt string) (string, error) {
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
		return inner(ctx, prompt)
	})
	svc := newTestService(completer, &stubExtractor{})

	uploads := make([]Upload, 8)
	for i := range uploads {
		text := billFixture
		if i%2 == 1 {
			text = dischargeFixture
		}
		uploads[i] = pdfUpload(fmt.Sprintf("doc-%02d.pdf", i), text)
	}

	res, err := svc.ProcessClaim(context.Background(), uploads)
	assert.NoError(t, err)
	assert.Len(t, res.Documents, len(uploads))
	for i, rec := range res.Documents {
		assert.Equal(t, fmt.Sprintf("doc-%02d.pdf", i), rec.Filename,
			"results must follow upload order")
	}
}

func TestClaimService_ProcessClaim_StagingRejection(t *testing.T) {
	var validateCalls int32
	svc := newTestService(pipelineCompleter(&validateCalls), &stubExtractor{})

	_, err := svc.ProcessClaim(context.Background(), []Upload{
		pdfUpload("bill.pdf", billFixture),
		{Filename: "notes.txt", Content: []byte("%PDF-fake")},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "notes.txt is not a PDF file")
}

func TestClaimService_ProcessClaim_SideEffectsBestEffort(t *testing.T) {
	ctx := context.Background()
	var validateCalls int32

	mSink := new(indexMocks.MockSink)
	mSink.On("Put", mock.Anything, mock.AnythingOfType("model.IndexedDocument")).
		Return(errors.New("redis down"))

	mArchive := new(storeMocks.MockArchive)
	mArchive.On("Put", mock.Anything, mock.AnythingOfType("string"), mock.Anything, mock.Anything).
		Return(storage.ObjectInfo{}, errors.New("minio down"))

	mRepo := new(repoMocks.MockClaimRepository)
	mRepo.On("Create", mock.Anything, mock.AnythingOfType("*model.Claim")).
		Return(nil, errors.New("postgres down"))

	svc := NewClaimService(
		pipelineCompleter(&validateCalls),
		docproc.NewPromptBuilder(2000),
		&stubExtractor{},
		mSink, nil, mArchive, mRepo,
		Options{MaxFileBytes: 5 << 20, MaxConcurrency: 2, VectorDimension: 16},
		nil,
	)

	res, err := svc.ProcessClaim(ctx, []Upload{
		pdfUpload("bill.pdf", billFixture),
		pdfUpload("discharge.pdf", dischargeFixture),
	})
	assert.NoError(t, err, "indexing, archival and persistence failures must not fail the request")
	assert.Len(t, res.Documents, 2)
	mSink.AssertNumberOfCalls(t, "Put", 2)
	mArchive.AssertNumberOfCalls(t, "Put", 2)
	mRepo.AssertNumberOfCalls(t, "Create", 1)
}

func TestClaimService_ProcessClaim_PersistsClaimRow(t *testing.T) {
	ctx := context.Background()
	var validateCalls int32

	mRepo := new(repoMocks.MockClaimRepository)
	mRepo.On("Create", mock.Anything, mock.MatchedBy(func(c *model.Claim) bool {
		return c.ID != "" && c.Status == "valid" &&
			strings.Contains(string(c.Documents), `"Patient Name":"John Smith"`)
	})).Return(&model.Claim{}, nil)

	svc := NewClaimService(
		pipelineCompleter(&validateCalls),
		docproc.NewPromptBuilder(2000),
		&stubExtractor{},
		nil, nil, nil, mRepo,
		Options{MaxFileBytes: 5 << 20, MaxConcurrency: 2, VectorDimension: 16},
		nil,
	)

	_, err := svc.ProcessClaim(ctx, []Upload{
		pdfUpload("bill.pdf", billFixture),
		pdfUpload("discharge.pdf", dischargeFixture),
	})
	assert.NoError(t, err)
	mRepo.AssertExpectations(t)
}

func TestClaimService_SearchSimilar(t *testing.T) {
	ctx := context.Background()

	t.Run("empty query", func(t *testing.T) {
		svc := newTestService(nil, nil)
		_, err := svc.SearchSimilar(ctx, "   ", 5)
		assert.ErrorIs(t, err, ErrEmptyQuery)
	})

	t.Run("defaults k and forwards hits", func(t *testing.T) {
		hits := []model.SearchHit{{
			IndexedDocument: model.IndexedDocument{ID: "a", Type: model.TypeBill},
			Score:           0.12,
		}}
		mSink := new(indexMocks.MockSink)
		mSink.On("Search", ctx, mock.AnythingOfType("[]float32"), defaultSearchK).Return(hits, nil)

		svc := NewClaimService(nil, docproc.NewPromptBuilder(2000), nil,
			mSink, nil, nil, nil,
			Options{VectorDimension: 16}, nil)

		got, err := svc.SearchSimilar(ctx, "appendectomy", 0)
		assert.NoError(t, err)
		assert.Equal(t, hits, got)
		mSink.AssertExpectations(t)
	})

	t.Run("sink error propagates", func(t *testing.T) {
		mSink := new(indexMocks.MockSink)
		mSink.On("Search", ctx, mock.Anything, 3).Return(nil, errors.New("connection refused"))

		svc := NewClaimService(nil, docproc.NewPromptBuilder(2000), nil,
			mSink, nil, nil, nil,
			Options{VectorDimension: 16}, nil)

		_, err := svc.SearchSimilar(ctx, "appendectomy", 3)
		assert.Error(t, err)
	})
}

func TestClaimService_GetClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("id required", func(t *testing.T) {
		svc := newTestService(nil, nil)
		_, err := svc.GetClaim(ctx, "")
		assert.ErrorIs(t, err, ErrIDRequired)
	})

	t.Run("not found", func(t *testing.T) {
		mRepo := new(repoMocks.MockClaimRepository)
		mRepo.On("FindByID", ctx, "missing").Return(nil, sql.ErrNoRows)

		svc := NewClaimService(nil, nil, nil, nil, nil, nil, mRepo, Options{}, nil)
		_, err := svc.GetClaim(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("hydrates result and presigns archives", func(t *testing.T) {
		stored := &model.Claim{
			ID:          "c1",
			Status:      "valid",
			Documents:   []byte(`[{"filename":"bill.pdf","type":"bill","data":{"Hospital":"General Hospital"}}]`),
			Validation:  []byte(`{"is_valid":true,"discrepancies":[],"validation_details":{}}`),
			ArchiveKeys: []string{"claims/batch/x.pdf"},
		}
		mRepo := new(repoMocks.MockClaimRepository)
		mRepo.On("FindByID", ctx, "c1").Return(stored, nil)

		mArchive := new(storeMocks.MockArchive)
		mArchive.On("PresignGet", ctx, "claims/batch/x.pdf", presignURLExpiry).
			Return("https://minio.local/claims/batch/x.pdf?sig", nil)

		svc := NewClaimService(nil, nil, nil, nil, nil, mArchive, mRepo, Options{}, nil)
		got, err := svc.GetClaim(ctx, "c1")
		assert.NoError(t, err)
		assert.NotNil(t, got.Result)
		assert.Equal(t, model.TypeBill, got.Result.Documents[0].Type)
		assert.True(t, got.Result.Validation.IsValid)
		assert.Equal(t, "https://minio.local/claims/batch/x.pdf?sig", got.FileURLs["claims/batch/x.pdf"])
	})
}

func TestClaimService_ListClaims(t *testing.T) {
	ctx := context.Background()

	page := &repository.PageResult[model.Claim]{
		Items: []model.Claim{{
			ID:         "c1",
			Status:     "valid",
			Documents:  []byte(`[]`),
			Validation: []byte(`{"is_valid":true,"discrepancies":[],"validation_details":{}}`),
		}},
		Total: 7,
	}
	mRepo := new(repoMocks.MockClaimRepository)
	mRepo.On("List", ctx, repository.PageQuery{Limit: 10, Offset: 0}).Return(page, nil)

	svc := NewClaimService(nil, nil, nil, nil, nil, nil, mRepo, Options{}, nil)
	got, err := svc.ListClaims(ctx, 0, -1)
	assert.NoError(t, err)
	assert.Equal(t, 7, got.Total)
	assert.Len(t, got.Items, 1)
	assert.NotNil(t, got.Items[0].Result)
}

func TestClaimService_DeleteClaim(t *testing.T) {
	ctx := context.Background()

	mRepo := new(repoMocks.MockClaimRepository)
	mRepo.On("FindByID", ctx, "c1").Return(&model.Claim{
		ID:          "c1",
		ArchiveKeys: []string{"claims/batch/x.pdf"},
	}, nil)
	mRepo.On("Delete", ctx, "c1").Return(nil)

	mArchive := new(storeMocks.MockArchive)
	mArchive.On("Delete", ctx, "claims/batch/x.pdf").Return(nil)

	svc := NewClaimService(nil, nil, nil, nil, nil, mArchive, mRepo, Options{}, nil)
	assert.NoError(t, svc.DeleteClaim(ctx, "c1"))
	mRepo.AssertExpectations(t)
	mArchive.AssertExpectations(t)
}
