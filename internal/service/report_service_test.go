package service

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/prime-exam-api/internal/models"
	"github.com/noah-isme/prime-exam-api/internal/repository"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
	"github.com/noah-isme/prime-exam-api/pkg/jobs"
)

type reportRepoStub struct {
	jobs map[string]*models.ReportJob
}

func newReportRepoStub() *reportRepoStub {
	return &reportRepoStub{jobs: map[string]*models.ReportJob{}}
}

func (r *reportRepoStub) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.CreatedAt = time.Now()
	r.jobs[job.ID] = job
	return nil
}

func (r *reportRepoStub) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (r *reportRepoStub) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *reportRepoStub) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	var queued []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *reportRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	return nil, nil
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newReportServiceForTest(t *testing.T) (*ReportService, *reportRepoStub, *queueStub, *ExportService) {
	t.Helper()
	repo := newReportRepoStub()
	queue := &queueStub{}
	exportSvc, _ := newExportServiceForTest(t)
	svc := NewReportService(repo, queue, exportSvc, zap.NewNop(), ReportServiceConfig{
		ResultTTL:       time.Hour,
		CleanupInterval: time.Hour,
		MaxRetries:      3,
	})
	return svc, repo, queue, exportSvc
}

func TestReportServiceCreateJob(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t)
	resp, err := svc.CreateJob(context.Background(), ReportRequest{
		Type:   models.ReportTypeStatistics,
		ExamID: "exam-1",
		Format: models.ReportFormatCSV,
	}, "admin-1")
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, resp.ID, queue.jobs[0].ID)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	assert.Contains(t, repo.jobs, resp.ID)
	assert.Equal(t, "admin-1", repo.jobs[resp.ID].CreatedBy)
}

func TestReportServiceCreateJobValidation(t *testing.T) {
	svc, _, _, _ := newReportServiceForTest(t)

	cases := []struct {
		name string
		req  ReportRequest
	}{
		{"missing exam", ReportRequest{Type: models.ReportTypeStatistics, Format: models.ReportFormatCSV}},
		{"unknown type", ReportRequest{Type: models.ReportType("ledger"), ExamID: "exam-1", Format: models.ReportFormatCSV}},
		{"unknown format", ReportRequest{Type: models.ReportTypeStatistics, ExamID: "exam-1", Format: models.ReportFormat("docx")}},
		{"score report without student", ReportRequest{Type: models.ReportTypeScoreReport, ExamID: "exam-1", Format: models.ReportFormatPDF}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateJob(context.Background(), tc.req, "admin-1")
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
}

func TestReportServiceCreateJobEnqueueFailureMarksFailed(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t)
	queue.err = errors.New("queue full")

	_, err := svc.CreateJob(context.Background(), ReportRequest{
		Type:   models.ReportTypeDistribution,
		ExamID: "exam-1",
		Format: models.ReportFormatCSV,
	}, "admin-1")
	require.Error(t, err)
	require.Len(t, repo.jobs, 1)
	for _, job := range repo.jobs {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
		require.NotNil(t, job.ErrorMessage)
	}
}

func TestReportServiceGetStatus(t *testing.T) {
	svc, repo, _, _ := newReportServiceForTest(t)
	url := "/api/v1/reports/download/token"
	repo.jobs["job-1"] = &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeStatistics,
		Params:    models.ReportJobParams{ExamID: "exam-1", Format: models.ReportFormatCSV},
		Status:    models.ReportStatusFinished,
		Progress:  100,
		ResultURL: &url,
		CreatedBy: "operator-1",
	}

	resp, err := svc.GetStatus(context.Background(), "job-1", "admin-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, resp.Status)
	assert.Equal(t, 100, resp.Progress)
	require.NotNil(t, resp.ResultURL)
	assert.Equal(t, url, *resp.ResultURL)
}

func TestReportServiceGetStatusOperatorOwnership(t *testing.T) {
	svc, repo, _, _ := newReportServiceForTest(t)
	repo.jobs["job-1"] = &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeStatistics,
		Params:    models.ReportJobParams{ExamID: "exam-1", Format: models.ReportFormatCSV},
		Status:    models.ReportStatusProcessing,
		CreatedBy: "operator-1",
	}

	_, err := svc.GetStatus(context.Background(), "job-1", "operator-2", models.RoleOperator)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	resp, err := svc.GetStatus(context.Background(), "job-1", "operator-1", models.RoleOperator)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusProcessing, resp.Status)
}

func TestReportServiceGetStatusMissingJob(t *testing.T) {
	svc, _, _, _ := newReportServiceForTest(t)
	_, err := svc.GetStatus(context.Background(), "missing", "admin-1", models.RoleAdmin)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReportServiceResolveDownload(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-download",
		Type:      models.ReportTypeDistribution,
		Params:    models.ReportJobParams{ExamID: "exam-1", Format: models.ReportFormatCSV},
		Status:    models.ReportStatusFinished,
		Progress:  100,
		CreatedBy: "admin-1",
	}
	repo.jobs[job.ID] = job

	result, err := exportSvc.Generate(context.Background(), job)
	require.NoError(t, err)
	job.ResultURL = &result.URL
	now := time.Now()
	job.FinishedAt = &now

	download, err := svc.ResolveDownload(context.Background(), result.Token)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(result.RelativePath), download.Filename)
	assert.Equal(t, models.ReportFormatCSV, download.Format)
	download.File.Close()
}

func TestReportServiceResolveDownloadRejectsUnfinished(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-pending",
		Type:      models.ReportTypeDistribution,
		Params:    models.ReportJobParams{ExamID: "exam-1", Format: models.ReportFormatCSV},
		Status:    models.ReportStatusProcessing,
		CreatedBy: "admin-1",
	}
	repo.jobs[job.ID] = job

	result, err := exportSvc.Generate(context.Background(), job)
	require.NoError(t, err)
	job.ResultURL = &result.URL

	_, err = svc.ResolveDownload(context.Background(), result.Token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportServiceResolveDownloadRejectsBadToken(t *testing.T) {
	svc, _, _, _ := newReportServiceForTest(t)
	_, err := svc.ResolveDownload(context.Background(), "not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t)
	repo.jobs["queued-1"] = &models.ReportJob{ID: "queued-1", Type: models.ReportTypeStatistics, Status: models.ReportStatusQueued}
	repo.jobs["done-1"] = &models.ReportJob{ID: "done-1", Type: models.ReportTypeStatistics, Status: models.ReportStatusFinished}

	svc.RecoverPendingJobs(context.Background())
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "queued-1", queue.jobs[0].ID)
}

type exportGeneratorStub struct {
	result *ExportResult
	err    error
	calls  int
}

func (e *exportGeneratorStub) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func TestReportWorkerHandleSuccess(t *testing.T) {
	repo := newReportRepoStub()
	repo.jobs["job-1"] = &models.ReportJob{
		ID:     "job-1",
		Type:   models.ReportTypeStatistics,
		Params: models.ReportJobParams{ExamID: "exam-1", Format: models.ReportFormatCSV},
		Status: models.ReportStatusQueued,
	}
	exporter := &exportGeneratorStub{result: &ExportResult{URL: "/api/v1/reports/download/token"}}
	worker := NewReportWorker(repo, exporter, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1"})
	require.NoError(t, err)
	job := repo.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFinished, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.ResultURL)
	assert.Equal(t, "/api/v1/reports/download/token", *job.ResultURL)
	require.NotNil(t, job.FinishedAt)
}

func TestReportWorkerHandleFailureRequeues(t *testing.T) {
	repo := newReportRepoStub()
	repo.jobs["job-1"] = &models.ReportJob{
		ID:     "job-1",
		Type:   models.ReportTypeStatistics,
		Params: models.ReportJobParams{ExamID: "exam-1", Format: models.ReportFormatCSV},
		Status: models.ReportStatusQueued,
	}
	exporter := &exportGeneratorStub{err: errors.New("postgres gone")}
	worker := NewReportWorker(repo, exporter, 3, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.Error(t, err)
	job := repo.jobs["job-1"]
	assert.Equal(t, models.ReportStatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "postgres gone", *job.ErrorMessage)
}

func TestReportWorkerHandleExhaustedRetriesFails(t *testing.T) {
	repo := newReportRepoStub()
	repo.jobs["job-1"] = &models.ReportJob{
		ID:     "job-1",
		Type:   models.ReportTypeStatistics,
		Params: models.ReportJobParams{ExamID: "exam-1", Format: models.ReportFormatCSV},
		Status: models.ReportStatusQueued,
	}
	exporter := &exportGeneratorStub{err: errors.New("postgres gone")}
	worker := NewReportWorker(repo, exporter, 2, zap.NewNop())

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	job := repo.jobs["job-1"]
	assert.Equal(t, models.ReportStatusFailed, job.Status)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.FinishedAt)
}

func TestReportWorkerHandleMissingJob(t *testing.T) {
	repo := newReportRepoStub()
	worker := NewReportWorker(repo, &exportGeneratorStub{}, 3, zap.NewNop())
	err := worker.Handle(context.Background(), jobs.Job{ID: "missing"})
	require.Error(t, err)
}
