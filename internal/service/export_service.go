package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/prime-exam-api/internal/models"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
	"github.com/noah-isme/prime-exam-api/pkg/export"
	"github.com/noah-isme/prime-exam-api/pkg/storage"
)

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportSources bundles the read-side repositories the dataset builders pull
// from.
type ExportSources struct {
	Exams         exportExamReader
	Students      exportStudentReader
	Scores        exportScoreReader
	Ranks         exportRankReader
	Statistics    exportStatsReader
	Problems      exportProblemReader
	Distributions exportDistributionReader
}

type exportExamReader interface {
	FindByID(ctx context.Context, id string) (*models.ExamInstance, error)
}

type exportStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type exportScoreReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Score, error)
}

type exportRankReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Rank, error)
}

type exportStatsReader interface {
	ListByExam(ctx context.Context, examID string) ([]models.CohortStatistics, error)
}

type exportProblemReader interface {
	ListByExam(ctx context.Context, examID string) ([]models.Problem, error)
}

type exportDistributionReader interface {
	ListByProblems(ctx context.Context, problemIDs []string) (map[string][]models.AnswerCount, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	sources ExportSources
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	excel   excelRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type excelRenderer interface {
	Render(sheets []export.Sheet) ([]byte, error)
}

// NewExportService constructs an ExportService.
func NewExportService(sources ExportSources, storage fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer, excel excelRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if excel == nil {
		excel = export.NewExcelExporter()
	}
	return &ExportService{
		sources: sources,
		storage: storage,
		csv:     csv,
		pdf:     pdf,
		excel:   excel,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate builds the dataset for the job and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}

	var payload []byte
	var err error
	switch job.Params.Format {
	case models.ReportFormatExcel:
		var sheets []export.Sheet
		sheets, err = s.buildSheets(ctx, job)
		if err != nil {
			return nil, err
		}
		payload, err = s.excel.Render(sheets)
	case models.ReportFormatCSV, models.ReportFormatPDF:
		var dataset export.Dataset
		var title string
		dataset, title, err = s.buildDataset(ctx, job)
		if err != nil {
			return nil, err
		}
		if job.Params.Format == models.ReportFormatCSV {
			payload, err = s.csv.Render(dataset)
		} else {
			payload, err = s.pdf.Render(dataset, title)
		}
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/reports/download/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	scope := sanitizeFilename(job.Params.ExamID)
	if job.Params.StudentID != nil {
		scope = sanitizeFilename(*job.Params.StudentID)
	}
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), scope, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeScoreReport:
		return s.buildScoreReportDataset(ctx, job.Params)
	case models.ReportTypeStatistics:
		return s.buildStatisticsDataset(ctx, job.Params)
	case models.ReportTypeDistribution:
		return s.buildDistributionDataset(ctx, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

// buildSheets produces the workbook layout for xlsx exports, one sheet per
// dataset.
func (s *ExportService) buildSheets(ctx context.Context, job *models.ReportJob) ([]export.Sheet, error) {
	switch job.Type {
	case models.ReportTypeStatistics:
		statsData, _, err := s.buildStatisticsDataset(ctx, job.Params)
		if err != nil {
			return nil, err
		}
		distData, _, err := s.buildDistributionDataset(ctx, job.Params)
		if err != nil {
			return nil, err
		}
		return []export.Sheet{
			{Name: "Statistics", Data: statsData},
			{Name: "Distribution", Data: distData},
		}, nil
	case models.ReportTypeDistribution:
		data, _, err := s.buildDistributionDataset(ctx, job.Params)
		if err != nil {
			return nil, err
		}
		return []export.Sheet{{Name: "Distribution", Data: data}}, nil
	case models.ReportTypeScoreReport:
		data, _, err := s.buildScoreReportDataset(ctx, job.Params)
		if err != nil {
			return nil, err
		}
		return []export.Sheet{{Name: "Scores", Data: data}}, nil
	default:
		return nil, fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildScoreReportDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	if params.StudentID == nil || *params.StudentID == "" {
		return export.Dataset{}, "", appErrors.Clone(appErrors.ErrValidation, "score report requires a student id")
	}
	student, err := s.sources.Students.FindByID(ctx, *params.StudentID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	scores, err := s.sources.Scores.ListByStudent(ctx, student.ID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	ranks, err := s.sources.Ranks.ListByStudent(ctx, student.ID)
	if err != nil {
		return export.Dataset{}, "", err
	}

	totalRanks := make(map[string]models.Rank, len(ranks))
	for _, rank := range ranks {
		if rank.CohortType == models.CohortTotal {
			totalRanks[rank.Field] = rank
		}
	}

	dataRows := make([]map[string]string, 0, len(scores))
	for _, score := range scores {
		row := map[string]string{
			"Field":        score.Field,
			"Correct":      fmt.Sprintf("%d", score.CorrectCount),
			"Points":       fmt.Sprintf("%.1f", score.Points),
			"Rank":         "",
			"Participants": "",
			"Percentile":   "",
		}
		if rank, ok := totalRanks[score.Field]; ok && rank.Position > 0 {
			row["Rank"] = fmt.Sprintf("%d", rank.Position)
			row["Participants"] = fmt.Sprintf("%d", rank.Participants)
			if pct := rank.Percentile(); pct != nil {
				row["Percentile"] = fmt.Sprintf("%.1f", *pct)
			}
		}
		dataRows = append(dataRows, row)
	}
	dataset := export.Dataset{
		Headers: []string{"Field", "Correct", "Points", "Rank", "Participants", "Percentile"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Score Report %s (%s)", student.Name, student.Serial)
	return dataset, title, nil
}

func (s *ExportService) buildStatisticsDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	exam, err := s.sources.Exams.FindByID(ctx, params.ExamID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	stats, err := s.sources.Statistics.ListByExam(ctx, exam.ID)
	if err != nil {
		return export.Dataset{}, "", err
	}

	dataRows := make([]map[string]string, 0, len(stats))
	for _, stat := range stats {
		dataRows = append(dataRows, map[string]string{
			"Cohort":       string(stat.CohortType),
			"Label":        stat.CohortLabel,
			"Field":        stat.Field,
			"Participants": fmt.Sprintf("%d", stat.Participants),
			"Max":          formatStatValue(stat.Max),
			"Top 10%":      formatStatValue(stat.Top10),
			"Top 25%":      formatStatValue(stat.Top25),
			"Top 50%":      formatStatValue(stat.Top50),
			"Average":      formatStatValue(stat.Average),
		})
	}
	dataset := export.Dataset{
		Headers: []string{"Cohort", "Label", "Field", "Participants", "Max", "Top 10%", "Top 25%", "Top 50%", "Average"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Statistics %s", exam.Label)
	return dataset, title, nil
}

func (s *ExportService) buildDistributionDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, string, error) {
	exam, err := s.sources.Exams.FindByID(ctx, params.ExamID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	problems, err := s.sources.Problems.ListByExam(ctx, exam.ID)
	if err != nil {
		return export.Dataset{}, "", err
	}
	ids := make([]string, 0, len(problems))
	for _, p := range problems {
		ids = append(ids, p.ID)
	}
	counts, err := s.sources.Distributions.ListByProblems(ctx, ids)
	if err != nil {
		return export.Dataset{}, "", err
	}

	sort.Slice(problems, func(i, j int) bool {
		if problems[i].SubjectCode != problems[j].SubjectCode {
			return problems[i].SubjectCode < problems[j].SubjectCode
		}
		return problems[i].Number < problems[j].Number
	})

	dataRows := make([]map[string]string, 0, len(problems)*len(models.AllRankBands))
	for _, problem := range problems {
		for _, count := range counts[problem.ID] {
			row := map[string]string{
				"Subject":   problem.SubjectCode,
				"Number":    fmt.Sprintf("%d", problem.Number),
				"Band":      string(count.Band),
				"Blank":     fmt.Sprintf("%d", count.Count0),
				"1":         fmt.Sprintf("%d", count.Count1),
				"2":         fmt.Sprintf("%d", count.Count2),
				"3":         fmt.Sprintf("%d", count.Count3),
				"4":         fmt.Sprintf("%d", count.Count4),
				"5":         fmt.Sprintf("%d", count.Count5),
				"Multiple":  fmt.Sprintf("%d", count.CountMultiple),
				"Total":     fmt.Sprintf("%d", count.CountTotal),
				"Predicted": "",
			}
			if predicted := count.PredictedAnswer(); predicted != nil {
				row["Predicted"] = fmt.Sprintf("%d", *predicted)
			}
			dataRows = append(dataRows, row)
		}
	}
	dataset := export.Dataset{
		Headers: []string{"Subject", "Number", "Band", "Blank", "1", "2", "3", "4", "5", "Multiple", "Total", "Predicted"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Answer Distribution %s", exam.Label)
	return dataset, title, nil
}

func formatStatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.1f", *v)
}
