package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/noah-isme/prime-exam-api/internal/models"
	"github.com/noah-isme/prime-exam-api/internal/repository"
)

// memStore is the shared in-memory backing for the engine mocks. One store is
// built per test; the mock types below expose the narrow repository
// interfaces the services consume.
type memStore struct {
	exams     map[string]*models.ExamInstance
	problems  map[string]*models.Problem
	students  map[string]*models.Student
	answers   map[string]map[string]int
	confirmed map[string]map[string]bool
	scores    map[string]map[string]models.Score
	ranks     map[string]map[string]models.Rank
	stats     map[string]models.CohortStatistics
	counts    map[string]map[models.RankBand]*models.AnswerCount
}

func newMemStore() *memStore {
	return &memStore{
		exams:     make(map[string]*models.ExamInstance),
		problems:  make(map[string]*models.Problem),
		students:  make(map[string]*models.Student),
		answers:   make(map[string]map[string]int),
		confirmed: make(map[string]map[string]bool),
		scores:    make(map[string]map[string]models.Score),
		ranks:     make(map[string]map[string]models.Rank),
		stats:     make(map[string]models.CohortStatistics),
		counts:    make(map[string]map[models.RankBand]*models.AnswerCount),
	}
}

func (m *memStore) addStudent(student models.Student) *models.Student {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	clone := student
	m.students[clone.ID] = &clone
	return &clone
}

func (m *memStore) addProblem(examID, subjectCode string, number int, answers ...int) *models.Problem {
	problem := &models.Problem{
		ID:          uuid.NewString(),
		ExamID:      examID,
		SubjectCode: subjectCode,
		Number:      number,
	}
	for _, a := range answers {
		problem.OfficialAnswers = append(problem.OfficialAnswers, int64(a))
	}
	m.problems[problem.ID] = problem
	return problem
}

func (m *memStore) setAnswer(studentID, problemID string, chosen int) {
	if m.answers[studentID] == nil {
		m.answers[studentID] = make(map[string]int)
	}
	m.answers[studentID][problemID] = chosen
}

func (m *memStore) confirm(studentID, subjectCode string) {
	if m.confirmed[studentID] == nil {
		m.confirmed[studentID] = make(map[string]bool)
	}
	m.confirmed[studentID][subjectCode] = true
}

func (m *memStore) scoreFor(studentID, field string) (models.Score, bool) {
	row, ok := m.scores[studentID][field]
	return row, ok
}

func (m *memStore) rankFor(studentID string, cohortType models.CohortType, field string) (models.Rank, bool) {
	row, ok := m.ranks[studentID][string(cohortType)+"|"+field]
	return row, ok
}

func (m *memStore) statFor(examID string, cohortType models.CohortType, label, field string) (models.CohortStatistics, bool) {
	row, ok := m.stats[statKey(examID, cohortType, label, field)]
	return row, ok
}

func (m *memStore) countFor(problemID string, band models.RankBand) models.AnswerCount {
	if row, ok := m.counts[problemID][band]; ok {
		return *row
	}
	return models.AnswerCount{ProblemID: problemID, Band: band}
}

func statKey(examID string, cohortType models.CohortType, label, field string) string {
	return fmt.Sprintf("%s|%s|%s|%s", examID, cohortType, label, field)
}

type mockProblems struct{ store *memStore }

func (m *mockProblems) FindByID(ctx context.Context, id string) (*models.Problem, error) {
	if problem, ok := m.store.problems[id]; ok {
		return problem, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockProblems) ListBySubject(ctx context.Context, examID, subjectCode string) ([]models.Problem, error) {
	var result []models.Problem
	for _, problem := range m.store.problems {
		if problem.ExamID == examID && problem.SubjectCode == subjectCode {
			result = append(result, *problem)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

func (m *mockProblems) ListByExam(ctx context.Context, examID string) ([]models.Problem, error) {
	var result []models.Problem
	for _, problem := range m.store.problems {
		if problem.ExamID == examID {
			result = append(result, *problem)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].SubjectCode != result[j].SubjectCode {
			return result[i].SubjectCode < result[j].SubjectCode
		}
		return result[i].Number < result[j].Number
	})
	return result, nil
}

func (m *mockProblems) BulkCreate(ctx context.Context, problems []models.Problem) error {
	for i := range problems {
		problem := problems[i]
		if problem.ID == "" {
			problem.ID = uuid.NewString()
		}
		m.store.problems[problem.ID] = &problem
	}
	return nil
}

func (m *mockProblems) UpsertOfficialAnswer(ctx context.Context, examID, subjectCode string, number int, answers []int) (repository.Outcome, error) {
	for _, problem := range m.store.problems {
		if problem.ExamID != examID || problem.SubjectCode != subjectCode || problem.Number != number {
			continue
		}
		stored := problem.AcceptedAnswers()
		if intSliceEqual(stored, answers) {
			return repository.OutcomeUnchanged, nil
		}
		problem.OfficialAnswers = nil
		for _, a := range answers {
			problem.OfficialAnswers = append(problem.OfficialAnswers, int64(a))
		}
		if len(stored) == 0 {
			return repository.OutcomeCreated, nil
		}
		return repository.OutcomeUpdated, nil
	}
	return repository.OutcomeUnchanged, sql.ErrNoRows
}

func intSliceEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type mockAnswers struct{ store *memStore }

func (m *mockAnswers) Upsert(ctx context.Context, answer *models.Answer) error {
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	m.store.setAnswer(answer.StudentID, answer.ProblemID, answer.Chosen)
	return nil
}

func (m *mockAnswers) ListBySubject(ctx context.Context, studentID, examID, subjectCode string) ([]models.SubjectAnswer, error) {
	var result []models.SubjectAnswer
	for problemID, chosen := range m.store.answers[studentID] {
		problem, ok := m.store.problems[problemID]
		if !ok || problem.ExamID != examID || problem.SubjectCode != subjectCode {
			continue
		}
		result = append(result, models.SubjectAnswer{ProblemID: problemID, ProblemNumber: problem.Number, Chosen: chosen})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProblemNumber < result[j].ProblemNumber })
	return result, nil
}

func (m *mockAnswers) Confirm(ctx context.Context, studentID, subjectCode string) error {
	m.store.confirm(studentID, subjectCode)
	return nil
}

func (m *mockAnswers) IsConfirmed(ctx context.Context, studentID, subjectCode string) (bool, error) {
	return m.store.confirmed[studentID][subjectCode], nil
}

func (m *mockAnswers) ConfirmedSubjects(ctx context.Context, studentID string) ([]string, error) {
	var result []string
	for code := range m.store.confirmed[studentID] {
		result = append(result, code)
	}
	sort.Strings(result)
	return result, nil
}

func (m *mockAnswers) ChosenByProblem(ctx context.Context, problemID string) (map[string]int, error) {
	problem, ok := m.store.problems[problemID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	result := make(map[string]int)
	for studentID, byProblem := range m.store.answers {
		chosen, ok := byProblem[problemID]
		if !ok || !m.store.confirmed[studentID][problem.SubjectCode] {
			continue
		}
		result[studentID] = chosen
	}
	return result, nil
}

type mockStudents struct{ store *memStore }

func (m *mockStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if student, ok := m.store.students[id]; ok {
		return student, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudents) FindBySerial(ctx context.Context, examID, serial string) (*models.Student, error) {
	for _, student := range m.store.students {
		if student.ExamID == examID && student.Serial == serial {
			return student, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudents) ListByExam(ctx context.Context, examID string) ([]models.Student, error) {
	var result []models.Student
	for _, student := range m.store.students {
		if student.ExamID == examID {
			result = append(result, *student)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Serial < result[j].Serial })
	return result, nil
}

type mockScores struct{ store *memStore }

func (m *mockScores) UpsertBatch(ctx context.Context, scores []models.Score) (repository.Outcome, error) {
	outcome := repository.OutcomeUnchanged
	for _, score := range scores {
		byField := m.store.scores[score.StudentID]
		if byField == nil {
			byField = make(map[string]models.Score)
			m.store.scores[score.StudentID] = byField
		}
		stored, exists := byField[score.Field]
		if exists && stored.CorrectCount == score.CorrectCount && stored.Points == score.Points {
			continue
		}
		byField[score.Field] = score
		if exists {
			outcome = outcome.Merge(repository.OutcomeUpdated)
		} else {
			outcome = outcome.Merge(repository.OutcomeCreated)
		}
	}
	return outcome, nil
}

func (m *mockScores) ListByStudent(ctx context.Context, studentID string) ([]models.Score, error) {
	var result []models.Score
	for _, score := range m.store.scores[studentID] {
		result = append(result, score)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Field < result[j].Field })
	return result, nil
}

func (m *mockScores) FieldScores(ctx context.Context, examID, field string, studentIDs []string) ([]repository.StudentFieldScore, error) {
	allowed := map[string]bool{}
	for _, id := range studentIDs {
		allowed[id] = true
	}
	var result []repository.StudentFieldScore
	for studentID, byField := range m.store.scores {
		if len(studentIDs) > 0 && !allowed[studentID] {
			continue
		}
		score, ok := byField[field]
		if !ok || score.ExamID != examID {
			continue
		}
		result = append(result, repository.StudentFieldScore{StudentID: studentID, Points: score.Points})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StudentID < result[j].StudentID })
	return result, nil
}

type mockRanks struct{ store *memStore }

func (m *mockRanks) UpsertBatch(ctx context.Context, ranks []models.Rank) (repository.Outcome, error) {
	outcome := repository.OutcomeUnchanged
	for _, rank := range ranks {
		byKey := m.store.ranks[rank.StudentID]
		if byKey == nil {
			byKey = make(map[string]models.Rank)
			m.store.ranks[rank.StudentID] = byKey
		}
		key := string(rank.CohortType) + "|" + rank.Field
		stored, exists := byKey[key]
		if exists && stored.Position == rank.Position && stored.Participants == rank.Participants {
			continue
		}
		byKey[key] = rank
		if exists {
			outcome = outcome.Merge(repository.OutcomeUpdated)
		} else {
			outcome = outcome.Merge(repository.OutcomeCreated)
		}
	}
	return outcome, nil
}

func (m *mockRanks) ListByStudent(ctx context.Context, studentID string) ([]models.Rank, error) {
	var result []models.Rank
	for _, rank := range m.store.ranks[studentID] {
		result = append(result, rank)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CohortType != result[j].CohortType {
			return result[i].CohortType < result[j].CohortType
		}
		return result[i].Field < result[j].Field
	})
	return result, nil
}

func (m *mockRanks) FindForStudent(ctx context.Context, studentID string, cohortType models.CohortType, field string) (*models.Rank, error) {
	if rank, ok := m.store.ranks[studentID][string(cohortType)+"|"+field]; ok {
		return &rank, nil
	}
	return nil, sql.ErrNoRows
}

type mockStats struct{ store *memStore }

func (m *mockStats) UpsertBatch(ctx context.Context, stats []models.CohortStatistics) (repository.Outcome, error) {
	outcome := repository.OutcomeUnchanged
	for _, stat := range stats {
		key := statKey(stat.ExamID, stat.CohortType, stat.CohortLabel, stat.Field)
		stored, exists := m.store.stats[key]
		if exists && statRowEqual(stored, stat) {
			continue
		}
		m.store.stats[key] = stat
		if exists {
			outcome = outcome.Merge(repository.OutcomeUpdated)
		} else {
			outcome = outcome.Merge(repository.OutcomeCreated)
		}
	}
	return outcome, nil
}

func statRowEqual(a, b models.CohortStatistics) bool {
	if a.Participants != b.Participants {
		return false
	}
	pairs := [][2]*float64{
		{a.Max, b.Max}, {a.Top10, b.Top10}, {a.Top20, b.Top20},
		{a.Top25, b.Top25}, {a.Top50, b.Top50}, {a.Average, b.Average},
	}
	for _, pair := range pairs {
		if (pair[0] == nil) != (pair[1] == nil) {
			return false
		}
		if pair[0] != nil && *pair[0] != *pair[1] {
			return false
		}
	}
	return true
}

func (m *mockStats) IncrementParticipants(ctx context.Context, examID string, cohortType models.CohortType, label, field string) error {
	key := statKey(examID, cohortType, label, field)
	stored, ok := m.store.stats[key]
	if !ok {
		// Missing rows wait for the next batch refresh.
		return nil
	}
	stored.Participants++
	m.store.stats[key] = stored
	return nil
}

func (m *mockStats) ListByExam(ctx context.Context, examID string) ([]models.CohortStatistics, error) {
	var result []models.CohortStatistics
	for _, stat := range m.store.stats {
		if stat.ExamID == examID {
			result = append(result, stat)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return statKey(result[i].ExamID, result[i].CohortType, result[i].CohortLabel, result[i].Field) <
			statKey(result[j].ExamID, result[j].CohortType, result[j].CohortLabel, result[j].Field)
	})
	return result, nil
}

type mockCounts struct{ store *memStore }

func (m *mockCounts) Increment(ctx context.Context, problemID string, band models.RankBand, choice int) error {
	byBand := m.store.counts[problemID]
	if byBand == nil {
		byBand = make(map[models.RankBand]*models.AnswerCount)
		m.store.counts[problemID] = byBand
	}
	row, ok := byBand[band]
	if !ok {
		row = &models.AnswerCount{ProblemID: problemID, Band: band}
		byBand[band] = row
	}
	row.Record(choice)
	return nil
}

func (m *mockCounts) ReplaceForProblem(ctx context.Context, problemID string, counts []models.AnswerCount) error {
	byBand := make(map[models.RankBand]*models.AnswerCount, len(counts))
	for i := range counts {
		row := counts[i]
		byBand[row.Band] = &row
	}
	m.store.counts[problemID] = byBand
	return nil
}

func (m *mockCounts) ListByProblem(ctx context.Context, problemID string) ([]models.AnswerCount, error) {
	var result []models.AnswerCount
	for _, row := range m.store.counts[problemID] {
		result = append(result, *row)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Band < result[j].Band })
	return result, nil
}

type mockExams struct{ store *memStore }

func (m *mockExams) Create(ctx context.Context, exam *models.ExamInstance) error {
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	clone := *exam
	m.store.exams[clone.ID] = &clone
	return nil
}

func (m *mockExams) FindByID(ctx context.Context, id string) (*models.ExamInstance, error) {
	if exam, ok := m.store.exams[id]; ok {
		return exam, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockExams) List(ctx context.Context, filter models.ExamFilter) ([]models.ExamInstance, int, error) {
	var result []models.ExamInstance
	for _, exam := range m.store.exams {
		if filter.Year != 0 && exam.Year != filter.Year {
			continue
		}
		if filter.ExamType != "" && string(exam.ExamType) != filter.ExamType {
			continue
		}
		result = append(result, *exam)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Label < result[j].Label })
	return result, len(result), nil
}

func (m *mockExams) SetAnswersPublished(ctx context.Context, id string, published bool) error {
	exam, ok := m.store.exams[id]
	if !ok {
		return sql.ErrNoRows
	}
	exam.AnswersPublished = published
	return nil
}

func (m *mockExams) SetPredictionOpen(ctx context.Context, id string, open bool) error {
	exam, ok := m.store.exams[id]
	if !ok {
		return sql.ErrNoRows
	}
	exam.PredictionOpen = open
	return nil
}

// engineHarness wires real engine services over one shared in-memory store.
type engineHarness struct {
	store        *memStore
	problems     *mockProblems
	answers      *mockAnswers
	students     *mockStudents
	scores       *mockScores
	ranks        *mockRanks
	stats        *mockStats
	counts       *mockCounts
	exams        *mockExams
	scoring      *ScoringService
	ranking      *RankService
	statistics   *StatisticsService
	distribution *DistributionService
}

func newEngineHarness() *engineHarness {
	store := newMemStore()
	h := &engineHarness{
		store:    store,
		problems: &mockProblems{store: store},
		answers:  &mockAnswers{store: store},
		students: &mockStudents{store: store},
		scores:   &mockScores{store: store},
		ranks:    &mockRanks{store: store},
		stats:    &mockStats{store: store},
		counts:   &mockCounts{store: store},
		exams:    &mockExams{store: store},
	}
	h.scoring = NewScoringService(h.problems, h.answers, h.scores, nil)
	h.ranking = NewRankService(h.scores, h.students, h.ranks, nil)
	h.statistics = NewStatisticsService(h.scores, h.students, h.stats, nil)
	h.distribution = NewDistributionService(h.counts, h.answers, h.problems, h.ranking, nil)
	return h
}

type staticProfile struct{ profile models.ExamProfile }

func (p staticProfile) Profile(ctx context.Context, examID string) (models.ExamProfile, error) {
	return p.profile, nil
}

// twoProblemProfile is the layout most engine tests share: one aggregated
// subject with two problems and nothing excluded.
func twoProblemProfile(examID string) models.ExamProfile {
	return models.ExamProfile{
		ExamID: examID,
		Subjects: []models.SubjectSpec{
			{Code: "language", Name: "Language", ProblemCount: 2},
		},
		PercentileCuts: []int{10, 25, 50},
		TopBandPercent: 27,
		MidBandPercent: 73,
	}
}
