package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/annotator/internal/domain/annotation"
	"github.com/ehr/annotator/internal/platform/telemetry"
	"github.com/ehr/annotator/internal/platform/workspace"
)

// Seed provides the dataset a new workspace starts from. A nil or empty
// result starts the workspace with no cases.
type Seed interface {
	Bytes() []byte
}

// Recorder counts annotation workflow events.
type Recorder interface {
	AnnotationEvent(event string)
}

type nopRecorder struct{}

func (nopRecorder) AnnotationEvent(string) {}

// Summary is one row of the case list.
type Summary struct {
	ID            string `json:"id"`
	Index         int    `json:"index"`
	Verified      bool   `json:"verified"`
	AnnotatedByMe bool   `json:"annotated_by_me"`
}

// Position locates a case in the collection.
type Position struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Total int    `json:"total"`
}

// CaseView is everything needed to annotate one case.
type CaseView struct {
	Position
	PrevID        string                 `json:"prev_id,omitempty"`
	NextID        string                 `json:"next_id,omitempty"`
	Form          []annotation.FormField `json:"form"`
	AnnotatedByMe bool                   `json:"annotated_by_me"`
	UpdatedAt     string                 `json:"updated_at,omitempty"`
	Verified      bool                   `json:"verified"`
	VerifiedAt    string                 `json:"verified_at,omitempty"`
	VerifiedBy    string                 `json:"verified_by,omitempty"`
}

// SaveResult reports the outcome of saving a draft.
type SaveResult struct {
	Changed bool              `json:"changed"`
	Values  annotation.Values `json:"values"`
	NextID  string            `json:"next_id,omitempty"`
}

type Service struct {
	store         Store
	workspaces    *workspace.Resolver
	seed          Seed
	schema        *annotation.Schema
	suggestionKey string
	logger        zerolog.Logger
	recorder      Recorder
	now           func() time.Time
}

func NewService(
	store Store,
	workspaces *workspace.Resolver,
	seed Seed,
	schema *annotation.Schema,
	suggestionKey string,
	logger zerolog.Logger,
) *Service {
	return &Service{
		store:         store,
		workspaces:    workspaces,
		seed:          seed,
		schema:        schema,
		suggestionKey: suggestionKey,
		logger:        logger,
		recorder:      nopRecorder{},
		now:           time.Now,
	}
}

// WithRecorder makes the service report workflow events to r.
func (s *Service) WithRecorder(r Recorder) *Service {
	if r != nil {
		s.recorder = r
	}
	return s
}

// Schema returns the annotation field schema the service enforces.
func (s *Service) Schema() *annotation.Schema {
	return s.schema
}

// Init makes sure user's workspace exists, creating it from the seed
// dataset if needed, and returns the working file path.
func (s *Service) Init(ctx context.Context, user string) (string, error) {
	path, err := s.workspaces.WorkingFile(user)
	if err != nil {
		return "", err
	}
	exists, err := s.store.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("stat workspace: %w", err)
	}
	if exists {
		return path, nil
	}

	col := NewCollection()
	if s.seed != nil {
		if data := s.seed.Bytes(); len(data) > 0 {
			if col, err = Parse(data); err != nil {
				return "", fmt.Errorf("seed dataset: %w", err)
			}
		}
	}
	if err := s.store.Save(ctx, path, col); err != nil {
		return "", err
	}
	s.logger.Info().
		Str("workspace", workspace.UserID(user)).
		Int("cases", col.Len()).
		Msg("workspace initialized")
	s.recorder.AnnotationEvent(telemetry.EventWorkspaceInitialized)
	return path, nil
}

func (s *Service) open(ctx context.Context, user string) (string, *Collection, error) {
	path, err := s.Init(ctx, user)
	if err != nil {
		return "", nil, err
	}
	col, err := s.store.Load(ctx, path)
	if err != nil {
		return "", nil, err
	}
	return path, col, nil
}

// List returns a page of case summaries in document order and the total
// number of cases.
func (s *Service) List(ctx context.Context, user string, limit, offset int) ([]Summary, int, error) {
	_, col, err := s.open(ctx, user)
	if err != nil {
		return nil, 0, err
	}

	total := col.Len()
	items := []Summary{}
	for i := offset; i < total && len(items) < limit; i++ {
		c := col.At(i)
		items = append(items, Summary{
			ID:            c.ID,
			Index:         i,
			Verified:      c.Verified(),
			AnnotatedByMe: c.Annotation.AnnotatedBy(user),
		})
	}
	return items, total, nil
}

// NextUnverified returns the first case nobody has annotated, or the first
// case when all are done.
func (s *Service) NextUnverified(ctx context.Context, user string) (Position, error) {
	_, col, err := s.open(ctx, user)
	if err != nil {
		return Position{}, err
	}
	if col.Len() == 0 {
		return Position{}, ErrCaseNotFound
	}
	i := col.FirstUnverified()
	return Position{ID: col.At(i).ID, Index: i, Total: col.Len()}, nil
}

// Get builds the annotation view of a case. The form starts from the
// user's saved values, or from the model suggestion when the user has not
// saved yet, with the dependency rules applied.
func (s *Service) Get(ctx context.Context, user, caseID string) (*CaseView, error) {
	_, col, err := s.open(ctx, user)
	if err != nil {
		return nil, err
	}
	c, ok := col.Get(caseID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}

	i := col.Index(caseID)
	view := &CaseView{
		Position: Position{ID: caseID, Index: i, Total: col.Len()},
		Verified: c.Verified(),
	}
	if i > 0 {
		view.PrevID = col.At(i - 1).ID
	}
	if i+1 < col.Len() {
		view.NextID = col.At(i + 1).ID
	}
	if c.Annotation != nil {
		view.VerifiedAt = c.Annotation.VerifiedAt
		view.VerifiedBy = c.Annotation.VerifiedBy
	}

	suggested := c.Suggestion(s.suggestionKey)
	current := suggested
	if entry, ok := c.Annotation.Entry(user); ok {
		current = entry.Data
		view.AnnotatedByMe = true
		view.UpdatedAt = entry.UpdatedAt
	}
	view.Form = s.schema.Form(current, suggested)
	return view, nil
}

// Save enforces the dependency rules on a draft, reconciles it into the
// case's annotation and persists the workspace when anything changed. The
// load-modify-save cycle is not guarded against concurrent saves by the
// same user.
func (s *Service) Save(ctx context.Context, user string, d annotation.Draft) (*SaveResult, error) {
	path, col, err := s.open(ctx, user)
	if err != nil {
		return nil, err
	}
	c, ok := col.Get(d.CaseID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, d.CaseID)
	}

	values := s.schema.Enforce(d.Values)
	if c.Annotation == nil {
		c.Annotation = &annotation.Record{}
	}
	changed := c.Annotation.Reconcile(user, values, s.now())
	if changed {
		if err := s.store.Save(ctx, path, col); err != nil {
			return nil, err
		}
		s.logger.Info().
			Str("workspace", workspace.UserID(user)).
			Str("case_id", d.CaseID).
			Msg("annotation saved")
		s.recorder.AnnotationEvent(telemetry.EventAnnotationSaved)
	} else {
		s.recorder.AnnotationEvent(telemetry.EventAnnotationUnchanged)
	}

	res := &SaveResult{Changed: changed, Values: values}
	if d.Advance {
		if i := col.Index(d.CaseID); i+1 < col.Len() {
			res.NextID = col.At(i + 1).ID
		}
	}
	return res, nil
}

// Reports returns the case's reports grouped by modality. When
// firstMetaDate is empty the user's current First_meta_DATE value is used
// to mark the report that first showed metastasis.
func (s *Service) Reports(ctx context.Context, user, caseID, firstMetaDate string) ([]ReportGroup, error) {
	_, col, err := s.open(ctx, user)
	if err != nil {
		return nil, err
	}
	c, ok := col.Get(caseID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, caseID)
	}

	if firstMetaDate == "" {
		current := c.Suggestion(s.suggestionKey)
		if entry, ok := c.Annotation.Entry(user); ok {
			current = entry.Data
		}
		values := s.schema.Enforce(current)
		for _, f := range s.schema.Fields() {
			if f.Kind == annotation.KindText && f.GovernedBy == s.schema.Root() {
				firstMetaDate, _ = values[f.Name].(string)
				break
			}
		}
	}
	return GroupReports(c.Reports, firstMetaDate), nil
}

// Upload replaces user's working file with data. Data that does not parse
// as a case collection is rejected and the working file is left alone.
func (s *Service) Upload(ctx context.Context, user string, data []byte) (int, error) {
	col, err := Parse(data)
	if err != nil {
		return 0, err
	}
	path, err := s.workspaces.WorkingFile(user)
	if err != nil {
		return 0, err
	}
	if err := s.store.Save(ctx, path, col); err != nil {
		return 0, err
	}
	s.logger.Info().
		Str("workspace", workspace.UserID(user)).
		Int("cases", col.Len()).
		Msg("workspace uploaded")
	s.recorder.AnnotationEvent(telemetry.EventWorkspaceUploaded)
	return col.Len(), nil
}

// Download returns the working file exactly as stored.
func (s *Service) Download(ctx context.Context, user string) ([]byte, error) {
	path, err := s.Init(ctx, user)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	s.recorder.AnnotationEvent(telemetry.EventWorkspaceDownloaded)
	return data, nil
}
