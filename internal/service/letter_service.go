package service

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
	"github.com/noah-isme/campus-portal-api/pkg/export"
)

type letterStorage interface {
	Save(filename string, data []byte) (string, error)
	Read(filename string) ([]byte, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type letterSigner interface {
	Generate(resourceID, relPath string) (string, time.Time, error)
	Parse(token string) (resourceID, relPath string, expiresAt time.Time, err error)
}

type documentRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

// LetterConfig tunes letter rendering and links.
type LetterConfig struct {
	PublicBaseURL string
	APIPrefix     string
	Institution   string
	RetainFor     time.Duration
}

// Letter is a rendered PDF kept on disk and reachable by a signed link.
type Letter struct {
	Filename     string
	RelativePath string
	Bytes        []byte
	URL          string
	ExpiresAt    time.Time
}

// LetterService renders leave letters and marksheets and serves them back by token.
type LetterService struct {
	storage  letterStorage
	signer   letterSigner
	renderer documentRenderer
	cfg      LetterConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewLetterService constructs a LetterService.
func NewLetterService(storage letterStorage, signer letterSigner, renderer documentRenderer, cfg LetterConfig, logger *zap.Logger) *LetterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = export.NewPDFRenderer()
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = 7 * 24 * time.Hour
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &LetterService{storage: storage, signer: signer, renderer: renderer, cfg: cfg, logger: logger, now: time.Now}
}

// LeaveLetter renders the approval letter sent to a student's parent.
func (s *LetterService) LeaveLetter(req *models.LeaveRequest, approverName string) (*Letter, error) {
	student := req.Student
	period := "the requested dates"
	if req.FromDate != nil && req.ToDate != nil {
		period = fmt.Sprintf("%s to %s", req.FromDate.Format("02 Jan 2006"), req.ToDate.Format("02 Jan 2006"))
	}
	doc := export.Document{
		Letterhead: s.cfg.Institution,
		Title:      "Leave Approval",
		Reference:  "Ref: " + req.ID,
		Paragraphs: []string{
			"Dear Parent/Guardian,",
			fmt.Sprintf("This is to inform you that the leave requested by %s (%s), year %d section %s of the %s department, has been approved for %s.",
				student.Name, student.RegNumber, student.Year, student.Section, student.Department, period),
			"Reason given: " + req.Reason,
		},
		Signature: signatureLine(approverName, "Head of Department"),
	}
	return s.issue(req.ID, "leaves", "leave-"+req.ID+".pdf", doc)
}

// MarksheetLetter renders a marksheet with its subject table.
func (s *LetterService) MarksheetLetter(m *models.Marksheet, approverName string) (*Letter, error) {
	rows := make([][]string, 0, len(m.Subjects)+1)
	for _, subject := range m.Subjects {
		rows = append(rows, []string{subject.Code, subject.Name, formatMarks(subject.Marks), formatMarks(subject.MaxMarks), subject.Grade})
	}
	obtained, max := m.TotalMarks()
	rows = append(rows, []string{"", "Total", formatMarks(obtained), formatMarks(max), ""})

	doc := export.Document{
		Letterhead: s.cfg.Institution,
		Title:      fmt.Sprintf("%s - Semester %d", m.ExamName, m.Semester),
		Reference:  "Ref: " + m.ID,
		Paragraphs: []string{
			fmt.Sprintf("Student: %s (%s)", m.Student.Name, m.Student.RegNumber),
			fmt.Sprintf("Department: %s, Year %d, Section %s", m.Student.Department, m.Student.Year, m.Student.Section),
		},
		Table:     &export.Table{Headers: []string{"Code", "Subject", "Marks", "Max", "Grade"}, Rows: rows},
		Signature: signatureLine(approverName, "Head of Department"),
	}
	return s.issue(m.ID, "marksheets", "marksheet-"+m.ID+".pdf", doc)
}

func (s *LetterService) issue(resourceID, folder, filename string, doc export.Document) (*Letter, error) {
	data, err := s.renderer.Render(doc)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", filename, err)
	}
	relPath, err := s.storage.Save(path.Join(folder, filename), data)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.signer.Generate(resourceID, relPath)
	if err != nil {
		return nil, fmt.Errorf("sign letter link: %w", err)
	}
	return &Letter{
		Filename:     filename,
		RelativePath: relPath,
		Bytes:        data,
		URL:          s.downloadURL(token),
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *LetterService) downloadURL(token string) string {
	prefix := "/" + strings.Trim(s.cfg.APIPrefix, "/")
	return fmt.Sprintf("%s%s/letters/%s", strings.TrimRight(s.cfg.PublicBaseURL, "/"), prefix, token)
}

// Resolve validates a download token and returns the file name and content.
func (s *LetterService) Resolve(token string) (string, []byte, error) {
	_, relPath, _, err := s.signer.Parse(token)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "letter link is invalid or expired")
	}
	data, err := s.storage.Read(relPath)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "letter no longer available")
	}
	return path.Base(relPath), data, nil
}

// Cleanup removes letters older than the retention window.
func (s *LetterService) Cleanup() ([]string, error) {
	return s.storage.CleanupOlderThan(s.cfg.RetainFor)
}

// RunCleanup removes expired letters every interval until ctx is done.
func (s *LetterService) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Cleanup()
			if err != nil {
				s.logger.Warn("letter cleanup failed", zap.Error(err))
				continue
			}
			if len(deleted) > 0 {
				s.logger.Sugar().Infow("letters cleaned up", "count", len(deleted))
			}
		}
	}
}

func signatureLine(name, title string) string {
	if strings.TrimSpace(name) == "" {
		return title
	}
	return name + ", " + title
}

func formatMarks(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
