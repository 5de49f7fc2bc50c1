package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/kitwatch/notifier/internal/domain/inventory"
)

// ReportPeriod is how far ahead the report looks for expiring materials.
const ReportPeriod = 30 * 24 * time.Hour

// Report is a rendered inventory report ready to be mailed.
type Report struct {
	Subject   string
	HTML      string
	Text      string
	DueCount  int
	ZeroCount int
}

// ReportService renders the monthly inventory report from the materials
// store.
type ReportService struct {
	inventory inventory.Repository
	md        goldmark.Markdown
	policy    *bluemonday.Policy
	logger    zerolog.Logger
}

func NewReportService(repo inventory.Repository, logger zerolog.Logger) *ReportService {
	return &ReportService{
		inventory: repo,
		md:        goldmark.New(goldmark.WithExtensions(extension.Table)),
		policy:    bluemonday.UGCPolicy(),
		logger:    logger.With().Str("component", "report_service").Logger(),
	}
}

// BuildReport lists materials expiring in [day of now, +30 days) and
// materials that are out of stock. The period starts at midnight in now's
// location.
func (s *ReportService) BuildReport(ctx context.Context, now time.Time) (*Report, error) {
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	to := from.Add(ReportPeriod)

	due, err := s.inventory.DueForPeriod(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load expiring materials: %w", err)
	}
	zero, err := s.inventory.ZeroStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("load zero stock materials: %w", err)
	}

	source := renderMarkdown(now, from, to, due, zero)

	var buf bytes.Buffer
	if err := s.md.Convert([]byte(source), &buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	s.logger.Debug().
		Int("due", len(due)).
		Int("zero_stock", len(zero)).
		Msg("Report built")

	return &Report{
		Subject:   fmt.Sprintf("First-aid kit report %s", now.Format("January 2006")),
		HTML:      s.policy.Sanitize(buf.String()),
		Text:      source,
		DueCount:  len(due),
		ZeroCount: len(zero),
	}, nil
}

func renderMarkdown(now, from, to time.Time, due, zero []*inventory.Item) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# First-aid kit report %s\n\n", now.Format("January 2006"))
	fmt.Fprintf(&b, "Period %s to %s.\n\n", from.Format("2006-01-02"), to.AddDate(0, 0, -1).Format("2006-01-02"))

	fmt.Fprintf(&b, "## Expiring soon (%d)\n\n", len(due))
	if len(due) == 0 {
		b.WriteString("No materials expire in this period.\n\n")
	} else {
		b.WriteString("| Material | Kit | Location | Quantity | Expires |\n")
		b.WriteString("|---|---|---|---:|---|\n")
		for _, it := range due {
			expires := "-"
			if it.ExpiresAt != nil {
				expires = it.ExpiresAt.Format("2006-01-02")
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %s |\n",
				cell(it.Name), cell(it.Kit), cell(it.Location), it.Quantity, expires)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Out of stock (%d)\n\n", len(zero))
	if len(zero) == 0 {
		b.WriteString("All materials are in stock.\n")
	} else {
		b.WriteString("| Material | Kit | Location | Minimum |\n")
		b.WriteString("|---|---|---|---:|\n")
		for _, it := range zero {
			fmt.Fprintf(&b, "| %s | %s | %s | %d |\n",
				cell(it.Name), cell(it.Kit), cell(it.Location), it.MinQuantity)
		}
	}

	return b.String()
}

var cellReplacer = strings.NewReplacer("|", `\|`, "\n", " ", "\r", " ")

func cell(s string) string {
	s = strings.TrimSpace(cellReplacer.Replace(s))
	if s == "" {
		return "-"
	}
	return s
}
