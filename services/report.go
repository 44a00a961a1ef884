package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"rental-crawler/models"
	"rental-crawler/utils"
)

// ReportService summarizes runs and the stored market for the CLI.
type ReportService struct {
	logger *utils.Logger
}

func NewReportService(logger *utils.Logger) *ReportService {
	return &ReportService{logger: logger}
}

// Generate computes market figures over active listings. Rent is the warm
// rent where known, else the cold rent.
func (s *ReportService) Generate(listings []models.ListingRecord) *models.MarketReport {
	report := &models.MarketReport{ByDistrict: make(map[string]int)}
	report.TotalListings = len(listings)

	var (
		priced        []models.ListingRecord
		total, perSqm float64
		perSqmCount   int
	)
	for _, l := range listings {
		if !l.IsActive {
			continue
		}
		report.ActiveListings++
		if len(l.Images) > 0 {
			report.WithImages++
		}
		if l.NeedsRecrawl {
			report.NeedsRecrawl++
		}
		if l.District != "" {
			report.ByDistrict[l.District]++
		}
		rent := rentOf(l)
		if rent == nil {
			continue
		}
		priced = append(priced, l)
		total += *rent
		if l.SizeSqm != nil && *l.SizeSqm > 0 {
			perSqm += *rent / *l.SizeSqm
			perSqmCount++
		}
	}
	s.logger.Debug("[report] %d listings, %d active, %d with rent", report.TotalListings, report.ActiveListings, len(priced))
	if len(priced) == 0 {
		return report
	}

	sort.SliceStable(priced, func(i, j int) bool {
		return *rentOf(priced[i]) < *rentOf(priced[j])
	})
	report.MinRent = round2(*rentOf(priced[0]))
	report.MaxRent = round2(*rentOf(priced[len(priced)-1]))
	report.AverageRent = round2(total / float64(len(priced)))
	if perSqmCount > 0 {
		report.AveragePerSqm = round2(perSqm / float64(perSqmCount))
	}
	most := priced[len(priced)-1]
	report.MostExpensive = &most
	if len(priced) > 5 {
		report.Cheapest = priced[:5]
	} else {
		report.Cheapest = priced
	}
	return report
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

// PrintSummary renders a run summary and its isolated errors.
func (s *ReportService) PrintSummary(w io.Writer, r *models.RunSummary) {
	t := newTable(w, "Run "+r.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Search", r.Search},
		{"Duration", r.FinishedAt.Sub(r.StartedAt).Round(1e6).String()},
		{"Pages fetched", r.PagesFetched},
		{"Found", r.Found},
		{"Saved", r.Saved},
		{"Created / updated / unchanged", fmt.Sprintf("%d / %d / %d", r.Created, r.Updated, r.Unchanged)},
		{"Partial", r.Partial},
		{"Failed", r.Failed},
		{"Gone / skipped", fmt.Sprintf("%d / %d", r.Gone, r.Skipped)},
		{"Matches created", r.MatchesCreated},
		{"Logged in", r.LoginOK},
		{"Blocked", r.Blocked},
		{"Structure changed", r.StructureBroken},
	})
	t.Render()

	if len(r.Errors) == 0 {
		return
	}
	e := newTable(w, "Errors")
	e.AppendHeader(table.Row{"Kind", "URL", "Message"})
	for _, re := range r.Errors {
		e.AppendRow(table.Row{re.Kind, truncate(re.URL, 60), truncate(re.Message, 80)})
	}
	e.Render()
}

// PrintMarket renders a market report.
func (s *ReportService) PrintMarket(w io.Writer, r *models.MarketReport) {
	t := newTable(w, "Market")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Listings (active)", fmt.Sprintf("%d (%d)", r.TotalListings, r.ActiveListings)},
		{"With images", r.WithImages},
		{"Needs recrawl", r.NeedsRecrawl},
	})
	if r.AverageRent > 0 {
		t.AppendRows([]table.Row{
			{"Average rent", fmt.Sprintf("%.2f €", r.AverageRent)},
			{"Rent range", fmt.Sprintf("%.2f - %.2f €", r.MinRent, r.MaxRent)},
			{"Average per m²", fmt.Sprintf("%.2f €", r.AveragePerSqm)},
		})
	}
	t.Render()

	if len(r.Cheapest) > 0 {
		c := newTable(w, "Cheapest")
		c.AppendHeader(table.Row{"#", "Title", "District", "Rent"})
		for i, l := range r.Cheapest {
			c.AppendRow(table.Row{i + 1, truncate(l.Title, 40), l.District, fmt.Sprintf("%.0f €", *rentOf(l))})
		}
		c.Render()
	}

	if len(r.ByDistrict) > 0 {
		type districtCount struct {
			name  string
			count int
		}
		var counts []districtCount
		for d, n := range r.ByDistrict {
			counts = append(counts, districtCount{d, n})
		}
		sort.Slice(counts, func(i, j int) bool {
			if counts[i].count != counts[j].count {
				return counts[i].count > counts[j].count
			}
			return counts[i].name < counts[j].name
		})
		d := newTable(w, "Listings by district")
		d.AppendHeader(table.Row{"District", "Listings", ""})
		for _, dc := range counts {
			d.AppendRow(table.Row{dc.name, dc.count, strings.Repeat("█", dc.count)})
		}
		d.Render()
	}
}

// PrintMatches renders a user's matches with the listing they point to.
func (s *ReportService) PrintMatches(w io.Writer, userID string, matches []models.MatchRecord, listings map[int64]models.ListingRecord) {
	t := newTable(w, "Matches for "+userID)
	t.AppendHeader(table.Row{"Score", "Title", "District", "Rent", "Matched"})
	for _, m := range matches {
		l := listings[m.ListingID]
		rent := ""
		if r := rentOf(l); r != nil {
			rent = fmt.Sprintf("%.0f €", *r)
		}
		t.AppendRow(table.Row{m.MatchScore, truncate(l.Title, 40), l.District, rent, m.MatchedAt.Format("2006-01-02 15:04")})
	}
	t.Render()
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
