package cases

import (
	"github.com/ehr/annotator/internal/platform/dates"
	"github.com/ehr/annotator/internal/platform/hipaa"
)

// ReportView is one report prepared for display.
type ReportView struct {
	Date      string `json:"date"`
	Content   string `json:"content"`
	Empty     bool   `json:"empty"`
	FirstMeta bool   `json:"first_meta"`
}

// ReportGroup holds the reports of one modality tab. Empty is set when the
// tab has no reports or none of them has displayable content.
type ReportGroup struct {
	Modality Modality     `json:"modality"`
	Reports  []ReportView `json:"reports"`
	Empty    bool         `json:"empty"`
}

// GroupReports de-identifies reports and groups them by modality tab in
// display order. A report is flagged FirstMeta when its date and
// firstMetaDate both normalize to the same calendar date. Reports of
// unrecognized modalities are not shown.
func GroupReports(reports []Report, firstMetaDate string) []ReportGroup {
	byModality := make(map[Modality][]Report)
	for _, r := range reports {
		m, ok := ParseModality(r.Modality)
		if !ok {
			continue
		}
		byModality[m] = append(byModality[m], r)
	}

	groups := make([]ReportGroup, 0, len(Modalities))
	for _, m := range Modalities {
		g := ReportGroup{Modality: m, Reports: []ReportView{}, Empty: true}
		for _, r := range byModality[m] {
			content := hipaa.CompactText(hipaa.Deidentify(r.Finding, string(m)))
			view := ReportView{
				Date:      r.ReportDate(),
				Content:   content,
				Empty:     content == "",
				FirstMeta: dates.Equal(r.ReportDate(), firstMetaDate),
			}
			if view.Empty {
				view.Content = hipaa.EmptyPlaceholder
			} else {
				g.Empty = false
			}
			g.Reports = append(g.Reports, view)
		}
		groups = append(groups, g)
	}
	return groups
}
