// Package hipaa holds the report de-identification layer.
//
// De-identification here is advisory. It strips the header and sign-off
// boilerplate that radiology systems wrap around a finding (physician names,
// memo blocks, record numbers, patient labels) using fixed patterns. Pattern
// matching on narrative text cannot guarantee that every identifier is gone,
// so the output must not be treated as Safe Harbor de-identified data.
package hipaa

import (
	"regexp"
	"strings"
)

// EmptyPlaceholder is shown in place of a report whose content did not
// survive de-identification.
const EmptyPlaceholder = "no displayable content after de-identification"

// ws matches the Unicode spacing that shows up in these reports, including
// the full-width space U+3000, which \s alone does not cover.
const ws = `[\s\v\p{Z}]`

const (
	purposeHeader   = "＜檢查目的及病程摘要＞"
	contentMarker   = "＜報告內容＞"
	attendingMarker = "主治醫師："
)

var (
	// CT / MRI
	beforePurpose   = regexp.MustCompile(`(?s)^.*?` + purposeHeader)
	sectionedBody   = regexp.MustCompile(`(?s)` + contentMarker + `.*?收件號：` + ws + `?\p{Nd}*(.*?)` + attendingMarker)
	summarySection  = regexp.MustCompile(`(?s)＜摘要＞.*`)
	reportSignature = regexp.MustCompile(`.*(報告.*醫師|住院醫師).*`)

	// Bone scan and other modalities
	reportLead      = regexp.MustCompile(`(?ims)^` + ws + `*Report` + ws + `*:` + ws + `*(.*)`)
	readerMarker    = regexp.MustCompile(`判讀醫師|報告醫師|主治醫師|Reading` + ws + `+Physician|Interpreting` + ws + `+Physician`)
	memoLead        = regexp.MustCompile(`(?i)\bMemo` + ws + `*:` + ws + `*`)
	blankLine       = regexp.MustCompile(`\n` + ws + `*\n`)
	preparerLine    = regexp.MustCompile(`(?i).*(Injection` + ws + `+by|Draft` + ws + `+by|Prepared` + ws + `+by|Verified` + ws + `+by).*`)
	identifierLine  = regexp.MustCompile(`.*(姓名|病歷號|醫師|Physician).*`)
)

// Deidentify strips identifying boilerplate from a raw report finding. CT and
// MRI reports use the sectioned hospital layout; every other modality is
// treated as a nuclear medicine report whose body follows a "Report:" header
// at the start of a line. Empty input yields "".
func Deidentify(raw, modality string) string {
	report := strings.TrimSpace(raw)
	if report == "" {
		return ""
	}

	switch strings.ToUpper(strings.TrimSpace(modality)) {
	case "CT", "MRI":
		return deidentifySectioned(report)
	default:
		return deidentifyNarrative(report)
	}
}

// Display returns the compacted, de-identified report text, or
// EmptyPlaceholder when nothing displayable is left.
func Display(raw, modality string) string {
	if content := CompactText(Deidentify(raw, modality)); content != "" {
		return content
	}
	return EmptyPlaceholder
}

func deidentifySectioned(report string) string {
	report = beforePurpose.ReplaceAllLiteralString(report, purposeHeader)

	if strings.Contains(report, contentMarker) && strings.Contains(report, attendingMarker) {
		if m := sectionedBody.FindStringSubmatch(report); m != nil {
			content := m[1]
			content = summarySection.ReplaceAllLiteralString(content, "")
			content = reportSignature.ReplaceAllLiteralString(content, "")
			content = beforePurpose.ReplaceAllLiteralString(content, purposeHeader)
			content = summarySection.ReplaceAllLiteralString(content, "")
			return strings.TrimSpace(content)
		}
	}

	return strings.TrimSpace(report)
}

func deidentifyNarrative(report string) string {
	content := report
	if m := reportLead.FindStringSubmatch(report); m != nil {
		content = m[1]
	}

	if loc := readerMarker.FindStringIndex(content); loc != nil {
		content = content[:loc[0]]
	}

	content = stripMemos(content)
	content = preparerLine.ReplaceAllLiteralString(content, "")
	content = identifierLine.ReplaceAllLiteralString(content, "")
	content = beforePurpose.ReplaceAllLiteralString(content, purposeHeader)
	content = reportSignature.ReplaceAllLiteralString(content, "")
	content = summarySection.ReplaceAllLiteralString(content, "")

	return strings.TrimSpace(content)
}

// stripMemos removes every "Memo:" block up to the next blank line, or to the
// end of the text when no blank line follows. The blank line itself stays.
func stripMemos(s string) string {
	var b strings.Builder
	for {
		loc := memoLead.FindStringIndex(s)
		if loc == nil {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:loc[0]])

		rest := s[loc[1]:]
		end := blankLine.FindStringIndex(rest)
		if end == nil {
			return b.String()
		}
		s = rest[end[0]:]
	}
}
