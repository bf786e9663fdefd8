package txcourts

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/markwbennett/PDRbot/internal/sources"
)

var (
	caseNumberRe  = regexp.MustCompile(`\d{2}-\d{2}-\d{5}-CR`)
	dissentByRe   = regexp.MustCompile(`dissenting opinion by (?:chief )?justice (\w+)`)
	concurrByRe   = regexp.MustCompile(`concurring opinion by (?:chief )?justice (\w+)`)
	courtTemplate = `" + this.CurrentWebState.CurrentCourt + @"`
)

// classifyDescription maps a document description to the opinion type
// abbreviation and, for separate opinions, the authoring justice.
func classifyDescription(description string) (opinionType, justice string) {
	lower := strings.ToLower(description)
	switch {
	case strings.Contains(lower, "memorandum"):
		return "mem", ""
	case strings.Contains(lower, "dissenting"):
		if m := dissentByRe.FindStringSubmatch(lower); m != nil {
			justice = m[1]
		}
		return "dis", justice
	case strings.Contains(lower, "concurring"):
		if m := concurrByRe.FindStringSubmatch(lower); m != nil {
			justice = m[1]
		}
		return "con", justice
	case strings.Contains(lower, "opinion"):
		return "op", ""
	}
	return "", ""
}

// parseDocket extracts the criminal-causes opinion references from a docket
// page. The criminal section is an rgMasterTable grid that follows the
// "Criminal Causes Decided" heading; each row links the case page and one
// docGrid per released document.
func parseDocket(doc *goquery.Document, sourceID, listingURL string, base *url.URL, date time.Time) []sources.OpinionRef {
	var refs []sources.OpinionRef
	inCriminal := false

	doc.Find("h3, table.rgMasterTable").Each(func(_ int, sel *goquery.Selection) {
		if goquery.NodeName(sel) == "h3" {
			inCriminal = strings.Contains(sel.Text(), "Criminal Causes Decided")
			return
		}
		if !inCriminal {
			return
		}
		inCriminal = false
		sel.Find("tbody tr.rgRow, tbody tr.rgAltRow").Each(func(_ int, row *goquery.Selection) {
			refs = append(refs, parseCaseRow(row, sourceID, listingURL, base, date)...)
		})
	})
	return refs
}

func parseCaseRow(row *goquery.Selection, sourceID, listingURL string, base *url.URL, date time.Time) []sources.OpinionRef {
	caseLink := row.Find(`a[href*="Case.aspx?cn="]`).First()
	if caseLink.Length() == 0 {
		return nil
	}
	caseNumber := caseNumberRe.FindString(strings.TrimSpace(caseLink.Text()))
	if caseNumber == "" {
		return nil
	}

	var refs []sources.OpinionRef
	row.Find("table.docGrid").Each(func(_ int, grid *goquery.Selection) {
		link := grid.Find(`a[href*="SearchMedia.aspx"]`).First()
		if link.Length() == 0 {
			return
		}
		description := strings.TrimSpace(link.Closest("td").Prev().Text())
		opinionType, justice := classifyDescription(description)
		if opinionType == "" {
			opinionType = "op"
		}

		href, _ := link.Attr("href")
		// The site emits a JavaScript template placeholder for the court
		// segment; substitute the concrete source id before resolving.
		href = strings.ReplaceAll(href, courtTemplate, sourceID)
		docURL := href
		if rel, err := url.Parse(href); err == nil {
			docURL = base.ResolveReference(rel).String()
		}

		refs = append(refs, sources.OpinionRef{
			SourceID:    sourceID,
			CaseNumber:  caseNumber,
			OpinionType: opinionType,
			JusticeName: justice,
			Date:        date,
			ListingURL:  listingURL,
			DocumentURL: docURL,
			Description: description,
		})
	})
	return refs
}

// looksScriptGated reports whether a listing page appears to require
// JavaScript to render its grids, which warrants one headless attempt.
func looksScriptGated(html string) bool {
	if strings.Contains(html, "rgMasterTable") {
		return false
	}
	return strings.Contains(html, "__doPostBack") ||
		strings.Contains(html, "Telerik.Web.UI")
}
