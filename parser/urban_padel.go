package parser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"padel-finder/types"
)

// UrbanPadel scrapes the public planning page. The page is a table with
// one column per court; booked slots span several rows with rowspan.
type UrbanPadel struct {
	*base
}

// NewUrbanPadel creates the adapter.
func NewUrbanPadel(club types.Club, baseURL string, deps Deps) *UrbanPadel {
	return &UrbanPadel{base: newBase(club, baseURL, 15*time.Second, deps)}
}

func (a *UrbanPadel) FetchSlots(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	return a.fetch(ctx, date, hours, a.load)
}

func (a *UrbanPadel) TestConnection(ctx context.Context) bool {
	return a.probe(ctx, a.load)
}

func (a *UrbanPadel) load(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parse date: %w", err)
	}
	target := fmt.Sprintf("%s/planning?date=%s", a.baseURL, url.QueryEscape(day.Format("02/01/2006")))

	doc, err := a.getDocument(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	if doc.Find("table#planning").Length() == 0 {
		return nil, fmt.Errorf("%w: planning table not found", ErrUnexpectedResponse)
	}
	return a.parse(doc, date, hours), nil
}

func (a *UrbanPadel) parse(doc *goquery.Document, date string, hours *types.HourRange) []types.Slot {
	// Courts without a header name are reported under the placeholder label.
	n := a.normalizer(date, hours).withPlaceholder()

	table := doc.Find("table#planning").First()
	courts := make([]string, 0)
	table.Find("thead tr").First().Find("th").Each(func(i int, th *goquery.Selection) {
		if i == 0 {
			return // time column
		}
		courts = append(courts, cleanCourtName(th.Text()))
	})

	// carry tracks, per court column, how many following rows are still
	// covered by a cell with rowspan.
	carry := make(map[int]int)

	table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Children().Filter("td")
		if cells.Length() == 0 {
			return
		}
		slotTime := cells.First().Text()

		covered := carry
		carry = make(map[int]int)
		for col, rows := range covered {
			if rows > 1 {
				carry[col] = rows - 1
			}
		}

		col := 0
		cells.Slice(1, goquery.ToEnd).Each(func(_ int, td *goquery.Selection) {
			for covered[col] > 0 {
				col++
			}
			if span, err := strconv.Atoi(td.AttrOr("rowspan", "1")); err == nil && span > 1 {
				carry[col] = span - 1
			}
			defer func() { col++ }()

			if col >= len(courts) {
				a.log.Warn("planning cell beyond court header", zap.Int("column", col))
				return
			}
			if !td.HasClass("libre") {
				return
			}
			link := td.Find("a").First()
			dur, _ := strconv.Atoi(td.AttrOr("data-duree", ""))
			n.add(rawSlot{
				Time:     slotTime,
				Court:    courts[col],
				Duration: dur,
				Price:    formatPrice(td.AttrOr("data-prix", "")),
				Link:     a.absolute(link.AttrOr("href", "")),
			})
		})
	})

	return n.slots()
}
