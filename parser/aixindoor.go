package parser

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"

	"padel-finder/session"
	"padel-finder/types"
)

// IndoorAix reads the member planning of Padel Indoor Aix. The planning is
// an HTML grid with one column per court; free cells carry the
// "creneau libre" classes.
type IndoorAix struct {
	*base
	store *session.Store
}

// NewIndoorAix creates the adapter. store holds the browser login session.
func NewIndoorAix(club types.Club, baseURL string, store *session.Store, deps Deps) *IndoorAix {
	return &IndoorAix{
		base:  newSessionBase(club, baseURL, 60*time.Second, deps),
		store: store,
	}
}

func (a *IndoorAix) FetchSlots(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	return a.fetch(ctx, date, hours, a.load)
}

func (a *IndoorAix) TestConnection(ctx context.Context) bool {
	return a.probe(ctx, a.load)
}

func (a *IndoorAix) RefreshSession(ctx context.Context) error {
	_, err := a.store.Refresh(ctx)
	return err
}

func (a *IndoorAix) Sessions() []*session.Store {
	return []*session.Store{a.store}
}

func (a *IndoorAix) load(ctx context.Context, date string, hours *types.HourRange) ([]types.Slot, error) {
	target := fmt.Sprintf("%s/reservation/planning?date=%s", a.baseURL, url.QueryEscape(date))

	var slots []types.Slot
	err := withSession(ctx, a.store, func(ctx context.Context, rec *types.SessionRecord) error {
		doc, err := a.getDocument(ctx, target, rec)
		if err != nil {
			return err
		}
		if isLoginPage(doc) {
			return fmt.Errorf("%w: login page returned", ErrAuth)
		}
		slots = a.parse(doc, date, hours)
		return nil
	})
	return slots, err
}

// parse reads table.planning: thead holds court names, each tbody row
// starts with the time and has one cell per court.
func (a *IndoorAix) parse(doc *goquery.Document, date string, hours *types.HourRange) []types.Slot {
	n := a.normalizer(date, hours)

	doc.Find("table.planning").Each(func(_ int, table *goquery.Selection) {
		courts := make([]string, 0)
		table.Find("thead tr").First().Find("th").Each(func(i int, th *goquery.Selection) {
			if i == 0 {
				return // time column
			}
			courts = append(courts, cleanCourtName(th.Text()))
		})
		if len(courts) == 0 {
			a.log.Warn("planning without court header")
			return
		}

		table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
			slotTime := tr.Find("th.heure, td.heure").First().Text()
			tr.Find("td.creneau").Each(func(col int, td *goquery.Selection) {
				if !td.HasClass("libre") {
					return
				}
				court := td.AttrOr("data-terrain", "")
				if court == "" && col < len(courts) {
					court = courts[col]
				}
				dur, _ := strconv.Atoi(td.AttrOr("data-duree", ""))
				n.add(rawSlot{
					Time:     td.AttrOr("data-heure", slotTime),
					Court:    court,
					Duration: dur,
					Price:    formatPrice(td.AttrOr("data-prix", "")),
					Link:     a.absolute(td.Find("a").First().AttrOr("href", "")),
				})
			})
		})
	})

	return n.slots()
}
