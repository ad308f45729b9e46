package dispatch

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/gcal"
	"github.com/ggorilla11-hub/ARK-Genie1-sub000/internal/timeline"
)

// PlaceholderName stands in when no customer name can be extracted.
const PlaceholderName = "고객님"

// Caller places an outbound phone call.
type Caller interface {
	PlaceCall(displayName, phoneNumber string) (string, error)
}

// Scheduler creates a calendar event.
type Scheduler interface {
	InsertEvent(ctx context.Context, ev gcal.Event) (gcal.CreatedEvent, error)
}

// SheetLogger appends one row to the customer log sheet.
type SheetLogger interface {
	AppendRow(ctx context.Context, row []string) (string, error)
}

// Contacts resolves a customer name to a phone number.
type Contacts interface {
	Lookup(name string) (phone string, ok bool)
}

// StaticContacts is a fixed name-to-number book.
type StaticContacts map[string]string

func (c StaticContacts) Lookup(name string) (string, bool) {
	phone, ok := c[name]
	return phone, ok
}

// Dispatcher matches recognized utterances against a fixed ordered rule set
// and fires side-effecting actions. Every action shows up on the timeline;
// collaborator failures mark the entry error and never escape.
type Dispatcher struct {
	board     *timeline.Board
	caller    Caller
	scheduler Scheduler
	sheet     SheetLogger
	contacts  Contacts

	clock func() time.Time
	wg    sync.WaitGroup
}

func New(board *timeline.Board, caller Caller, scheduler Scheduler, sheet SheetLogger, contacts Contacts) *Dispatcher {
	if board == nil {
		board = timeline.NewBoard()
	}
	return &Dispatcher{
		board:     board,
		caller:    caller,
		scheduler: scheduler,
		sheet:     sheet,
		contacts:  contacts,
		clock:     time.Now,
	}
}

// Board exposes the timeline the dispatcher writes to.
func (d *Dispatcher) Board() *timeline.Board { return d.board }

// Wait blocks until every in-flight action has resolved.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// honorific suffixes that terminate a Korean personal name in speech
var namePattern = regexp.MustCompile(`([가-힣]{2,4})\s*(고객님|대표님|사장님|선생님|팀장님|부장님|님|씨)`)

// ExtractName pulls a customer name out of the utterance. The honorific
// itself is not part of the name. Returns PlaceholderName when nothing
// matches.
func ExtractName(text string) string {
	m := namePattern.FindStringSubmatch(text)
	if m == nil {
		return PlaceholderName
	}
	return m[1]
}

// Dispatch routes one utterance. Matching is ordered and first-match-wins:
// outbound call, then scheduling, then sheet logging, then a fallback
// acknowledgment. It never returns an error; the timeline carries outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	switch {
	case strings.Contains(text, "전화"):
		d.dispatchCall(text)
	case strings.Contains(text, "예약") || strings.Contains(text, "일정") || strings.Contains(text, "미팅"):
		d.dispatchSchedule(ctx, text)
	case strings.Contains(text, "기록") || strings.Contains(text, "메모") || strings.Contains(text, "고객관리"):
		d.dispatchSheetLog(ctx, text)
	default:
		e := d.board.Add("확인했습니다", "check", timeline.StatusDone)
		log.Printf("dispatch: acknowledged utterance, entry=%d", e.ID)
	}
}

func (d *Dispatcher) dispatchCall(text string) {
	name := ExtractName(text)
	entry := d.board.Add(fmt.Sprintf("%s 전화 연결", name), "phone", timeline.StatusLoading)

	if d.caller == nil {
		d.fail(entry.ID, "call placement not configured")
		return
	}
	if d.contacts == nil {
		d.fail(entry.ID, "contact book not configured")
		return
	}
	phone, ok := d.contacts.Lookup(name)
	if !ok || phone == "" {
		d.fail(entry.ID, fmt.Sprintf("no phone number on file for %s", name))
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		sid, err := d.caller.PlaceCall(name, phone)
		if err != nil {
			d.fail(entry.ID, err.Error())
			return
		}
		d.finish(entry.ID)
		log.Printf("dispatch: call placed, entry=%d sid=%s", entry.ID, sid)
	}()
}

func (d *Dispatcher) dispatchSchedule(ctx context.Context, text string) {
	name := ExtractName(text)
	entry := d.board.Add(fmt.Sprintf("%s 상담 일정 등록", name), "calendar", timeline.StatusLoading)

	if d.scheduler == nil {
		d.fail(entry.ID, "calendar not configured")
		return
	}

	// next business hour, on the hour
	start := d.clock().Add(time.Hour).Truncate(time.Hour)
	ev := gcal.Event{
		Summary:     fmt.Sprintf("%s 상담", name),
		Description: text,
		Start:       start,
		End:         start.Add(time.Hour),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		created, err := d.scheduler.InsertEvent(ctx, ev)
		if err != nil {
			d.fail(entry.ID, err.Error())
			return
		}
		d.finish(entry.ID)
		log.Printf("dispatch: event created, entry=%d event=%s", entry.ID, created.EventID)
	}()
}

func (d *Dispatcher) dispatchSheetLog(ctx context.Context, text string) {
	name := ExtractName(text)
	entry := d.board.Add(fmt.Sprintf("%s 고객 기록 추가", name), "sheet", timeline.StatusLoading)

	if d.sheet == nil {
		d.fail(entry.ID, "customer sheet not configured")
		return
	}

	phone := ""
	if d.contacts != nil {
		phone, _ = d.contacts.Lookup(name)
	}
	row := []string{d.clock().Format("2006-01-02"), name, phone, "메모", text}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		updated, err := d.sheet.AppendRow(ctx, row)
		if err != nil {
			d.fail(entry.ID, err.Error())
			return
		}
		d.finish(entry.ID)
		log.Printf("dispatch: row appended, entry=%d range=%s", entry.ID, updated)
	}()
}

func (d *Dispatcher) fail(id int64, reason string) {
	if err := d.board.Advance(id, timeline.StatusError); err != nil {
		log.Printf("dispatch: advance entry %d: %v", id, err)
	}
	log.Printf("dispatch: action failed, entry=%d: %s", id, reason)
}

func (d *Dispatcher) finish(id int64) {
	if err := d.board.Advance(id, timeline.StatusDone); err != nil {
		log.Printf("dispatch: advance entry %d: %v", id, err)
	}
}
