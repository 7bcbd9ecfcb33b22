package pages

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/kuitang/pageflow/internal/errs"
	"github.com/kuitang/pageflow/internal/resolver"
)

const defaultPageTurnTimeout = 5 * time.Second

var pageNumbers = regexp.MustCompile(`(\d+)(?:\D+(\d+))?`)

// TablePage reads the paginated customer table.
type TablePage struct {
	*BasePage
	turnTimeout time.Duration
}

func NewTablePage(base *BasePage) *TablePage {
	return &TablePage{BasePage: base, turnTimeout: defaultPageTurnTimeout}
}

// RowCount returns the number of rows on the current page.
func (t *TablePage) RowCount(ctx context.Context) (int, error) {
	return t.Count(ctx, TableRows)
}

// CurrentPage parses the indicator ("Page 2 of 5"). total is 0 when the indicator
// shows no total.
func (t *TablePage) CurrentPage(ctx context.Context) (page, total int, err error) {
	text, err := t.Text(ctx, PageIndicator)
	if err != nil {
		return 0, 0, err
	}
	return ParsePageIndicator(text)
}

// ParsePageIndicator extracts the current and total page numbers from text.
func ParsePageIndicator(text string) (page, total int, err error) {
	m := pageNumbers.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, errs.Errorf(errs.FailedPrecondition, "no page number in %q", text)
	}
	page, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		total, _ = strconv.Atoi(m[2])
	}
	return page, total, nil
}

// NextPage follows the next link. It reports false when there is no next page.
func (t *TablePage) NextPage(ctx context.Context) (bool, error) {
	return t.turn(ctx, "next page", NextPageLink, 1)
}

// PrevPage follows the previous link. It reports false on the first page.
func (t *TablePage) PrevPage(ctx context.Context) (bool, error) {
	return t.turn(ctx, "previous page", PrevPageLink, -1)
}

func (t *TablePage) turn(ctx context.Context, name string, link []resolver.Candidate, delta int) (bool, error) {
	if !t.Visible(ctx, link) {
		return false, nil
	}
	before, _, err := t.CurrentPage(ctx)
	if err != nil {
		return false, err
	}
	if err := t.Click(ctx, name, link, resolver.Required); err != nil {
		return false, err
	}
	want := before + delta
	ok := waitUntil(ctx, t.turnTimeout, func(ctx context.Context) bool {
		got, _, err := t.CurrentPage(ctx)
		return err == nil && got == want
	})
	if !ok {
		if err := ctx.Err(); err != nil {
			return false, errs.Wrap(errs.Canceled, name, err)
		}
		return false, errs.Errorf(errs.Unavailable, "%s: page indicator did not reach %d", name, want)
	}
	return true, nil
}
