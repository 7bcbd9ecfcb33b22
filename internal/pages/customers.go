package pages

import (
	"context"
	"unicode"

	"github.com/kuitang/pageflow/internal/resolver"
)

// Customer is the data entered into the add-customer form.
type Customer struct {
	Name    string
	Email   string
	Phone   string
	Company string
	Notes   string
}

type CustomerPage struct {
	*BasePage
	phonePrefix string
}

// NewCustomerPage returns the customer list page. phonePrefix is typed ahead of
// the number when the phone field drops input that lacks a country code.
func NewCustomerPage(base *BasePage, phonePrefix string) *CustomerPage {
	return &CustomerPage{BasePage: base, phonePrefix: phonePrefix}
}

func (c *CustomerPage) Open(ctx context.Context) error {
	return c.BasePage.Open(ctx, "/customers")
}

// Add opens the form from the list page, enters cust and saves it. It returns
// once the success banner shows.
func (c *CustomerPage) Add(ctx context.Context, cust Customer) error {
	if err := c.Click(ctx, "open add customer", AddCustomerButton, resolver.Required); err != nil {
		return err
	}
	if err := c.Fill(ctx, "customer name", CustomerName, cust.Name, resolver.Required,
		resolver.WithVerification(resolver.Exact)); err != nil {
		return err
	}
	if err := c.Fill(ctx, "customer email", CustomerEmail, cust.Email, resolver.Required,
		resolver.WithVerification(resolver.Exact)); err != nil {
		return err
	}
	if err := c.Fill(ctx, "customer phone", CustomerPhone, cust.Phone, resolver.Required, c.phoneOptions(cust.Phone)...); err != nil {
		return err
	}
	if cust.Company != "" {
		if err := c.Fill(ctx, "customer company", CustomerCompany, cust.Company, resolver.Optional,
			resolver.WithVerification(resolver.Exact)); err != nil {
			return err
		}
	}
	if cust.Notes != "" {
		if err := c.Fill(ctx, "customer notes", CustomerNotes, cust.Notes, resolver.Optional,
			resolver.WithVerification(resolver.NonEmpty)); err != nil {
			return err
		}
	}
	if err := c.Click(ctx, "save customer", SaveCustomer, resolver.Required); err != nil {
		return err
	}
	return c.WaitFor(ctx, "customer saved", SuccessBanner, resolver.Required)
}

// phoneOptions accepts any formatting a mask applies as long as every digit landed.
func (c *CustomerPage) phoneOptions(phone string) []resolver.Option {
	digits := 0
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	opts := []resolver.Option{resolver.WithVerification(resolver.MinLength(digits))}
	if c.phonePrefix != "" {
		opts = append(opts, resolver.WithPrefix(c.phonePrefix))
	}
	return opts
}

// Search submits q through the list page's search box.
func (c *CustomerPage) Search(ctx context.Context, q string) error {
	if err := c.Fill(ctx, "search", SearchField, q, resolver.Required); err != nil {
		return err
	}
	return c.Click(ctx, "submit search", SearchSubmit, resolver.Required)
}

// OpenUserMenu hovers the account menu in the header.
func (c *CustomerPage) OpenUserMenu(ctx context.Context) error {
	return c.Hover(ctx, "user menu", UserMenu, resolver.Optional)
}
