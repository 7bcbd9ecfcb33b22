package pages

import (
	"context"

	"github.com/kuitang/pageflow/internal/resolver"
)

// Credentials for the login form.
type Credentials struct {
	Username string
	Password string
	Remember bool
}

type LoginPage struct {
	*BasePage
}

func NewLoginPage(base *BasePage) *LoginPage {
	return &LoginPage{BasePage: base}
}

func (l *LoginPage) Open(ctx context.Context) error {
	return l.BasePage.Open(ctx, "/login")
}

// Login opens the login page, submits creds and waits for the dashboard.
// The remember-me checkbox is optional: pages without it still log in.
func (l *LoginPage) Login(ctx context.Context, creds Credentials) error {
	if err := l.Open(ctx); err != nil {
		return err
	}
	if err := l.Fill(ctx, "username", UsernameField, creds.Username, resolver.Required,
		resolver.WithVerification(resolver.Exact)); err != nil {
		return err
	}
	if err := l.Fill(ctx, "password", PasswordField, creds.Password, resolver.Required,
		resolver.WithVerification(resolver.NonEmpty)); err != nil {
		return err
	}
	if creds.Remember {
		if err := l.Click(ctx, "remember me", RememberMe, resolver.Optional); err != nil {
			return err
		}
	}
	if err := l.Click(ctx, "submit login", LoginSubmit, resolver.Required); err != nil {
		return err
	}
	return l.WaitFor(ctx, "dashboard visible", DashboardMarker, resolver.Required)
}

// LoggedIn reports whether the dashboard marker is showing.
func (l *LoginPage) LoggedIn(ctx context.Context) bool {
	return l.Visible(ctx, DashboardMarker)
}

// Error returns the login error banner text, or "" when none is shown.
func (l *LoginPage) Error(ctx context.Context) string {
	if !l.Visible(ctx, LoginError) {
		return ""
	}
	text, err := l.Text(ctx, LoginError)
	if err != nil {
		return ""
	}
	return text
}
