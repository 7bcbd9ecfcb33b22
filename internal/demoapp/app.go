// Package demoapp is a small server-rendered CRM used as the target of the page objects,
// flows and browser tests. Its Legacy variant renders the same screens with different
// markup, so fallback selectors get exercised.
package demoapp

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/kuitang/pageflow/internal/obs"
)

const (
	sessionCookie   = "demo_session"
	defaultPageSize = 10
	minPhoneDigits  = 7
)

// Options configure an App. Zero values get usable defaults.
type Options struct {
	Username string
	Password string
	PageSize int
	// Seed is the number of generated customers present at startup.
	Seed int
	// Legacy renders the alternate markup.
	Legacy bool
	// SaveDisabled renders the customer form's save button disabled.
	SaveDisabled bool
}

// Customer is one CRM record.
type Customer struct {
	ID      string
	Name    string
	Email   string
	Phone   string
	Company string
	Notes   string
	Created time.Time
}

// App serves the demo CRM. It is safe for concurrent use.
type App struct {
	opts     Options
	renderer *renderer
	logger   *slog.Logger

	mu        sync.Mutex
	sessions  map[string]session
	customers []Customer
}

type session struct {
	user       string
	remembered bool
}

func New(opts Options) (*App, error) {
	if opts.Username == "" {
		opts.Username = "admin"
	}
	if opts.Password == "" {
		opts.Password = "password"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	r, err := newRenderer(templateFS)
	if err != nil {
		return nil, err
	}
	a := &App{
		opts:     opts,
		renderer: r,
		logger:   obs.Pkg("demoapp"),
		sessions: make(map[string]session),
	}
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 1; i <= opts.Seed; i++ {
		a.customers = append(a.customers, Customer{
			ID:      uuid.NewString(),
			Name:    fmt.Sprintf("Customer %02d", i),
			Email:   fmt.Sprintf("customer%02d@example.com", i),
			Phone:   fmt.Sprintf("+1 555 01%02d", i),
			Company: fmt.Sprintf("Company %d", (i-1)/3+1),
			Created: base.Add(time.Duration(i) * time.Hour),
		})
	}
	return a, nil
}

// Handler returns the app's routes wrapped in request correlation and access logging.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /login", a.handleLoginPage)
	mux.HandleFunc("POST /login", a.handleLogin)
	mux.HandleFunc("POST /logout", a.handleLogout)
	mux.Handle("GET /dashboard", a.requireAuth(a.handleDashboard))
	mux.Handle("GET /customers", a.requireAuth(a.handleCustomers))
	mux.Handle("GET /customers/new", a.requireAuth(a.handleNewCustomer))
	mux.Handle("POST /customers", a.requireAuth(a.handleCreateCustomer))
	mux.Handle("GET /customers/{id}", a.requireAuth(a.handleCustomer))
	return obs.RequestContextMiddleware(obs.AccessLogMiddleware("demoapp", mux))
}

// Customers returns a snapshot of every record, newest first.
func (a *App) Customers() []Customer {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Customer, len(a.customers))
	copy(out, a.customers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return out
}

// FindByEmail returns the customer with the given email.
func (a *App) FindByEmail(email string) (Customer, bool) {
	for _, c := range a.Customers() {
		if strings.EqualFold(c.Email, email) {
			return c, true
		}
	}
	return Customer{}, false
}

// pageData is what base.html reads; page templates embed it.
type pageData struct {
	Title  string
	User   string
	Legacy bool
	Flash  string
	Error  string
}

func (a *App) page(r *http.Request, title string) pageData {
	s, _ := a.currentSession(r)
	return pageData{Title: title, User: s.user, Legacy: a.opts.Legacy}
}

func (a *App) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	if err := a.renderer.render(w, status, name, data); err != nil {
		obs.From(r.Context()).Error("render failed", "template", name, "error", err)
	}
}

func (a *App) currentSession(r *http.Request) (session, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return session{}, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[c.Value]
	return s, ok
}

func (a *App) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.currentSession(r); !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r)
	})
}

func (a *App) handleRoot(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.currentSession(r); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type loginData struct {
	pageData
	Username string
}

func (a *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, "login.html", loginData{pageData: a.page(r, "Sign in")})
}

func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	user := firstNonEmpty(r.PostForm.Get("username"), r.PostForm.Get("user"))
	pass := firstNonEmpty(r.PostForm.Get("password"), r.PostForm.Get("pass"))

	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.opts.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.opts.Password)) == 1
	if !userOK || !passOK {
		obs.From(r.Context()).Info("login rejected", "user", user)
		data := loginData{pageData: a.page(r, "Sign in"), Username: user}
		data.Error = "Invalid username or password"
		a.render(w, r, http.StatusUnauthorized, "login.html", data)
		return
	}

	token := uuid.NewString()
	remembered := r.PostForm.Get("remember") != ""
	a.mu.Lock()
	a.sessions[token] = session{user: user, remembered: remembered}
	a.mu.Unlock()

	cookie := &http.Cookie{Name: sessionCookie, Value: token, Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode}
	if remembered {
		cookie.MaxAge = int((30 * 24 * time.Hour).Seconds())
	}
	http.SetCookie(w, cookie)
	obs.From(r.Context()).Info("login succeeded", "user", user, "remember", remembered)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		a.mu.Lock()
		delete(a.sessions, c.Value)
		a.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

type dashboardData struct {
	pageData
	Total      int
	Remembered bool
}

func (a *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s, _ := a.currentSession(r)
	a.mu.Lock()
	total := len(a.customers)
	a.mu.Unlock()
	a.render(w, r, http.StatusOK, "dashboard.html", dashboardData{
		pageData:   a.page(r, "Dashboard"),
		Total:      total,
		Remembered: s.remembered,
	})
}

type customersData struct {
	pageData
	Customers  []Customer
	Query      string
	Page       int
	TotalPages int
	HasPrev    bool
	HasNext    bool
}

func (a *App) handleCustomers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	all := a.Customers()
	if q != "" {
		matched := all[:0]
		needle := strings.ToLower(q)
		for _, c := range all {
			if strings.Contains(strings.ToLower(c.Name+" "+c.Email+" "+c.Company), needle) {
				matched = append(matched, c)
			}
		}
		all = matched
	}

	totalPages := (len(all) + a.opts.PageSize - 1) / a.opts.PageSize
	if totalPages == 0 {
		totalPages = 1
	}
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * a.opts.PageSize
	end := min(start+a.opts.PageSize, len(all))

	data := customersData{
		pageData:   a.page(r, "Customers"),
		Customers:  all[start:end],
		Query:      q,
		Page:       page,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}
	if r.URL.Query().Get("created") != "" {
		data.Flash = "Customer saved"
	}
	a.render(w, r, http.StatusOK, "customers.html", data)
}

type customerFormData struct {
	pageData
	Form         Customer
	SaveDisabled bool
}

func (a *App) handleNewCustomer(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, http.StatusOK, "customer_form.html", customerFormData{
		pageData:     a.page(r, "New customer"),
		SaveDisabled: a.opts.SaveDisabled,
	})
}

func (a *App) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	c := Customer{
		Name:    strings.TrimSpace(r.PostForm.Get("name")),
		Email:   strings.TrimSpace(r.PostForm.Get("email")),
		Phone:   strings.TrimSpace(r.PostForm.Get("phone")),
		Company: strings.TrimSpace(r.PostForm.Get("company")),
		Notes:   r.PostForm.Get("notes"),
	}
	if err := validateCustomer(c); err != nil {
		data := customerFormData{pageData: a.page(r, "New customer"), Form: c, SaveDisabled: a.opts.SaveDisabled}
		data.Error = err.Error()
		a.render(w, r, http.StatusUnprocessableEntity, "customer_form.html", data)
		return
	}
	c.ID = uuid.NewString()
	c.Created = time.Now().UTC()

	a.mu.Lock()
	a.customers = append(a.customers, c)
	a.mu.Unlock()

	obs.From(r.Context()).Info("customer created", "customer_id", c.ID)
	http.Redirect(w, r, "/customers?created="+c.ID, http.StatusSeeOther)
}

type customerData struct {
	pageData
	Customer Customer
}

func (a *App) handleCustomer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, c := range a.Customers() {
		if c.ID == id {
			a.render(w, r, http.StatusOK, "customer.html", customerData{pageData: a.page(r, c.Name), Customer: c})
			return
		}
	}
	http.NotFound(w, r)
}

func validateCustomer(c Customer) error {
	var problems []string
	if c.Name == "" {
		problems = append(problems, "name is required")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		problems = append(problems, "email is invalid")
	}
	if digits(c.Phone) < minPhoneDigits {
		problems = append(problems, fmt.Sprintf("phone needs at least %d digits", minPhoneDigits))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func digits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
