package pages

import "github.com/kuitang/pageflow/internal/resolver"

// Candidate lists, most specific first. The later entries cover the legacy markup
// and generic fallbacks; keep them broad but unambiguous on their page.

// Login page.
var (
	UsernameField = resolver.Labeled("username",
		"#username", "input[name=username]", "input[name=user]", "input[autocomplete=username]")
	PasswordField = resolver.Labeled("password",
		"#password", "input[name=password]", "input[type=password]")
	RememberMe = resolver.Labeled("remember me",
		"#remember", "input[name=remember]")
	LoginSubmit = resolver.Labeled("sign in",
		"#login-submit", "form#login-form button[type=submit]", "button[type=submit]", "text=Log in")
	LoginError = resolver.Labeled("login error",
		".alert-error", "[role=alert]")
)

// Shell shared by signed-in pages.
var (
	DashboardMarker = resolver.Labeled("dashboard",
		"#dashboard-title", "[data-page=dashboard]", "text=Dashboard")
	CustomersNav = resolver.Labeled("customers nav",
		"#nav-customers", "a[href='/customers']", "text=Customers")
	UserMenu = resolver.Labeled("user menu",
		"#user-menu", "[data-menu=user]", "header .menu")
)

// Customer list and form.
var (
	AddCustomerButton = resolver.Labeled("add customer",
		"#add-customer", "a[href='/customers/new']", "text=Add customer")
	CustomerName = resolver.Labeled("customer name",
		"#customer-name", "input[name=name]")
	CustomerEmail = resolver.Labeled("customer email",
		"#customer-email", "input[name=email]", "input[type=email]")
	CustomerPhone = resolver.Labeled("phone",
		"#phone", "input[type=tel]", "input[name=phone]", "input[placeholder*=Phone]")
	CustomerCompany = resolver.Labeled("company",
		"#company", "input[name=company]")
	CustomerNotes = resolver.Labeled("notes",
		"#notes", "textarea[name=notes]")
	SaveCustomer = resolver.Labeled("save customer",
		"#save-customer", "form#customer-form button[type=submit]", "main form button[type=submit]")
	SuccessBanner = resolver.Labeled("success banner",
		".alert-success", "[role=status]", "text=Customer saved")
	FormError = resolver.Labeled("form error",
		"main .alert-error", "[role=alert]")
	SearchField = resolver.Labeled("search",
		"#search", "input[type=search]", "input[name=q]")
	SearchSubmit = resolver.Labeled("search submit",
		"#search-submit", "form[role=search] button[type=submit]")
)

// Customer table and pagination.
var (
	TableRows = resolver.Labeled("customer rows",
		"table#customers tbody tr", "table.list tbody tr", "table tbody tr")
	PageIndicator = resolver.Labeled("page indicator",
		"#page-indicator", ".pagination .current", "[aria-current=page]")
	NextPageLink = resolver.Labeled("next page",
		"#next-page", "a[rel=next]", "text=Next")
	PrevPageLink = resolver.Labeled("previous page",
		"#prev-page", "a[rel=prev]", "text=Previous")
)
