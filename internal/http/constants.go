package httpx

// CurrentPage constants define the page identifiers used in templates and navigation.
const (
	PageDashboard = "dashboard"
	PageProfile   = "profile"
	PageAdmin     = "admin"
	PageLogin     = "login"
	PageForbidden = "forbidden"
	PageNotFound  = "not-found"
)

// Paths shared by handlers, middleware and templates.
const (
	PathLogin      = "/login"
	PathLogout     = "/logout"
	PathHome       = "/"
	PathAuthStatus = "/auth/status"

	// redirectParam carries the page to return to after signing in.
	redirectParam = "redirect_uri"
)

// Content templates are defined once and reused to avoid per-call allocations.
//
//nolint:gochecknoglobals // static read-only lookup for templates
var contentTemplates = map[string]string{
	PageDashboard: "dashboard-content",
	PageProfile:   "profile-content",
	PageAdmin:     "admin-content",
	PageLogin:     "login-content",
	PageForbidden: "forbidden-content",
	PageNotFound:  "not-found-content",
}

// ContentTemplateFor returns the content template for the given CurrentPage.
// Falls back to dashboard-content for unknown pages.
func ContentTemplateFor(currentPage string) string {
	if name, ok := contentTemplates[currentPage]; ok {
		return name
	}
	return "dashboard-content"
}
