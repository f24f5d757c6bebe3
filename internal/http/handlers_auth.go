package httpx

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
	apperrors "github.com/target/congress-backoffice/internal/errors"
	"github.com/target/congress-backoffice/internal/http/validation"
	"github.com/target/congress-backoffice/internal/ports"
)

// Limits applied to the login form before anything reaches the backend.
const (
	maxIdentifierLen = 254
	maxPasswordLen   = 256

	// Shown when the backend gives no usable message.
	msgLoginFailed      = "Error en el inicio de sesión."
	msgBackendDown      = "No se ha podido contactar con el servidor. Inténtalo de nuevo más tarde."
	msgFixFieldsBelow   = "Revisa los campos marcados."
	fieldIdentifier     = "identifier"
	fieldPassword       = "password"
	labelIdentifier     = "El ID (DNI / NIE)"
	labelPassword       = "La contraseña"
	loginPageTitle      = "Backoffice Login"
	loginPageSubheading = "Introduce tus credenciales para acceder al panel"
)

// SignInService is the part of service.AuthService the handlers drive.
type SignInService interface {
	SignIn(ctx context.Context, creds ports.Credentials) error
	SignOut(ctx context.Context) error
}

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Svc      SignInService
	Sessions SessionReader
	// Binding ties the session to the browser that signed in; nil skips the check.
	Binding *SessionBinding
	T       *TemplateRenderer
	Logger  *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// loginRequest is the login form, submitted either form-encoded or as JSON.
// JSON callers may use "id" or "email" in place of "identifier".
type loginRequest struct {
	Identifier  string `json:"identifier"`
	ID          string `json:"id"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	RedirectURI string `json:"redirect_uri"`
}

func (lr loginRequest) identifier() string {
	switch {
	case lr.Identifier != "":
		return lr.Identifier
	case lr.ID != "":
		return lr.ID
	default:
		return lr.Email
	}
}

// LoginPage renders the login form.
// GET /login?redirect_uri=<optional_redirect>.
func (h *AuthHandlers) LoginPage(w http.ResponseWriter, r *http.Request) {
	redirect := safeRedirectPath(r.URL.Query().Get(redirectParam))

	if h.session(r).Authenticated() {
		http.Redirect(w, r, redirect, http.StatusSeeOther)
		return
	}

	h.renderLogin(w, r, http.StatusOK, loginView{Redirect: redirect})
}

// LoginSubmit exchanges the submitted credentials for a session.
// POST /login (form-encoded or application/json).
func (h *AuthHandlers) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	asJSON := isJSONRequest(r)

	var req loginRequest
	if asJSON {
		if !DecodeJSON(w, r, &req) {
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			h.renderLogin(w, r, http.StatusBadRequest, loginView{Message: msgLoginFailed, Redirect: PathHome})
			return
		}
		req = loginRequest{
			Identifier:  r.PostFormValue(fieldIdentifier),
			Password:    r.PostFormValue(fieldPassword),
			RedirectURI: r.PostFormValue(redirectParam),
		}
	}

	view := loginView{
		Identifier: strings.TrimSpace(req.identifier()),
		Redirect:   safeRedirectPath(req.RedirectURI),
	}

	v := validation.New().
		Validate(fieldIdentifier, view.Identifier, validation.Required(labelIdentifier, maxIdentifierLen)).
		Validate(fieldPassword, req.Password, validation.Secret(labelPassword, maxPasswordLen))
	if !v.Valid() {
		if asJSON {
			WriteJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "validation_failed",
				"message": msgFixFieldsBelow,
				"fields":  v.Errors(),
			})
			return
		}
		view.Message = msgFixFieldsBelow
		view.FieldErrors = v.Errors()
		h.renderLogin(w, r, http.StatusBadRequest, view)
		return
	}

	err := h.Svc.SignIn(r.Context(), ports.Credentials{Identifier: view.Identifier, Password: req.Password})
	if err != nil {
		h.loginFailed(w, r, loginFailure{err: err, asJSON: asJSON, view: view})
		return
	}

	h.logger().InfoContext(r.Context(), "operator signed in", slog.String("request_id", RequestID(r.Context())))
	h.bindBrowser(w, r)

	switch {
	case asJSON:
		// Identity resolution continues in the background; callers poll /auth/status.
		WriteJSON(w, http.StatusAccepted, map[string]any{
			"state":    h.signedInState(),
			"redirect": view.Redirect,
		})
	case IsHTMX(r):
		SetHXRedirect(w, view.Redirect)
		w.WriteHeader(http.StatusOK)
	default:
		http.Redirect(w, r, view.Redirect, http.StatusSeeOther)
	}
}

type loginFailure struct {
	err    error
	asJSON bool
	view   loginView
}

func (h *AuthHandlers) loginFailed(w http.ResponseWriter, r *http.Request, f loginFailure) {
	status, code := statusForError(f.err)
	h.logger().WarnContext(r.Context(), "sign in failed",
		slog.String("reason", code),
		slog.Any("error", f.err),
		slog.String("request_id", RequestID(r.Context())))

	message := loginErrorMessage(f.err)
	if f.asJSON {
		body := map[string]string{"error": code, "message": message}
		if field := apperrors.GetField(f.err); field != "" {
			body["field"] = field
		}
		WriteJSON(w, status, body)
		return
	}

	f.view.Message = message
	h.renderLogin(w, r, status, f.view)
}

// loginErrorMessage picks the text shown to the operator: the backend's own message for
// rejected credentials, a generic one otherwise.
func loginErrorMessage(err error) string {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeUnauthorized, apperrors.ErrCodeValidation:
		if msg := strings.TrimSpace(apperrors.Message(err)); msg != "" {
			return msg
		}
		return msgLoginFailed
	case apperrors.ErrCodeUnavailable:
		return msgBackendDown
	default:
		return msgLoginFailed
	}
}

// bindBrowser ties the signing-in browser to the freshly stored token and rotates its CSRF token.
func (h *AuthHandlers) bindBrowser(w http.ResponseWriter, r *http.Request) {
	if err := RotateCSRFToken(w, r); err != nil {
		h.logger().WarnContext(r.Context(), "rotate csrf token", slog.Any("error", err))
	}
	if h.Binding == nil || h.Sessions == nil {
		return
	}
	token := h.Sessions.Snapshot().Token
	if token == "" {
		return
	}
	if err := h.Binding.Issue(w, r, token); err != nil {
		h.logger().ErrorContext(r.Context(), "bind browser to session", slog.Any("error", err))
	}
}

// Logout ends the session. A client that is not bound to the session only loses its
// cookies; the operator stays signed in.
// POST /logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if h.ownsSession(r) {
		if err := h.Svc.SignOut(r.Context()); err != nil {
			// In-memory state is cleared regardless; only the persisted slot may be stale.
			h.logger().WarnContext(r.Context(), "sign out could not clear the token slot", slog.Any("error", err))
		}
	} else {
		h.logger().InfoContext(r.Context(), "logout from a browser not bound to the session",
			slog.String("request_id", RequestID(r.Context())))
	}
	h.Binding.Clear(w, r)
	if err := RotateCSRFToken(w, r); err != nil {
		h.logger().WarnContext(r.Context(), "rotate csrf token", slog.Any("error", err))
	}

	switch {
	case IsHTMX(r):
		SetHXRedirect(w, PathLogin)
		w.WriteHeader(http.StatusOK)
	case IsAJAX(r) || isJSONRequest(r):
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Redirect(w, r, PathLogin, http.StatusSeeOther)
	}
}

// Status reports the session state as JSON. It is never guarded so clients can poll it
// while identity resolution is pending.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, newSessionView(h.session(r)))
}

// session returns the snapshot as the requesting client may see it.
func (h *AuthHandlers) session(r *http.Request) domainauth.Snapshot {
	if h.Sessions == nil {
		return domainauth.Snapshot{}
	}
	return h.Binding.View(r, h.Sessions.Snapshot())
}

// signedInState is the state reported to the client that just signed in; it is bound by the
// response being written, not by the request.
func (h *AuthHandlers) signedInState() domainauth.State {
	if h.Sessions == nil {
		return domainauth.StatePending
	}
	return h.Sessions.Snapshot().State()
}

// ownsSession reports whether the client may end the current session. With no token stored
// there is nothing to protect, so any client may clear the slot.
func (h *AuthHandlers) ownsSession(r *http.Request) bool {
	if h.Sessions == nil || h.Binding == nil {
		return true
	}
	snap := h.Sessions.Snapshot()
	return snap.Token == "" || h.Binding.Bound(r, snap.Token)
}

// sessionView is the JSON shape of a session snapshot. The token itself is never exposed.
type sessionView struct {
	Authenticated bool                   `json:"authenticated"`
	Loading       bool                   `json:"loading"`
	IsAdmin       bool                   `json:"is_admin"`
	State         domainauth.State       `json:"state"`
	User          *domainauth.User       `json:"user"`
	LastFailure   domainauth.FailureKind `json:"last_failure,omitempty"`
}

func newSessionView(snap domainauth.Snapshot) sessionView {
	view := sessionView{
		Authenticated: snap.Authenticated(),
		Loading:       snap.Loading,
		IsAdmin:       snap.IsAdmin(),
		State:         snap.State(),
		LastFailure:   snap.LastFailure,
	}
	if snap.Authenticated() {
		view.User = snap.User
	}
	return view
}

// loginView carries what the login template needs besides the layout fields.
type loginView struct {
	Identifier  string
	Redirect    string
	Message     string
	FieldErrors map[string]string
}

func (h *AuthHandlers) renderLogin(w http.ResponseWriter, r *http.Request, status int, view loginView) {
	w.Header().Set("Cache-Control", "no-store")
	b := NewTemplateData(r, PageMeta{
		Title:       loginPageTitle,
		PageTitle:   loginPageTitle,
		CurrentPage: PageLogin,
	}).
		With("Subheading", loginPageSubheading).
		With("Identifier", view.Identifier).
		With("RedirectURI", view.Redirect).
		WithFieldErrors(view.FieldErrors)
	if view.Message != "" {
		b.WithError(view.Message)
	}

	if h.T == nil {
		WriteError(w, ErrorParams{Code: status, ErrCode: "login", Err: errors.New(view.Message)})
		return
	}
	if err := h.T.RenderFull(w, status, b.Build()); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// isJSONRequest reports whether the request body is JSON.
func isJSONRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	return err == nil && mediaType == "application/json"
}
