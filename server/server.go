// Package server is the web collaborator of the broker: it terminates the
// browser side of the consent flow. It serves the provider redirect
// callback and the browsable consent description pages; everything it does
// is a thin translation between HTTP and broker operations.
package server

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/consometers/data-connect-proxy/models"
	"github.com/consometers/data-connect-proxy/proxy"
	"github.com/consometers/data-connect-proxy/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Server handles the consent-facing web pages.
type Server struct {
	proxy  *proxy.Proxy
	logger *zap.Logger
}

// NewServer creates the web collaborator over the broker.
func NewServer(p *proxy.Proxy, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{proxy: p, logger: logger}
}

// NewGinEngine builds a Gin router with the consent flow routes.
func NewGinEngine(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))

	r.GET("/", s.handleIndex)
	r.GET("/redirect", s.handleAuthorizeRedirect)
	r.GET("/authorize", s.handleAuthorizeDescription)
	return r
}

func (s *Server) handleIndex(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", nil)
}

// handleAuthorizeRedirect terminates the provider redirect. Without a state
// value the exchange cannot be correlated: the query then only tells us why
// the provider bounced the user, and all we can do is explain it.
func (s *Server) handleAuthorizeRedirect(c *gin.Context) {
	state := c.Query("state")
	if state == "" {
		code := c.Query("code")
		errName := c.Query("error")
		errDescription := c.Query("error_description")
		// e.g. ?code=403&error=access_denied&error_description=authorization_request_refused
		if code == "403" {
			s.renderError(c, http.StatusOK, "The customer did not authorize access to their metering data.", false)
			return
		}
		message := errName + " (" + code + "): " + errDescription
		s.logger.Error("provider redirect error", zap.String("message", message))
		s.renderError(c, http.StatusOK, "Provider error: "+message, true)
		return
	}

	code := c.Query("code")
	if code == "" {
		s.logger.Error("redirect without code parameter", zap.String("state", state))
		s.renderError(c, http.StatusBadRequest, "The code parameter is missing.", true)
		return
	}

	ret, err := s.proxy.HandleAuthorizeCallback(c.Request.Context(), code, state)
	if err != nil {
		s.logger.Error("authorize callback failed", zap.String("state", state), zap.Error(err))
		s.renderError(c, http.StatusInternalServerError, err.Error(), true)
		return
	}
	if ret == nil {
		s.renderError(c, http.StatusNotFound, "This authorization request is not known. It may have already been completed.", false)
		return
	}

	if ret.RedirectURI != "" {
		location := appendQueryParam(ret.RedirectURI, "usage_points", strings.Join(ret.UsagePoints, ","))
		c.Redirect(http.StatusFound, location)
		return
	}
	c.HTML(http.StatusOK, "redirect_ok.html", gin.H{
		"UsagePoints": ret.UsagePoints,
		"JID":         ret.JID,
	})
}

// handleAuthorizeDescription renders a reusable consent page: it looks up
// the stored description, registers a fresh pending authorize request and
// offers the resulting consent link.
func (s *Server) handleAuthorizeDescription(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		s.renderError(c, http.StatusBadRequest, "The id parameter is required.", false)
		return
	}

	desc, err := s.proxy.AuthorizeDescription(id)
	if err != nil {
		if errors.Is(err, store.ErrAuthorizeDescriptionNotFound) {
			s.renderError(c, http.StatusNotFound, "No authorization description exists for this id.", false)
			return
		}
		s.logger.Error("description lookup failed", zap.String("id", id), zap.Error(err))
		s.renderError(c, http.StatusInternalServerError, err.Error(), false)
		return
	}

	redirectURI := c.Query("redirect_uri")
	duration := c.DefaultQuery("duration", "P1Y")
	environment := models.EnvironmentProduction
	if c.Query("env") == string(models.EnvironmentSandbox) {
		environment = models.EnvironmentSandbox
	}

	authorizeURI := s.proxy.RegisterAuthorizeRequest(redirectURI, duration, desc.JID, "", environment)

	c.HTML(http.StatusOK, "authorize.html", gin.H{
		"Name": desc.Name,
		// sanitized at storage time, safe to inject
		"Description":  template.HTML(desc.Description),
		"LogoURL":      desc.LogoURL,
		"JID":          desc.JID,
		"AuthorizeURI": authorizeURI,
		"Sandbox":      environment == models.EnvironmentSandbox,
	})
}

func (s *Server) renderError(c *gin.Context, status int, message string, goBack bool) {
	c.HTML(status, "redirect_error.html", gin.H{
		"Message": message,
		"GoBack":  goBack,
	})
}

// appendQueryParam adds key=value to a URL, joining with ? or & as needed
// and escaping the value properly.
func appendQueryParam(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// unparsable target, best effort join
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		return rawURL + sep + key + "=" + url.QueryEscape(value)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
