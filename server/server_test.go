package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/gin-gonic/gin"

	"github.com/consometers/data-connect-proxy/dataconnect"
	"github.com/consometers/data-connect-proxy/models"
	"github.com/consometers/data-connect-proxy/proxy"
	"github.com/consometers/data-connect-proxy/store"
)

type webFixture struct {
	e      *httpexpect.Expect
	proxy  *proxy.Proxy
	stores *store.Stores
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"AT1","refresh_token":"RT1","expires_in":3600,"usage_points_id":"111,222"}`))
	}))
	t.Cleanup(upstream.Close)

	client := dataconnect.NewClient(dataconnect.Config{
		ClientID: "cid", ClientSecret: "secret", RedirectURI: "https://proxy.example.org/redirect",
		AuthorizeEndpoint: upstream.URL, APIEndpoint: upstream.URL,
	})
	stores := store.NewStores()
	p := proxy.New(client, client, stores, nil, "https://proxy.example.org", nil)

	web := httptest.NewServer(NewGinEngine(NewServer(p, nil)))
	t.Cleanup(web.Close)

	e := httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  web.URL,
		Reporter: httpexpect.NewAssertReporter(t),
		Client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	})
	return &webFixture{e: e, proxy: p, stores: stores}
}

// registerRequest registers a pending authorize request and returns its state.
func (f *webFixture) registerRequest(t *testing.T, redirectURI string) string {
	t.Helper()
	consentURL := f.proxy.RegisterAuthorizeRequest(redirectURI, "P1Y", "alice@example.org", "", models.EnvironmentProduction)
	u, err := url.Parse(consentURL)
	if err != nil {
		t.Fatalf("unparsable consent url: %v", err)
	}
	return u.Query().Get("state")
}

func TestRedirect_UnknownState(t *testing.T) {
	f := newWebFixture(t)
	f.e.GET("/redirect").
		WithQuery("code", "abc").
		WithQuery("state", "never-issued").
		Expect().
		Status(http.StatusNotFound).
		Body().Contains("not known")
}

func TestRedirect_MissingCode(t *testing.T) {
	f := newWebFixture(t)
	state := f.registerRequest(t, "")
	f.e.GET("/redirect").
		WithQuery("state", state).
		Expect().
		Status(http.StatusBadRequest).
		Body().Contains("code parameter is missing")
}

func TestRedirect_UserRefusal(t *testing.T) {
	f := newWebFixture(t)
	f.e.GET("/redirect").
		WithQuery("code", "403").
		WithQuery("error", "access_denied").
		WithQuery("error_description", "authorization_request_refused").
		Expect().
		Status(http.StatusOK).
		Body().Contains("did not authorize")
}

func TestRedirect_ProviderError(t *testing.T) {
	f := newWebFixture(t)
	f.e.GET("/redirect").
		WithQuery("code", "500").
		WithQuery("error", "server_error").
		WithQuery("error_description", "lincs-internal-server-error").
		Expect().
		Status(http.StatusOK).
		Body().Contains("server_error")
}

func TestRedirect_SuccessWithRedirectTarget(t *testing.T) {
	f := newWebFixture(t)
	state := f.registerRequest(t, "https://app.example.org/done?foo=bar")

	location := f.e.GET("/redirect").
		WithQuery("code", "abc").
		WithQuery("state", state).
		Expect().
		Status(http.StatusFound).
		Header("Location").Raw()

	u, err := url.Parse(location)
	if err != nil {
		t.Fatalf("unparsable location %q: %v", location, err)
	}
	if u.Query().Get("usage_points") != "111,222" {
		t.Errorf("usage points should be appended to the target: %s", location)
	}
	if u.Query().Get("foo") != "bar" {
		t.Errorf("existing query parameters should survive: %s", location)
	}
}

func TestRedirect_SuccessWithoutRedirectTarget(t *testing.T) {
	f := newWebFixture(t)
	state := f.registerRequest(t, "")

	f.e.GET("/redirect").
		WithQuery("code", "abc").
		WithQuery("state", state).
		Expect().
		Status(http.StatusOK).
		Body().
		Contains("111").
		Contains("222").
		Contains("alice@example.org")
}

func TestAuthorizeDescription_MissingID(t *testing.T) {
	f := newWebFixture(t)
	f.e.GET("/authorize").
		Expect().
		Status(http.StatusBadRequest)
}

func TestAuthorizeDescription_UnknownID(t *testing.T) {
	f := newWebFixture(t)
	f.e.GET("/authorize").
		WithQuery("id", "missing").
		Expect().
		Status(http.StatusNotFound)
}

func TestAuthorizeDescription_RendersConsentPage(t *testing.T) {
	f := newWebFixture(t)
	descURL := f.proxy.RegisterAuthorizeDescription("service@example.org", "Suivi conso",
		"<p>Historique de consommation</p>", "")
	u, err := url.Parse(descURL)
	if err != nil {
		t.Fatalf("unparsable description url: %v", err)
	}

	body := f.e.GET("/authorize").
		WithQuery("id", u.Query().Get("id")).
		Expect().
		Status(http.StatusOK).
		Body()
	body.Contains("Suivi conso")
	body.Contains("<p>Historique de consommation</p>")
	body.Contains("/dataconnect/v1/oauth2/authorize")
}

func TestAppendQueryParam(t *testing.T) {
	got := appendQueryParam("https://app.example.org/done", "usage_points", "111,222")
	if got != "https://app.example.org/done?usage_points=111%2C222" {
		t.Errorf("unexpected join: %q", got)
	}
	got = appendQueryParam("https://app.example.org/done?a=1", "usage_points", "111")
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("unparsable result: %v", err)
	}
	if u.Query().Get("a") != "1" || u.Query().Get("usage_points") != "111" {
		t.Errorf("parameters lost in join: %q", got)
	}
}
