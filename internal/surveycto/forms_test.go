package surveycto

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formListBody = `<?xml version="1.0" encoding="UTF-8"?>
<xforms xmlns="http://openrosa.org/xforms/xformsList">
	<xform>
		<formID>household_survey</formID>
		<name>Household Survey</name>
		<version>12</version>
	</xform>
	<xform>
		<formID>water_quality</formID>
		<name></name>
		<version>3</version>
	</xform>
</xforms>`

func TestListFormsFromFormList(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/formList", r.URL.Path)
		assert.Equal(t, "1.0", r.Header.Get("X-OpenRosa-Version"))
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(formListBody))
	}))
	defer ts.Close()

	c := NewClient(zerolog.Nop())
	forms, err := c.ListForms(context.Background(), testCreds(ts.URL))
	require.NoError(t, err)

	require.Len(t, forms, 2)
	assert.Equal(t, Form{FormID: "household_survey", Title: "Household Survey", Version: "12"}, forms[0])
	// Missing name falls back to the form id.
	assert.Equal(t, Form{FormID: "water_quality", Title: "water_quality", Version: "3"}, forms[1])
}

func TestListFormsFallsBackToFormIDs(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/formList":
			http.NotFound(w, r)
		case "/api/v2/forms/ids":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"formIds": ["household_survey", " water_quality ", ""]}`))
		default:
			t.Errorf("unexpected request path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	c := NewClient(zerolog.Nop())
	forms, err := c.ListForms(context.Background(), testCreds(ts.URL))
	require.NoError(t, err)

	require.Len(t, forms, 2)
	assert.Equal(t, Form{FormID: "household_survey", Title: "household_survey"}, forms[0])
	assert.Equal(t, Form{FormID: "water_quality", Title: "water_quality"}, forms[1])
}

func TestListFormsFormIDsBareList(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/formList" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`["household_survey"]`))
	}))
	defer ts.Close()

	c := NewClient(zerolog.Nop())
	forms, err := c.ListForms(context.Background(), testCreds(ts.URL))
	require.NoError(t, err)
	require.Len(t, forms, 1)
	assert.Equal(t, "household_survey", forms[0].FormID)
}

func TestListFormsAuthFailureIsConclusive(t *testing.T) {
	var idsCalled bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/forms/ids" {
			idsCalled = true
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	c := NewClient(zerolog.Nop())
	_, err := c.ListForms(context.Background(), testCreds(ts.URL))

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, idsCalled, "auth failure must not trigger the fallback endpoint")
}

func TestListFormsRejectsHTMLLoginPage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/formList" {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("please sign in"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"formIds": ["household_survey"]}`))
	}))
	defer ts.Close()

	c := NewClient(zerolog.Nop())
	forms, err := c.ListForms(context.Background(), testCreds(ts.URL))
	require.NoError(t, err)
	require.Len(t, forms, 1)
	assert.Equal(t, "household_survey", forms[0].FormID)
}

func TestVerifyCredentials(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(formListBody))
	}))
	defer ts.Close()

	c := NewClient(zerolog.Nop())
	assert.NoError(t, c.VerifyCredentials(context.Background(), testCreds(ts.URL)))
}
