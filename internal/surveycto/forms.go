package surveycto

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
)

type Form struct {
	FormID  string `json:"form_id"`
	Title   string `json:"title"`
	Version string `json:"version"`
}

type formListXML struct {
	XMLName xml.Name `xml:"xforms"`
	XForms  []struct {
		FormID  string `xml:"formID"`
		Name    string `xml:"name"`
		Version string `xml:"version"`
	} `xml:"xform"`
}

// ListForms prefers the OpenRosa /formList endpoint (it carries titles) and
// falls back to /api/v2/forms/ids, which only yields ids.
func (c *Client) ListForms(ctx context.Context, creds Credentials) ([]Form, error) {
	forms, err := c.fetchFormList(ctx, creds)
	if err == nil && len(forms) > 0 {
		return forms, nil
	}
	if err != nil {
		// Auth and transport failures are conclusive; only fall back on
		// servers that lack or mangle the OpenRosa endpoint.
		switch err.(type) {
		case *AuthError, *ConnError, *RateLimitError:
			return nil, err
		}
		c.logger.Debug().Err(err).Msg("formList unusable, falling back to forms ids")
	}

	ids, err := c.fetchFormIDs(ctx, creds)
	if err != nil {
		return nil, err
	}
	forms = make([]Form, 0, len(ids))
	for _, id := range ids {
		forms = append(forms, Form{FormID: id, Title: id})
	}
	return forms, nil
}

func (c *Client) fetchFormList(ctx context.Context, creds Credentials) ([]Form, error) {
	endpoint := creds.NormalizedURL() + "/formList"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &MalformedError{Message: "invalid request URL: " + err.Error()}
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("X-OpenRosa-Version", "1.0")
	req.Header.Set("Accept", "text/xml, application/xml")
	req.Header.Set("User-Agent", userAgent)

	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Message: "SurveyCTO credentials are invalid or access is denied"}
	case resp.StatusCode >= 400:
		return nil, &MalformedError{Message: fmt.Sprintf("formList failed with status %d", resp.StatusCode)}
	}

	// Some servers return HTML login pages with 200; guard against non-XML.
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "xml") && !strings.HasPrefix(strings.TrimSpace(string(body)), "<") {
		return nil, &MalformedError{Message: "formList did not return XML: " + snippet(body)}
	}

	var parsed formListXML
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, &MalformedError{Message: "unable to parse formList response: " + err.Error()}
	}

	var forms []Form
	for _, xf := range parsed.XForms {
		id := strings.TrimSpace(xf.FormID)
		if id == "" {
			continue
		}
		title := strings.TrimSpace(xf.Name)
		if title == "" {
			title = id
		}
		forms = append(forms, Form{FormID: id, Title: title, Version: strings.TrimSpace(xf.Version)})
	}
	return forms, nil
}

func (c *Client) fetchFormIDs(ctx context.Context, creds Credentials) ([]string, error) {
	endpoint := creds.NormalizedURL() + "/api/v2/forms/ids"
	resp, body, err := c.get(ctx, creds, endpoint, "application/json")
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Message: "SurveyCTO credentials are invalid or access is denied"}
	case resp.StatusCode >= 400:
		return nil, &MalformedError{Message: fmt.Sprintf("forms ids request failed with status %d: %s", resp.StatusCode, snippet(body))}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "json") {
		return nil, &MalformedError{Message: fmt.Sprintf("forms ids returned non-JSON content-type %q: %s", contentType, snippet(body))}
	}

	// Accepted shapes: {"formIds": [...]} or a bare list.
	var wrapper struct {
		FormIDs []string `json:"formIds"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.FormIDs != nil {
		return trimNonEmpty(wrapper.FormIDs), nil
	}
	var list []string
	if err := json.Unmarshal(body, &list); err == nil {
		return trimNonEmpty(list), nil
	}
	return nil, &MalformedError{Message: "forms ids response missing formIds: " + snippet(body)}
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, &ConnError{Err: err}
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, nil, &ConnError{Err: err}
	}
	return resp, body, nil
}

func trimNonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
