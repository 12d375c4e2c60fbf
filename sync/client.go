package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"
	"github.com/tidwall/gjson"
)

// APIPathFormat is the fixed XMPL REST path for creating recipient ador
// values; the access token is a path component.
const APIPathFormat = "XMPieXMPL_REST_API/v1/projects/%s/adorvalues"

// Client issues the remote call that creates a recipient in the configured
// campaign. The zero value is ready to use.
type Client struct {
	// HTTPClient, when set, replaces the default client. The default uses
	// HTTPRequestTimeout.
	HTTPClient *http.Client
}

// SendResult is the observable outcome of a remote call. StatusCode and Body
// are populated whenever a response was received, including API errors, so
// callers can snapshot them for the audit log.
type SendResult struct {
	RecipientID string
	StatusCode  int
	Body        string
}

// NormalizeEndpoint returns the endpoint with exactly one trailing slash.
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimRight(endpoint, "/") + "/"
}

// RequestURL is the full URL Send will POST to for the given configuration.
func RequestURL(config Config) string {
	return NormalizeEndpoint(config.Endpoint) + fmt.Sprintf(APIPathFormat, config.AccessToken)
}

func (c Client) apiBuilder(config Config) *requests.Builder {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: HTTPRequestTimeout}
	}
	return requests.
		URL(RequestURL(config)).
		Client(httpClient)
}

// Send validates the configuration, then issues a single JSON POST with the
// recipient values. No retry, no backoff. Success requires a 2xx status and
// a body containing recipientID; any other combination is an ApiError, and
// failure to reach the API at all is a TransportFailure. An incomplete
// configuration returns ConfigurationIncomplete without any network call.
func (c Client) Send(ctx context.Context, config Config, values map[string]string) (SendResult, error) {
	var result SendResult

	if err := checkConfig(config); err != nil {
		return result, err
	}

	body := struct {
		NewRecipientValues map[string]string `json:"newRecipientValues"`
	}{NewRecipientValues: values}

	err := c.apiBuilder(config).
		BodyJSON(&body).
		AddValidator(nil).
		Handle(func(res *http.Response) error {
			result.StatusCode = res.StatusCode
			b, err := io.ReadAll(res.Body)
			if err != nil {
				return err
			}
			result.Body = string(b)
			return nil
		}).
		Fetch(ctx)
	if err != nil {
		return result, &SyncError{Kind: TransportFailure, Message: err.Error(), cause: err}
	}

	recipientID := gjson.Get(result.Body, "recipientID")
	if result.StatusCode < 200 || result.StatusCode >= 300 || !recipientID.Exists() {
		return result, &SyncError{
			Kind:       ApiError,
			Message:    fmt.Sprintf("invalid response (code: %d) or missing recipientID", result.StatusCode),
			StatusCode: result.StatusCode,
			Body:       result.Body,
		}
	}

	// recipientID is opaque to this layer, present is all we require
	result.RecipientID = recipientID.String()
	return result, nil
}

func checkConfig(config Config) error {
	var missing []string
	if config.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if config.AccessToken == "" {
		missing = append(missing, "access token")
	}
	if len(config.FieldMappings) == 0 {
		missing = append(missing, "field mappings")
	}
	if len(missing) > 0 {
		return &SyncError{
			Kind:    ConfigurationIncomplete,
			Message: "missing configuration: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
