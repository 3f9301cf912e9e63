// Package soapclient implements §4.8: SOAP 1.2 calls to the DIAN web
// service, grounded on the teacher's net/http-based SOAP client, extended
// with a WS-Security UsernameToken header, the GetStatusZip operation the
// teacher never implemented, and the exponential-backoff retry policy.
package soapclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tinto-dian/issuer/internal/domain"
)

const soapActionBase = "http://tempuri.org/IWcfDianCustomerServices/"

// backoffSchedule is §4.8's retry policy: at most 5 attempts overall, with
// waits of 1s, 2s, 5s and 10s between them.
var backoffSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second,
}

// Credentials is the WS-Security identity used to build the
// UsernameToken header.
type Credentials struct {
	SoftwareID  string
	SoftwarePIN string
}

// PasswordDigest computes WS-Security's password field: hex of
// SHA-256(SoftwarePIN || SoftwareID).
func (c Credentials) PasswordDigest() string {
	sum := sha256.Sum256([]byte(c.SoftwarePIN + c.SoftwareID))
	return hex.EncodeToString(sum[:])
}

// AsyncResponse is SendBillAsync's result (§4.8).
type AsyncResponse struct {
	Success      bool
	TrackID      string
	ErrorCode    string
	ErrorMessage string
}

// StatusZipResponse is GetStatusZip's result (§4.8).
type StatusZipResponse struct {
	TrackID       string
	StatusCode    string
	StatusMessage string
	ZipBase64     string
}

// Client calls the DIAN SOAP endpoint with retry/backoff and WS-Security
// authentication.
type Client struct {
	Endpoint    string
	Credentials Credentials
	HTTPClient  *http.Client
}

// New builds a Client with §4.8's timeouts: 30s connect, 60s receive.
func New(endpoint string, creds Credentials) *Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	return &Client{
		Endpoint:    endpoint,
		Credentials: creds,
		HTTPClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
	}
}

// SendBillAsync submits a ZIP and filename, retrying per §4.8's policy.
func (c *Client) SendBillAsync(ctx context.Context, filename, base64Zip string) (*AsyncResponse, error) {
	body := sendBillAsyncBody{Xmlns: "http://tempuri.org/", FileName: filename, ContentFile: base64Zip}

	var result *sendBillAsyncResult
	err := c.withRetry(ctx, "SendBillAsync", func() error {
		raw, callErr := c.doRequest(ctx, "SendBillAsync", body)
		if callErr != nil {
			return callErr
		}
		var respEnv soapResponseEnvelope
		if err := xml.Unmarshal(raw, &respEnv); err != nil {
			return nonRetryable(domain.NewUpstream(err, "soapclient: parsing SendBillAsync response"))
		}
		if respEnv.Body.Fault != nil {
			return nonRetryable(domain.NewUpstream(nil, "soapclient: SendBillAsync SOAP fault [%s]: %s",
				respEnv.Body.Fault.FaultCode, respEnv.Body.Fault.FaultString))
		}
		if respEnv.Body.SendBillResponse == nil {
			return nonRetryable(domain.NewUpstream(nil, "soapclient: SendBillAsync response missing result"))
		}
		result = &respEnv.Body.SendBillResponse.Result
		if result.ZipKey == "" {
			return nonRetryable(domain.NewUpstream(nil, "soapclient: SendBillAsync response missing track id"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &AsyncResponse{
		Success:      !result.HasErrors,
		TrackID:      result.ZipKey,
		ErrorMessage: strings.Join(result.ErrorMessageList, "; "),
	}, nil
}

// GetStatusZip polls the status of a previously submitted track id.
func (c *Client) GetStatusZip(ctx context.Context, trackID string) (*StatusZipResponse, error) {
	body := getStatusZipBody{Xmlns: "http://tempuri.org/", TrackID: trackID}

	var result *getStatusZipResult
	err := c.withRetry(ctx, "GetStatusZip", func() error {
		raw, callErr := c.doRequest(ctx, "GetStatusZip", body)
		if callErr != nil {
			return callErr
		}
		var respEnv soapResponseEnvelope
		if err := xml.Unmarshal(raw, &respEnv); err != nil {
			return nonRetryable(domain.NewUpstream(err, "soapclient: parsing GetStatusZip response"))
		}
		if respEnv.Body.Fault != nil {
			return nonRetryable(domain.NewUpstream(nil, "soapclient: GetStatusZip SOAP fault [%s]: %s",
				respEnv.Body.Fault.FaultCode, respEnv.Body.Fault.FaultString))
		}
		if respEnv.Body.StatusResponse == nil {
			return nonRetryable(domain.NewUpstream(nil, "soapclient: GetStatusZip response missing result"))
		}
		result = &respEnv.Body.StatusResponse.Result
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &StatusZipResponse{
		TrackID:       trackID,
		StatusCode:    result.StatusCode,
		StatusMessage: result.StatusMessage,
		ZipBase64:     result.ZipBase64,
	}, nil
}

// withRetry runs fn, retrying per §4.8's backoff schedule on retryable
// errors only (connection errors, HTTP 5xx).
func (c *Client) withRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) || attempt >= len(backoffSchedule) {
			return unwrapRetryable(lastErr)
		}
		select {
		case <-ctx.Done():
			return domain.NewUpstream(ctx.Err(), "soapclient: cancelled during backoff before retrying %s", operation)
		case <-time.After(backoffSchedule[attempt]):
		}
	}
}

func (c *Client) doRequest(ctx context.Context, operation string, body any) ([]byte, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, domain.NewCrypto(err, "soapclient: generating WS-Security nonce")
	}

	envelope := soapEnvelope{
		XmlnsS: "http://www.w3.org/2003/05/soap-envelope",
		XmlnsA: "http://www.w3.org/2005/08/addressing",
		Header: soapHeader{
			Security: wsSecurityHeader{
				XmlnsWsse: wsseNS,
				UsernameToken: wsUsernameToken{
					Username: c.Credentials.SoftwareID,
					Password: wsPassword{Type: wsPasswordTextType, Value: c.Credentials.PasswordDigest()},
					Nonce:    base64.StdEncoding.EncodeToString(nonce),
					Created:  time.Now().UTC().Format(time.RFC3339),
				},
			},
		},
		Body: soapBody{Content: body},
	}

	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, nonRetryable(domain.NewValidation("soapclient: marshaling envelope: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, nonRetryable(domain.NewValidation("soapclient: building request: %v", err))
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapActionBase+operation)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, retryable(domain.NewUpstream(err, "soapclient: %s request failed", operation))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, retryable(domain.NewUpstream(err, "soapclient: reading %s response", operation))
	}

	if resp.StatusCode >= 500 {
		return nil, retryable(domain.NewUpstream(nil, "soapclient: %s returned HTTP %d", operation, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, nonRetryable(domain.NewUpstream(nil, "soapclient: %s returned HTTP %d: %s", operation, resp.StatusCode, string(raw)))
	}
	return raw, nil
}

type retryableError struct{ err error }

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

func retryable(err error) error    { return &retryableError{err: err} }
func nonRetryable(err error) error { return err }

func isRetryable(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}

func unwrapRetryable(err error) error {
	if r, ok := err.(*retryableError); ok {
		return r.err
	}
	return err
}
