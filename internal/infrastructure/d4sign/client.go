package d4sign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"apolice-backend/internal/pkg/apperrors"

	"github.com/rs/zerolog/log"
)

const DefaultBaseURL = "https://secure.d4sign.com.br/api/v1"

// Signer act codes used by the provider.
const (
	ActSign    = "1"
	ActApprove = "4"
)

// Signer is one entry of a createlist call.
type Signer struct {
	Email     string `json:"email"`
	Act       string `json:"act"`
	Foreign   string `json:"foreign"`
	Certified string `json:"certified,omitempty"`
}

// Field places a signature or initials box for a signer.
type Field struct {
	Page      int    `json:"page"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Type      string `json:"type"`
	KeySigner string `json:"key_signer"`
}

// Client talks to the e-signature provider. Credentials travel as tokenAPI/cryptKey query params.
type Client struct {
	BaseURL    string
	TokenAPI   string
	CryptKey   string
	SafeUUID   string
	FolderUUID string
	HTTP       *http.Client
	// DownloadRetries bounds retries of the idempotent download call.
	DownloadRetries int
	RetryDelay      time.Duration
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (c *Client) endpoint(parts ...string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	q := url.Values{}
	q.Set("tokenAPI", c.TokenAPI)
	q.Set("cryptKey", c.CryptKey)
	return base + "/" + strings.Join(parts, "/") + "?" + q.Encode()
}

// Upload sends the PDF into the configured safe/folder and returns the document uuid.
func (c *Client) Upload(ctx context.Context, name string, pdf []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", name+".pdf")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(pdf); err != nil {
		return "", err
	}
	if c.FolderUUID != "" {
		_ = w.WriteField("uuid_folder", c.FolderUUID)
	}
	_ = w.WriteField("name", name)
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("documents", c.SafeUUID, "upload"), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var out struct {
		UUID string `json:"uuid"`
	}
	if err := c.do(req, "upload", &out); err != nil {
		return "", err
	}
	if out.UUID == "" {
		return "", apperrors.External("Signature provider did not return a document uuid", nil)
	}
	return out.UUID, nil
}

// RegisterSigners posts the signer list of a document.
func (c *Client) RegisterSigners(ctx context.Context, docID string, signers []Signer) error {
	return c.postJSON(ctx, "createlist", c.endpoint("documents", docID, "createlist"), map[string]interface{}{"signers": signers}, nil)
}

// AddFields posts signature and initials placements.
func (c *Client) AddFields(ctx context.Context, docID string, fields []Field) error {
	return c.postJSON(ctx, "addField", c.endpoint("documents", docID, "addField"), map[string]interface{}{"fields": fields}, nil)
}

// AutoSign signs the document with the account's stored ICP-Brasil certificate.
func (c *Client) AutoSign(ctx context.Context, docID string) error {
	return c.postJSON(ctx, "sign", c.endpoint("documents", docID, "sign"), map[string]string{"certificadoicpbr": "1"}, nil)
}

// SendToSigner e-mails the signers.
func (c *Client) SendToSigner(ctx context.Context, docID, message string, workflow bool) error {
	wf := "0"
	if workflow {
		wf = "1"
	}
	payload := map[string]string{"workflow": wf, "message": message, "skip_email": "0"}
	return c.postJSON(ctx, "sendtosigner", c.endpoint("documents", docID, "sendtosigner"), payload, nil)
}

// Download returns the signed PDF. The provider answers either with a time-limited URL or the
// bytes themselves. Retried up to DownloadRetries times since it has no side effects.
func (c *Client) Download(ctx context.Context, docID string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.DownloadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.RetryDelay * time.Duration(attempt)):
			}
		}
		pdf, err := c.download(ctx, docID)
		if err == nil {
			return pdf, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("document_id", docID).Int("attempt", attempt+1).Msg("signed document download failed")
	}
	return nil, lastErr
}

func (c *Client) download(ctx context.Context, docID string) ([]byte, error) {
	buf, _ := json.Marshal(map[string]string{"type": "pdf", "document": "true"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("documents", docID, "download"), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, apperrors.External("Signature provider download failed", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.External(fmt.Sprintf("Signature provider download returned %d", resp.StatusCode), fmt.Errorf("%s", truncate(data)))
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "json") {
		if len(data) == 0 {
			return nil, apperrors.External("Signature provider returned an empty document", nil)
		}
		return data, nil
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.URL == "" {
		return nil, apperrors.External("Signature provider did not return a download url", err)
	}
	get, err := http.NewRequestWithContext(ctx, http.MethodGet, out.URL, nil)
	if err != nil {
		return nil, err
	}
	fileResp, err := c.httpClient().Do(get)
	if err != nil {
		return nil, apperrors.External("Signed document fetch failed", err)
	}
	defer fileResp.Body.Close()
	pdf, _ := io.ReadAll(fileResp.Body)
	if fileResp.StatusCode < 200 || fileResp.StatusCode >= 300 || len(pdf) == 0 {
		return nil, apperrors.External(fmt.Sprintf("Signed document fetch returned %d", fileResp.StatusCode), nil)
	}
	return pdf, nil
}

func (c *Client) postJSON(ctx context.Context, step, endpoint string, payload interface{}, out interface{}) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, step, out)
}

func (c *Client) do(req *http.Request, step string, out interface{}) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return apperrors.External("Signature provider "+step+" failed", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.External(fmt.Sprintf("Signature provider %s returned %d", step, resp.StatusCode), fmt.Errorf("%s", truncate(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return apperrors.External("Signature provider "+step+" returned invalid JSON", err)
		}
	}
	return nil
}

func truncate(b []byte) string {
	if len(b) > 500 {
		return string(b[:500])
	}
	return string(b)
}
