package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"boneguide-go/internal/guide"
)

// ErrNotFound is returned for a 404 from the content service.
var ErrNotFound = errors.New("remote resource not found")

// maxAssetSize caps a single image download.
const maxAssetSize = 32 << 20

// Client talks to the boneguide content service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

// NewClient creates a Client. A nil httpClient uses one with timeout.
func NewClient(httpClient *http.Client, baseURL string, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		userAgent:  "boneguide-go",
	}
}

// envelope is the {messageType, data} wrapper most endpoints use.
type envelope struct {
	MessageType string          `json:"messageType"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data"`
}

func (c *Client) ListHospitals(ctx context.Context) ([]guide.Hospital, error) {
	var out []guide.Hospital
	if err := c.getJSON(ctx, "/hospitals", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetDefaultHospital(ctx context.Context) (*guide.Hospital, error) {
	var out struct {
		Hospital *guide.Hospital `json:"hospital"`
	}
	if err := c.getJSON(ctx, "/hospitals/default", &out); err != nil {
		return nil, err
	}
	return out.Hospital, nil
}

func (c *Client) GetHospital(ctx context.Context, id int64) (*guide.Hospital, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/hospitals/"+strconv.FormatInt(id, 10), &raw); err != nil {
		return nil, err
	}

	// Some deployments wrap the hospital, others return it bare.
	var wrapped struct {
		Hospital *guide.Hospital `json:"hospital"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Hospital != nil {
		return wrapped.Hospital, nil
	}
	var bare guide.Hospital
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, guide.ParseError("decoding hospital", err)
	}
	if bare.ID == 0 {
		return nil, guide.ParseError("decoding hospital", fmt.Errorf("response has no hospital"))
	}
	return &bare, nil
}

func (c *Client) GetDefaultProject(ctx context.Context, hospitalID int64) (*guide.DefaultProject, error) {
	var out *guide.DefaultProject
	err := c.getJSON(ctx, "/hospitals/"+strconv.FormatInt(hospitalID, 10)+"/default-project", &out)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if out == nil || out.ID == 0 {
		return nil, nil
	}
	out.HospitalID = hospitalID
	return out, nil
}

func (c *Client) GetHospitalTree(ctx context.Context, hospitalID int64) (*guide.HospitalTree, error) {
	var out guide.HospitalTree
	if err := c.getJSON(ctx, "/hospitals/all/"+strconv.FormatInt(hospitalID, 10), &out); err != nil {
		return nil, err
	}
	if out.Hospital.ID == 0 {
		out.Hospital.ID = hospitalID
	}
	return &out, nil
}

func (c *Client) GetCurrentVersion(ctx context.Context, hospitalID int64) (*guide.RemoteVersion, error) {
	var out struct {
		CurrentVersion *guide.RemoteVersion `json:"currentVersion"`
	}
	if err := c.getJSON(ctx, "/flow/version/"+strconv.FormatInt(hospitalID, 10), &out); err != nil {
		return nil, err
	}
	if out.CurrentVersion == nil {
		return nil, guide.ParseError("decoding version", fmt.Errorf("hospital %d has no current version", hospitalID))
	}
	return out.CurrentVersion, nil
}

// FetchAsset downloads an absolute URL.
func (c *Client) FetchAsset(ctx context.Context, url string) (*guide.Asset, error) {
	resp, err := c.send(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, url); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return nil, guide.NetworkError("reading "+url, err)
	}
	if len(data) > maxAssetSize {
		return nil, guide.NetworkError("reading "+url, fmt.Errorf("asset exceeds %d bytes", maxAssetSize))
	}
	return &guide.Asset{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

// Ping reports whether the content service answers at all.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodHead, c.baseURL+"/hospitals")
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return guide.NetworkError("ping", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.send(ctx, http.MethodGet, c.baseURL+path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, path); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return guide.NetworkError("reading "+path, err)
	}

	payload, err := unwrap(body)
	if err != nil {
		return guide.NetworkError("GET "+path, err)
	}
	if payload == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return guide.ParseError("decoding "+path, err)
	}
	return nil
}

// unwrap returns the payload of an enveloped body, or the body itself when it
// is not enveloped. A nil payload means a successful envelope without data.
func unwrap(body []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return trimmed, nil
	}
	if env.MessageType != "" && env.MessageType != "success" {
		if env.Message != "" {
			return nil, fmt.Errorf("remote reported %s: %s", env.MessageType, env.Message)
		}
		return nil, fmt.Errorf("remote reported %s", env.MessageType)
	}

	data := bytes.TrimSpace(env.Data)
	switch {
	case len(data) > 0 && !bytes.Equal(data, []byte("null")):
		return data, nil
	case env.MessageType == "success" || len(data) > 0:
		return nil, nil
	default:
		return trimmed, nil
	}
}

func (c *Client) send(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, guide.NetworkError(method+" "+url, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response, what string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound {
		return guide.NetworkError("GET "+what, ErrNotFound)
	}
	return guide.NetworkError("GET "+what, fmt.Errorf("status %d", resp.StatusCode))
}

// Compile-time check that Client implements guide.ContentAPI.
var _ guide.ContentAPI = (*Client)(nil)
