// Package erp is the typed facade over the remote record-keeping backend.
// Four read/write operations per document kind, attempted exactly once each;
// failures map onto AuthError, ConflictError or TransportError.
package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "erp").Logger(),
	}
}

// Login exchanges credentials for a bearer token. The token is opaque to this
// layer and expires upstream after roughly 30 minutes.
func (c *Client) Login(ctx context.Context, usuario, password string) (LoginResult, error) {
	body, err := c.post(ctx, "", "/auth/login", map[string]string{
		"usuario":  usuario,
		"password": password,
	})
	if err != nil {
		return LoginResult{}, err
	}
	var result LoginResult
	if err := json.Unmarshal(body, &result); err != nil {
		return LoginResult{}, &TransportError{Message: "decode login response", Err: err}
	}
	return result, nil
}

// ListPending returns the documents of a kind awaiting approval.
func (c *Client) ListPending(ctx context.Context, token string, kind Kind, skip, limit int) ([]Document, error) {
	ad, err := adapterFor(kind)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	if kind == KindBudget {
		params.Set("skip", strconv.Itoa(skip))
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.get(ctx, token, ad.basePath+"/pendientes", params)
	if err != nil {
		return nil, err
	}
	return ad.decodeList(body)
}

// ListApproved returns the documents approved by usuario within the date
// range (inclusive, YYYY-MM-DD). An absent usuario means there is no identity
// to scope by yet; the list is empty by definition and no call is made.
func (c *Client) ListApproved(ctx context.Context, token string, kind Kind, usuario, fechaDesde, fechaHasta string) ([]Document, error) {
	ad, err := adapterFor(kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(usuario) == "" {
		return []Document{}, nil
	}
	params := url.Values{}
	params.Set("fecha_desde", fechaDesde)
	params.Set("fecha_hasta", fechaHasta)
	if kind == KindBudget {
		params.Set("usuario", usuario)
	}
	body, err := c.get(ctx, token, ad.basePath+"/aprobados", params)
	if err != nil {
		return nil, err
	}
	return ad.decodeList(body)
}

// Indicators returns the backend aggregate counts for a kind.
func (c *Client) Indicators(ctx context.Context, token string, kind Kind) (BackendIndicators, error) {
	ad, err := adapterFor(kind)
	if err != nil {
		return BackendIndicators{}, err
	}
	body, err := c.get(ctx, token, ad.basePath+"/indicadores", nil)
	if err != nil {
		return BackendIndicators{}, err
	}
	return ad.decodeIndicators(body)
}

// Approve requests the pending→approved transition for one document.
func (c *Client) Approve(ctx context.Context, token string, kind Kind, key Key) (Receipt, error) {
	return c.mutate(ctx, token, kind, key, "/aprobar")
}

// Unapprove is the inverse transition for a currently approved document.
func (c *Client) Unapprove(ctx context.Context, token string, kind Kind, key Key) (Receipt, error) {
	return c.mutate(ctx, token, kind, key, "/desaprobar")
}

func (c *Client) mutate(ctx context.Context, token string, kind Kind, key Key, op string) (Receipt, error) {
	ad, err := adapterFor(kind)
	if err != nil {
		return Receipt{}, err
	}
	body, err := c.post(ctx, token, ad.basePath+op, ad.mutationBody(key))
	if err != nil {
		return Receipt{}, err
	}
	receipt, err := ad.decodeReceipt(body)
	if err != nil {
		return Receipt{}, &TransportError{Message: "decode mutation response", Err: err}
	}
	if receipt.Key.LocCod == 0 {
		receipt.Key.LocCod = key.LocCod
	}
	if receipt.Key.Nro == 0 {
		receipt.Key.Nro = key.Nro
	}
	return receipt, nil
}

func (c *Client) get(ctx context.Context, token, path string, params url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Message: "build request", Err: err}
	}
	return c.do(req, token)
}

func (c *Client) post(ctx context.Context, token, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Message: "encode request body", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, &TransportError{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, token)
}

func (c *Client) do(req *http.Request, token string) ([]byte, error) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("%s %s", req.Method, req.URL.Path), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Message: "read response body", Err: err}
	}
	if resp.StatusCode >= 400 {
		detail := errorDetail(body)
		c.log.Warn().
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Str("detail", detail).
			Msg("upstream request failed")
		return nil, classifyStatus(resp.StatusCode, detail)
	}
	return body, nil
}

// errorDetail pulls the human message out of an upstream error body.
func errorDetail(body []byte) string {
	var payload struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Detail != "" {
			return payload.Detail
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	trimmed := strings.TrimSpace(string(body))
	if len(trimmed) > 200 {
		trimmed = trimmed[:200]
	}
	return trimmed
}
