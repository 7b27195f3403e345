package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flashchat/internal/auth"
)

var (
	httpTimeout = 5 * time.Second
)

// apiError is a non-2xx reply from the server.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return e.Message
}

type sessionFile struct {
	Email      string `json:"email,omitempty"`
	IdentityID string `json:"identityId"`
	Token      string `json:"token"`
	Guest      bool   `json:"guest"`
}

func apiGuest(baseURL string) (auth.Grant, error) {
	var grant auth.Grant
	err := doJSONRequest(http.MethodPost, baseURL+"/auth/guest", "", nil, &grant)
	return grant, err
}

func apiSignup(baseURL, email, password string) (auth.Grant, error) {
	payload := credentialsRequest{Email: email, Password: password}
	var grant auth.Grant
	err := doJSONRequest(http.MethodPost, baseURL+"/auth/signup", "", payload, &grant)
	return grant, err
}

func apiLogin(baseURL, email, password string) (auth.Grant, error) {
	payload := credentialsRequest{Email: email, Password: password}
	var grant auth.Grant
	err := doJSONRequest(http.MethodPost, baseURL+"/auth/login", "", payload, &grant)
	return grant, err
}

func apiLogout(baseURL, token string) error {
	return doJSONRequest(http.MethodPost, baseURL+"/auth/logout", token, nil, nil)
}

func apiSearchUsers(baseURL, token, prefix string) ([]userDTO, error) {
	var resp struct {
		Users []userDTO `json:"users"`
	}
	endpoint := baseURL + "/users?prefix=" + url.QueryEscape(prefix)
	if err := doJSONRequest(http.MethodGet, endpoint, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func apiListRooms(baseURL, token string) ([]roomDTO, error) {
	var resp roomsResponse
	if err := doJSONRequest(http.MethodGet, baseURL+"/rooms", token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

func doJSONRequest(method, endpoint, token string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(buf)
	}
	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := readResponseError(resp.StatusCode, resp.Body)
		if resp.StatusCode == http.StatusUnauthorized && apiErr.Code == "unauthorized" {
			return errUnauthorized
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	// the server may send a chunked body without a length header.
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func readResponseError(status int, body io.Reader) *apiError {
	apiErr := &apiError{Status: status}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		apiErr.Message = "request failed"
		return apiErr
	}
	var parsed errorResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != "" {
		apiErr.Message = parsed.Error
		apiErr.Code = parsed.Code
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(data))
	return apiErr
}

func httpBaseFromJoinURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %s", parsed.Scheme)
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

func loadSessionFromDisk(path string) (*sessionFile, error) {
	if path == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var saved sessionFile
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, err
	}
	if saved.IdentityID == "" || saved.Token == "" {
		return nil, errors.New("session file incomplete")
	}
	return &saved, nil
}

func saveSessionToDisk(path string, saved sessionFile) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func deleteSessionFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
