// Copyright 2026 The Relaunch Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gdamore/relaunch"
)

// Client talks to a relaunchd server.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(name string, op string) string {
	if name == "" {
		return c.base + "/services"
	}
	u := c.base + "/services/" + url.PathEscape(name)
	if op != "" {
		u += "/" + op
	}
	return u
}

// do issues the request, and decodes a JSON response into v.  Error
// responses are returned as *Error.
func (c *Client) do(ctx context.Context, method string, u string, v interface{}) error {
	req, e := http.NewRequestWithContext(ctx, method, u, nil)
	if e != nil {
		return e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	req.Header.Set("Accept", mimeJson)
	resp, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer resp.Body.Close()

	body, e := io.ReadAll(resp.Body)
	if e != nil {
		return e
	}
	if resp.StatusCode != http.StatusOK {
		re := &Error{}
		if json.Unmarshal(body, re) != nil || re.Message == "" {
			re.Message = strings.TrimSpace(string(body))
		}
		re.Code = resp.StatusCode
		return re
	}
	if v == nil {
		return nil
	}
	if e := json.Unmarshal(body, v); e != nil {
		return fmt.Errorf("decoding %s: %w", u, e)
	}
	return nil
}

// Services returns the names of the services known to the server.
func (c *Client) Services(ctx context.Context) ([]string, error) {
	var v []string
	if e := c.do(ctx, "GET", c.url("", ""), &v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) GetService(ctx context.Context, name string) (*ServiceInfo, error) {
	v := &ServiceInfo{}
	if e := c.do(ctx, "GET", c.url(name, ""), v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) Restart(ctx context.Context, name string) (*relaunch.LaunchResult, error) {
	v := &relaunch.LaunchResult{}
	if e := c.do(ctx, "POST", c.url(name, "restart"), v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) signal(ctx context.Context, name string, op string) ([]relaunch.ProcessHandle, error) {
	var v []relaunch.ProcessHandle
	if e := c.do(ctx, "POST", c.url(name, op), &v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) Stop(ctx context.Context, name string) ([]relaunch.ProcessHandle, error) {
	return c.signal(ctx, name, "stop")
}

func (c *Client) Pause(ctx context.Context, name string) ([]relaunch.ProcessHandle, error) {
	return c.signal(ctx, name, "pause")
}

func (c *Client) Resume(ctx context.Context, name string) ([]relaunch.ProcessHandle, error) {
	return c.signal(ctx, name, "resume")
}

// Status returns the running processes of the named service.
func (c *Client) Status(ctx context.Context, name string) ([]relaunch.ProcessHandle, error) {
	info, e := c.GetService(ctx, name)
	if e != nil {
		return nil, e
	}
	return info.Processes, nil
}

// Log returns up to the last lines of the service's log file.  Zero asks
// for the server's default.
func (c *Client) Log(ctx context.Context, name string, lines int) ([]relaunch.LogRecord, error) {
	u := c.url(name, "log")
	if lines > 0 {
		u += "?lines=" + strconv.Itoa(lines)
	}
	var v []relaunch.LogRecord
	if e := c.do(ctx, "GET", u, &v); e != nil {
		return nil, e
	}
	return v, nil
}

// NewClient returns a client for the server at base, for example
// "http://127.0.0.1:8321".  A nil client uses http.DefaultClient.
func NewClient(client *http.Client, base string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		base:   strings.TrimSuffix(base, "/"),
		client: client,
	}
}
