package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/tidwall/gjson"

	"github.com/mihaisavezi/ai-gateway/internal/credstore"
)

// deviceConfig parameterizes an RFC 8628 device-code flow.
type deviceConfig struct {
	clientID    string
	deviceURL   string
	tokenURL    string
	scope       string
	extraParams url.Values
}

// runDeviceFlow requests a device code, shows the user code, and polls the
// token endpoint until completion, expiry, or denial. slow_down adds five
// seconds to the interval, capped at ten.
func runDeviceFlow(ctx context.Context, cfg deviceConfig) (gjson.Result, error) {
	form := url.Values{"client_id": {cfg.clientID}}
	if cfg.scope != "" {
		form.Set("scope", cfg.scope)
	}

	for k, vs := range cfg.extraParams {
		for _, v := range vs {
			form.Add(k, v)
		}
	}

	device, err := exchangeForm(ctx, cfg.deviceURL, form)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("device code request: %w", err)
	}

	userCode := device.Get("user_code").String()

	verifyURI := device.Get("verification_uri").String()
	if verifyURI == "" {
		verifyURI = device.Get("verification_uri_complete").String()
	}

	color.Cyan("Visit %s and enter code:", verifyURI)
	color.New(color.Bold).Println(userCode)
	openBrowser(verifyURI)

	interval := time.Duration(device.Get("interval").Int()) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	deadline := time.Now().Add(time.Duration(device.Get("expires_in").Int()) * time.Second)

	pollForm := url.Values{
		"client_id":   {cfg.clientID},
		"device_code": {device.Get("device_code").String()},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return gjson.Result{}, ctx.Err()
		case <-time.After(interval):
		}

		token, err := exchangeForm(ctx, cfg.tokenURL, pollForm)
		if err != nil {
			return gjson.Result{}, err
		}

		switch token.Get("error").String() {
		case "":
			if token.Get("access_token").String() != "" {
				return token, nil
			}
		case "authorization_pending":
			continue
		case "slow_down":
			interval += 5 * time.Second
			if interval > 10*time.Second {
				interval = 10 * time.Second
			}
		case "expired_token":
			return gjson.Result{}, fmt.Errorf("device code expired before authorization")
		case "access_denied":
			return gjson.Result{}, fmt.Errorf("authorization denied")
		default:
			return gjson.Result{}, fmt.Errorf("device flow failed: %s", token.Get("error").String())
		}
	}

	return gjson.Result{}, fmt.Errorf("device code expired before authorization")
}

// Qwen device flow.

const (
	qwenDeviceURL = "https://chat.qwen.ai/api/v1/oauth2/device/code"
	qwenTokenURL  = "https://chat.qwen.ai/api/v1/oauth2/token"
	qwenClientID  = "f0304373b74a44d2b584a3fb70ca9e56"
	qwenScope     = "openid profile email model.completion"
)

// LoginQwen runs the Qwen device-code flow. The token response's
// resource_url becomes the record's projectId, normalized to end in /v1.
func LoginQwen(ctx context.Context) (credstore.Record, error) {
	token, err := runDeviceFlow(ctx, deviceConfig{
		clientID:  qwenClientID,
		deviceURL: qwenDeviceURL,
		tokenURL:  qwenTokenURL,
		scope:     qwenScope,
	})
	if err != nil {
		return credstore.Record{}, err
	}

	rec := recordFromToken(token, normalizeResourceURL(token.Get("resource_url").String()))

	return rec, nil
}

func refreshQwen(ctx context.Context, rec credstore.Record) (credstore.Record, error) {
	token, err := exchangeForm(ctx, qwenTokenURL, url.Values{
		"client_id":     {qwenClientID},
		"refresh_token": {rec.Refresh},
		"grant_type":    {"refresh_token"},
	})
	if err != nil {
		return credstore.Record{}, err
	}

	next := recordFromToken(token, normalizeResourceURL(token.Get("resource_url").String()))
	if next.ProjectID == "" {
		next.ProjectID = rec.ProjectID
	}

	if next.Refresh == "" {
		next.Refresh = rec.Refresh
	}

	next.EnabledModels = rec.EnabledModels

	return next, nil
}

// normalizeResourceURL makes the Qwen resource_url a https base ending in
// /v1.
func normalizeResourceURL(resource string) string {
	if resource == "" {
		return ""
	}

	if !strings.HasPrefix(resource, "http://") && !strings.HasPrefix(resource, "https://") {
		resource = "https://" + resource
	}

	resource = strings.TrimSuffix(resource, "/")
	if !strings.HasSuffix(resource, "/v1") {
		resource += "/v1"
	}

	return resource
}
