package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/billpay/internal/authtest"
)

func setup(t *testing.T) *authtest.Server {
	t.Helper()
	srv := authtest.New(t)
	t.Setenv("BILLPAY_API_BASE_URL", srv.URL)
	t.Setenv("STORE_BACKEND", "file")
	t.Setenv("STORE_PATH", filepath.Join(t.TempDir(), "store.json"))
	t.Setenv("LOG_LEVEL", "error")
	return srv
}

func decode(t *testing.T, out *bytes.Buffer) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(out.Bytes(), &v); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	return v
}

func TestLoginWhoamiLogout(t *testing.T) {
	srv := setup(t)
	srv.Script("login", authtest.OK(fiber.Map{"token": "tok", "user": fiber.Map{"id": "u1"}}))
	ctx := context.Background()

	var out, errOut bytes.Buffer
	if code := run(ctx, []string{"login", "-phone", "08011112222", "-pin", "123456"}, &out, &errOut); code != 0 {
		t.Fatalf("login exit %d: %s %s", code, out.String(), errOut.String())
	}
	if v := decode(t, &out); v["kind"] != "logged_in" {
		t.Fatalf("unexpected login output %v", v)
	}

	out.Reset()
	if code := run(ctx, []string{"whoami"}, &out, &errOut); code != 0 {
		t.Fatalf("whoami exit %d: %s", code, errOut.String())
	}
	data, _ := decode(t, &out)["data"].(map[string]any)
	if data["userId"] != "u1" || data["deviceTrusted"] != false {
		t.Fatalf("unexpected whoami data %v", data)
	}
	if id, _ := data["deviceId"].(string); id == "" || id != srv.Calls("login")[0].Body["deviceId"] {
		t.Fatalf("whoami device id %v does not match login", data["deviceId"])
	}
	if _, ok := data["device"].(map[string]any); !ok {
		t.Fatalf("whoami is missing the device fingerprint: %v", data)
	}

	out.Reset()
	if code := run(ctx, []string{"logout"}, &out, &errOut); code != 0 {
		t.Fatalf("logout exit %d", code)
	}
	out.Reset()
	if code := run(ctx, []string{"whoami"}, &out, &errOut); code != 1 {
		t.Fatalf("expected whoami to fail after logout, got %d", code)
	}
}

func TestDeviceVerificationAcrossInvocations(t *testing.T) {
	srv := setup(t)
	srv.Script("login", authtest.OK(fiber.Map{"isNewDevice": true}))
	srv.Script("verify-device-otp", authtest.OK(fiber.Map{"token": "tok", "user": fiber.Map{"id": "u1"}}))
	ctx := context.Background()

	var out, errOut bytes.Buffer
	run(ctx, []string{"login", "-phone", "08011112222", "-pin", "123456"}, &out, &errOut)
	if v := decode(t, &out); v["kind"] != "device_challenge" {
		t.Fatalf("expected device challenge, got %v", v)
	}

	out.Reset()
	if code := run(ctx, []string{"verify-device", "-phone", "08011112222", "-code", "123456"}, &out, &errOut); code != 0 {
		t.Fatalf("verify exit %d: %s", code, out.String())
	}
	login := srv.Calls("login")[0]
	verify := srv.Calls("verify-device-otp")[0]
	if login.Body["deviceId"] != verify.Body["deviceId"] {
		t.Fatalf("device id changed between invocations")
	}

	out.Reset()
	run(ctx, []string{"trusted"}, &out, &errOut)
	ids, _ := decode(t, &out)["data"].([]any)
	if len(ids) != 1 || ids[0] != verify.Body["deviceId"] {
		t.Fatalf("unexpected trusted set %v", ids)
	}
}

func TestUnknownCommand(t *testing.T) {
	setup(t)
	var out, errOut bytes.Buffer
	if code := run(context.Background(), []string{"frobnicate"}, &out, &errOut); code != 2 {
		t.Fatalf("expected usage exit, got %d", code)
	}
	if code := run(context.Background(), nil, &out, &errOut); code != 2 {
		t.Fatalf("expected usage exit, got %d", code)
	}
}
