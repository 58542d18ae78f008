package login_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/billpay/internal/authtest"
	"github.com/congo-pay/billpay/internal/device"
	"github.com/congo-pay/billpay/internal/kvstore"
	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/login"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/otp"
	"github.com/congo-pay/billpay/internal/remote"
	"github.com/congo-pay/billpay/internal/session"
	"github.com/congo-pay/billpay/internal/signup"
	"github.com/congo-pay/billpay/internal/stepup"
	"github.com/congo-pay/billpay/internal/trust"
)

const (
	phone    = "08011112222"
	loginPIN = "123456"
)

type stubSource struct{}

func (stubSource) Platform() (string, error)  { return "android", nil }
func (stubSource) OSVersion() (string, error) { return "14", nil }
func (stubSource) ModelName() (string, error) { return "Pixel 8", nil }
func (stubSource) Brand() (string, error)     { return "", errors.New("unreadable") }

type brokenWrites struct{ kvstore.Store }

func (brokenWrites) SetMany(context.Context, map[string]string) error {
	return errors.New("storage unavailable")
}

type harness struct {
	srv      *authtest.Server
	sessions *session.Repository
	trust    *trust.Store
	devices  *device.Provider
	events   *notification.Recorder
	stepup   *stepup.Service
	machine  *login.Machine
}

func newHarness(t *testing.T, kv kvstore.Store) *harness {
	t.Helper()
	srv := authtest.New(t)
	client := remote.NewClient(srv.URL, remote.Options{AuthTimeout: 300 * time.Millisecond, OTPTimeout: time.Second}, logging.Discard())
	otps := otp.NewManager(client, time.Minute, logging.Discard())
	t.Cleanup(otps.Close)

	devices := device.NewProvider(kv, stubSource{}, logging.Discard())
	sessions := session.NewRepository(kv, logging.Discard())
	trusted := trust.NewStore(kv, devices, logging.Discard())
	events := &notification.Recorder{}
	steps := stepup.NewService(otps, sessions, trusted, events, logging.Discard())

	return &harness{
		srv:      srv,
		sessions: sessions,
		trust:    trusted,
		devices:  devices,
		events:   events,
		stepup:   steps,
		machine: login.NewMachine(login.Dependencies{
			Client:   client,
			Devices:  devices,
			Sessions: sessions,
			StepUp:   steps,
			Signup:   signup.NewService(client, otps, logging.Discard()),
			Notifier: events,
			Logger:   logging.Discard(),
		}),
	}
}

func loggedInReply() authtest.Reply {
	return authtest.OK(fiber.Map{"token": "tok", "user": fiber.Map{"id": "u1", "firstName": "Ada"}})
}

func (h *harness) requireNoSession(t *testing.T) {
	t.Helper()
	_, err := h.sessions.Load(context.Background())
	require.ErrorIs(t, err, session.ErrNoSession)
}

func TestMalformedInputNeverReachesNetwork(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	ctx := context.Background()

	for _, tc := range []struct{ phone, pin string }{
		{"0801111222", loginPIN},
		{"0801111222a", loginPIN},
		{phone, "12345"},
		{phone, "1234"},
		{"", ""},
	} {
		out := h.machine.Submit(ctx, tc.phone, tc.pin)
		rejected, ok := out.(login.Rejected)
		require.True(t, ok, "%+v: expected rejected, got %T", tc, out)
		_, ok = rejected.Result.(*remote.ValidationError)
		assert.True(t, ok)
		assert.Equal(t, login.Idle, h.machine.State())
	}
	assert.Equal(t, 0, h.srv.Total())
}

func TestKnownDeviceLogsIn(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	h.srv.Script("login", loggedInReply())
	ctx := context.Background()

	out := h.machine.Submit(ctx, phone, loginPIN)
	in, ok := out.(login.LoggedIn)
	require.True(t, ok, "expected logged in, got %T: %s", out, login.Message(out))
	assert.Equal(t, "u1", in.Session.User.ID)
	assert.Equal(t, login.Success, h.machine.State())

	stored, err := h.sessions.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", stored.Token)
	assert.Equal(t, phone, stored.Phone)

	deviceID, err := h.devices.GetOrCreateDeviceID(ctx)
	require.NoError(t, err)
	call := h.srv.Calls("login")[0]
	assert.Equal(t, deviceID, call.Body["deviceId"])
	info, ok := call.Body["deviceInfo"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "android", info["platform"])
	_, hasBrand := info["brand"]
	assert.False(t, hasBrand, "unreadable descriptors are left out")

	trusted, err := h.trust.IsTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, trusted, "plain login does not grant local trust")
}

func TestNewDeviceRequiresStepUp(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	h.srv.Script("login", authtest.OK(fiber.Map{"isNewDevice": true, "message": "Verify this device"}))
	h.srv.Script("verify-device-otp", loggedInReply())
	ctx := context.Background()

	out := h.machine.Submit(ctx, phone, loginPIN)
	ch, ok := out.(login.ChallengeIssued)
	require.True(t, ok, "expected challenge, got %T", out)
	assert.Equal(t, phone, ch.Phone)
	assert.Equal(t, "Verify this device", login.Message(out))
	assert.Greater(t, ch.CooldownRemaining, 0)
	assert.Equal(t, login.DeviceChallenge, h.machine.State())
	h.requireNoSession(t)

	res := h.machine.ResendDeviceCode(ctx)
	_, ok = res.(*remote.RateLimited)
	assert.True(t, ok, "resend inside cooldown must stay local, got %T", res)
	assert.Equal(t, 0, h.srv.Count("resend-device-otp"))

	_, ok = h.machine.VerifyDevice(ctx, "12345").(login.Rejected)
	assert.True(t, ok)
	assert.Equal(t, login.DeviceChallenge, h.machine.State())

	out = h.machine.VerifyDevice(ctx, "123456")
	_, ok = out.(login.LoggedIn)
	require.True(t, ok, "expected logged in, got %T", out)
	assert.Equal(t, login.Success, h.machine.State())

	trusted, err := h.trust.IsTrusted(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, trusted)

	deviceID, err := h.devices.GetOrCreateDeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, deviceID, h.srv.Calls("verify-device-otp")[0].Body["deviceId"])
	assert.Equal(t, []string{
		notification.KindDeviceChallenge,
		notification.KindSessionEstablished,
		notification.KindDeviceTrusted,
	}, h.events.Kinds())
}

func TestNewDeviceSignalOnRefusedLogin(t *testing.T) {
	replies := map[string]authtest.Reply{
		"forbidden":  {Status: http.StatusForbidden, Body: fiber.Map{"success": false, "isNewDevice": true, "message": "Verify this device"}},
		"ok_refused": {Status: http.StatusOK, Body: fiber.Map{"success": false, "isNewDevice": true, "message": "Verify this device"}},
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, kvstore.NewMemory())
			h.srv.Script("login", reply)
			h.srv.Script("verify-device-otp", loggedInReply())
			ctx := context.Background()

			out := h.machine.Submit(ctx, phone, loginPIN)
			ch, ok := out.(login.ChallengeIssued)
			require.True(t, ok, "expected challenge, got %T: %s", out, login.Message(out))
			assert.Equal(t, "Verify this device", ch.Message)
			assert.Greater(t, ch.CooldownRemaining, 0)
			assert.Equal(t, login.DeviceChallenge, h.machine.State())
			h.requireNoSession(t)

			_, ok = h.machine.VerifyDevice(ctx, "123456").(login.LoggedIn)
			require.True(t, ok)
			assert.Equal(t, login.Success, h.machine.State())
		})
	}
}

func TestWrongDeviceCodeKeepsChallenge(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	h.srv.Script("login", authtest.OK(fiber.Map{"isNewDevice": true}))
	h.srv.Script("verify-device-otp", authtest.Fail(http.StatusBadRequest, "Invalid code"))
	ctx := context.Background()

	h.machine.Submit(ctx, phone, loginPIN)
	out := h.machine.VerifyDevice(ctx, "000000")
	failure, ok := out.(login.Failure)
	require.True(t, ok, "expected failure, got %T", out)
	assert.Equal(t, "Invalid code", login.Message(failure))
	assert.Equal(t, login.DeviceChallenge, h.machine.State())
	h.requireNoSession(t)
}

func TestTimeoutFailsThenRetrySucceeds(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	h.srv.Script("login",
		authtest.Reply{Status: http.StatusOK, Body: fiber.Map{"success": true}, Delay: 800 * time.Millisecond},
		loggedInReply(),
	)
	ctx := context.Background()

	out := h.machine.Submit(ctx, phone, loginPIN)
	failure, ok := out.(login.Failure)
	require.True(t, ok, "expected failure, got %T", out)
	_, ok = failure.Result.(*remote.TimeoutError)
	assert.True(t, ok, "expected timeout, got %T", failure.Result)
	assert.True(t, failure.Retryable)
	assert.Equal(t, login.Failed, h.machine.State())
	h.requireNoSession(t)

	out = h.machine.Submit(ctx, phone, loginPIN)
	_, ok = out.(login.LoggedIn)
	assert.True(t, ok, "expected logged in, got %T", out)
}

func TestPersistFailureLeavesNoSession(t *testing.T) {
	h := newHarness(t, brokenWrites{kvstore.NewMemory()})
	h.srv.Script("login", loggedInReply())

	out := h.machine.Submit(context.Background(), phone, loginPIN)
	failure, ok := out.(login.Failure)
	require.True(t, ok, "expected failure, got %T", out)
	assert.ErrorIs(t, failure.Err, session.ErrPersist)
	assert.Equal(t, login.Failed, h.machine.State())
	h.requireNoSession(t)
}

func TestSuccessWithoutTokenIsServerError(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	h.srv.Script("login", authtest.OK(fiber.Map{"user": fiber.Map{"id": "u1"}}))

	out := h.machine.Submit(context.Background(), phone, loginPIN)
	failure, ok := out.(login.Failure)
	require.True(t, ok)
	_, ok = failure.Result.(*remote.ServerError)
	assert.True(t, ok)
	h.requireNoSession(t)
}

func TestServerRejectionIsNotRetryable(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	h.srv.Script("login", authtest.Fail(http.StatusUnauthorized, "Invalid phone or PIN"))

	out := h.machine.Submit(context.Background(), phone, loginPIN)
	failure, ok := out.(login.Failure)
	require.True(t, ok)
	assert.False(t, failure.Retryable)
	assert.Equal(t, "Invalid phone or PIN", login.Message(out))
}

func TestPhoneNotVerifiedSignals(t *testing.T) {
	replies := map[string]authtest.Reply{
		"code": {Status: http.StatusForbidden, Body: fiber.Map{"success": false, "code": "phone_not_verified", "message": "Verify your phone"}},
		"flag": {Status: http.StatusOK, Body: fiber.Map{"success": true, "phoneVerified": false}},
		"text": authtest.Fail(http.StatusForbidden, "Phone number not verified"),
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, kvstore.NewMemory())
			h.srv.Script("login", reply)

			out := h.machine.Submit(context.Background(), phone, loginPIN)
			_, ok := out.(login.PhoneNotVerified)
			require.True(t, ok, "expected phone not verified, got %T", out)
			assert.Equal(t, login.PhoneUnverified, h.machine.State())
			h.requireNoSession(t)
		})
	}
}

func TestPhoneVerificationFromLogin(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	h.srv.Script("login", authtest.Fail(http.StatusForbidden, "Phone number not verified"))
	h.srv.Script("phone-resend-otp", authtest.OK(nil))
	h.srv.Script("phone-verify-otp", authtest.OK(nil))
	ctx := context.Background()

	h.machine.Submit(ctx, phone, loginPIN)
	_, ok := h.machine.ResendRegistrationCode(ctx).(*remote.Success)
	require.True(t, ok)
	_, ok = h.machine.ResendRegistrationCode(ctx).(*remote.RateLimited)
	require.True(t, ok)
	assert.Equal(t, 1, h.srv.Count("phone-resend-otp"))

	_, ok = h.machine.VerifyPhone(ctx, "123456").(*remote.Success)
	require.True(t, ok)
	assert.Equal(t, login.Idle, h.machine.State())
}

func TestActionsOutsideTheirState(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	ctx := context.Background()

	_, ok := h.machine.VerifyDevice(ctx, "123456").(login.Rejected)
	assert.True(t, ok)
	_, ok = h.machine.ResendDeviceCode(ctx).(*remote.ValidationError)
	assert.True(t, ok)
	_, ok = h.machine.ResendRegistrationCode(ctx).(*remote.ValidationError)
	assert.True(t, ok)
	assert.Equal(t, 0, h.srv.Total())
}

func TestResetStopsCountdown(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	h.srv.Script("login", authtest.OK(fiber.Map{"isNewDevice": true}))
	h.srv.Script("resend-device-otp", authtest.OK(nil))
	ctx := context.Background()

	h.machine.Submit(ctx, phone, loginPIN)
	require.Equal(t, login.DeviceChallenge, h.machine.State())
	require.Greater(t, h.stepup.CooldownRemaining(phone), 0)

	h.machine.Reset()
	assert.Equal(t, login.Idle, h.machine.State())
	assert.Equal(t, "", h.machine.Phone())
	assert.Equal(t, 0, h.stepup.CooldownRemaining(phone))

	h.machine.Submit(ctx, phone, loginPIN)
	_, ok := h.machine.ResendDeviceCode(ctx).(*remote.RateLimited)
	assert.True(t, ok, "a fresh challenge starts its own cooldown")
}

func TestLogoutClearsSession(t *testing.T) {
	h := newHarness(t, kvstore.NewMemory())
	h.srv.Script("login", loggedInReply())
	ctx := context.Background()

	h.machine.Submit(ctx, phone, loginPIN)
	require.NoError(t, h.machine.Logout(ctx))

	h.requireNoSession(t)
	assert.Equal(t, login.Idle, h.machine.State())
	kinds := h.events.Kinds()
	assert.Equal(t, notification.KindLoggedOut, kinds[len(kinds)-1])
}
