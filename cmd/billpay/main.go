package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/congo-pay/billpay/internal/app"
	"github.com/congo-pay/billpay/internal/config"
	"github.com/congo-pay/billpay/internal/logging"
	"github.com/congo-pay/billpay/internal/pin"
	"github.com/congo-pay/billpay/internal/session"
	"github.com/congo-pay/billpay/internal/uistate"
)

const usage = `usage: billpay <command> [flags]

commands:
  login          -phone -pin           log in; may start device verification
  verify-device  -phone -code          finish device verification
  resend-device  -phone                ask for another device code
  logout                               clear the stored session
  whoami                               show the stored session
  trusted                              list devices trusted for the session user
  untrust        [-device]             forget a trusted device (default: this one)
  txn-pin        [-current] -new       set or change the transaction PIN
  pay            -kind -amount -recipient [-provider] -pin
  resume         -id -pin              set the transaction PIN and finish a suspended payment
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := logging.New(stderr, cfg.LogLevel)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("build app", "error", err)
		return 1
	}
	defer a.Close()

	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := &cli{app: a, out: stdout}

	var handler func(context.Context) (any, error)
	switch cmd {
	case "login":
		phone := fs.String("phone", "", "11-digit phone number")
		loginPin := fs.String("pin", "", "6-digit login PIN")
		handler = func(ctx context.Context) (any, error) { return c.login(ctx, *phone, *loginPin), nil }
	case "verify-device":
		phone := fs.String("phone", "", "11-digit phone number")
		code := fs.String("code", "", "6-digit code")
		handler = func(ctx context.Context) (any, error) { return c.verifyDevice(ctx, *phone, *code) }
	case "resend-device":
		phone := fs.String("phone", "", "11-digit phone number")
		handler = func(ctx context.Context) (any, error) {
			return uistate.FromResult(a.StepUp.Resend(ctx, *phone)), nil
		}
	case "logout":
		handler = func(ctx context.Context) (any, error) { return c.logout(ctx) }
	case "whoami":
		handler = c.whoami
	case "trusted":
		handler = c.trusted
	case "untrust":
		deviceID := fs.String("device", "", "device id; defaults to this installation")
		handler = func(ctx context.Context) (any, error) { return c.untrust(ctx, *deviceID) }
	case "txn-pin":
		current := fs.String("current", "", "current transaction PIN, empty on first set")
		next := fs.String("new", "", "new 4-digit transaction PIN")
		handler = func(ctx context.Context) (any, error) {
			return uistate.FromResult(a.Pins.SetTransactionPin(ctx, *current, *next)), nil
		}
	case "pay":
		var req pin.PaymentRequest
		fs.StringVar(&req.Kind, "kind", "", "airtime|data|electricity|tv|betting|education")
		fs.Int64Var(&req.Amount, "amount", 0, "amount in minor units")
		fs.StringVar(&req.Recipient, "recipient", "", "phone, meter or account number")
		fs.StringVar(&req.Provider, "provider", "", "service provider")
		txnPin := fs.String("pin", "", "4-digit transaction PIN")
		handler = func(ctx context.Context) (any, error) { return c.pay(ctx, req, *txnPin) }
	case "resume":
		id := fs.String("id", "", "continuation id")
		txnPin := fs.String("pin", "", "new 4-digit transaction PIN")
		handler = func(ctx context.Context) (any, error) { return c.resume(ctx, *id, *txnPin) }
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	if err := fs.Parse(rest); err != nil {
		return 2
	}
	out, err := handler(ctx)
	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		return 1
	}
	if err := c.print(out); err != nil {
		fmt.Fprintf(stderr, "write output: %v\n", err)
		return 1
	}
	if v, ok := out.(uistate.View); ok && !v.Success {
		return 1
	}
	return 0
}

type cli struct {
	app *app.App
	out io.Writer
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) login(ctx context.Context, phone, loginPin string) uistate.View {
	return uistate.FromLogin(c.app.Login.Submit(ctx, phone, loginPin))
}

func (c *cli) verifyDevice(ctx context.Context, phone, code string) (any, error) {
	deviceID, err := c.app.Devices.GetOrCreateDeviceID(ctx)
	if err != nil {
		return nil, err
	}
	_, res, err := c.app.StepUp.Verify(ctx, phone, code, deviceID)
	if err != nil {
		return nil, err
	}
	return uistate.FromResult(res), nil
}

func (c *cli) logout(ctx context.Context) (any, error) {
	if err := c.app.Login.Logout(ctx); err != nil {
		return nil, err
	}
	return uistate.View{Success: true, Kind: "logged_out"}, nil
}

func (c *cli) whoami(ctx context.Context) (any, error) {
	sess, err := c.app.Sessions.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return uistate.View{Kind: "auth_required", Error: "Not logged in."}, nil
	}
	if err != nil {
		return nil, err
	}
	dev, err := c.app.Devices.Record(ctx)
	if err != nil {
		return nil, err
	}
	trusted, err := c.app.Trust.IsTrusted(ctx, sess.User.ID)
	if err != nil {
		return nil, err
	}
	return uistate.View{Success: true, Kind: "session", Data: map[string]any{
		"userId":           sess.User.ID,
		"phone":            sess.Phone,
		"requirePinOnOpen": sess.RequirePinOnOpen,
		"deviceId":         dev.ID,
		"device":           dev.Fingerprint,
		"deviceTrusted":    trusted,
	}}, nil
}

func (c *cli) trusted(ctx context.Context) (any, error) {
	sess, err := c.app.Sessions.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return uistate.View{Kind: "auth_required", Error: "Not logged in."}, nil
	}
	if err != nil {
		return nil, err
	}
	ids, err := c.app.Trust.ListTrusted(ctx, sess.User.ID)
	if err != nil {
		return nil, err
	}
	return uistate.View{Success: true, Kind: "trusted_devices", Data: ids}, nil
}

func (c *cli) untrust(ctx context.Context, deviceID string) (any, error) {
	sess, err := c.app.Sessions.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return uistate.View{Kind: "auth_required", Error: "Not logged in."}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := c.app.Trust.Untrust(ctx, sess.User.ID, deviceID); err != nil {
		return nil, err
	}
	return uistate.View{Success: true, Kind: "device_untrusted"}, nil
}

func (c *cli) pay(ctx context.Context, req pin.PaymentRequest, txnPin string) (any, error) {
	out, err := c.app.Payments.Initiate(ctx, req, txnPin)
	if err != nil {
		return nil, err
	}
	return uistate.FromPayment(out), nil
}

func (c *cli) resume(ctx context.Context, id, txnPin string) (any, error) {
	cont, err := c.app.Gate.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := c.app.Payments.Resume(ctx, cont, txnPin)
	if err != nil {
		return nil, err
	}
	return uistate.FromPayment(out), nil
}
