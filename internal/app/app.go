// Package app wires the auth, PIN and payment components around one store
// and one remote client.
package app

import (
	"context"
	"log/slog"

	"github.com/congo-pay/billpay/internal/config"
	"github.com/congo-pay/billpay/internal/device"
	"github.com/congo-pay/billpay/internal/kvstore"
	"github.com/congo-pay/billpay/internal/login"
	"github.com/congo-pay/billpay/internal/notification"
	"github.com/congo-pay/billpay/internal/otp"
	"github.com/congo-pay/billpay/internal/payments"
	"github.com/congo-pay/billpay/internal/pin"
	"github.com/congo-pay/billpay/internal/remote"
	"github.com/congo-pay/billpay/internal/session"
	"github.com/congo-pay/billpay/internal/signup"
	"github.com/congo-pay/billpay/internal/stepup"
	"github.com/congo-pay/billpay/internal/trust"
)

// App aggregates the wired components.
type App struct {
	Store    kvstore.Store
	Client   *remote.Client
	Devices  *device.Provider
	Trust    *trust.Store
	Sessions *session.Repository
	OTP      *otp.Manager
	StepUp   *stepup.Service
	Signup   *signup.Service
	Login    *login.Machine
	Pins     *pin.Manager
	Gate     *pin.Gate
	Payments *payments.Service

	closeStore func()
}

// Deps are the pieces Build does not create itself.
type Deps struct {
	Cfg      config.Config
	Store    kvstore.Store
	Source   device.MetadataSource
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// New opens the configured store and builds the App on top of it.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	store, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a := Build(Deps{
		Cfg:      cfg,
		Store:    store,
		Source:   device.HostSource{},
		Notifier: notification.NewLoggerNotifier(logger),
		Logger:   logger,
	})
	a.closeStore = closeStore
	return a, nil
}

// Build wires every component around d.Store.
func Build(d Deps) *App {
	client := remote.NewClient(d.Cfg.APIBaseURL, remote.Options{
		AuthTimeout: d.Cfg.AuthTimeout,
		OTPTimeout:  d.Cfg.OTPTimeout,
	}, d.Logger)

	devices := device.NewProvider(d.Store, d.Source, d.Logger)
	trusted := trust.NewStore(d.Store, devices, d.Logger)
	sessions := session.NewRepository(d.Store, d.Logger)
	otps := otp.NewManager(client, d.Cfg.OTPResendCooldown, d.Logger)
	steps := stepup.NewService(otps, sessions, trusted, d.Notifier, d.Logger)
	signups := signup.NewService(client, otps, d.Logger)
	pins := pin.NewManager(client, sessions, otps, d.Notifier, d.Logger)
	gate := pin.NewGate(pins, sessions, d.Store, d.Notifier, d.Logger)

	return &App{
		Store:    d.Store,
		Client:   client,
		Devices:  devices,
		Trust:    trusted,
		Sessions: sessions,
		OTP:      otps,
		StepUp:   steps,
		Signup:   signups,
		Login: login.NewMachine(login.Dependencies{
			Client:   client,
			Devices:  devices,
			Sessions: sessions,
			StepUp:   steps,
			Signup:   signups,
			Notifier: d.Notifier,
			Logger:   d.Logger,
		}),
		Pins:     pins,
		Gate:     gate,
		Payments: payments.NewService(client, gate, sessions, d.Notifier, d.Logger),
	}
}

// Close stops live countdowns and releases the store.
func (a *App) Close() {
	a.OTP.Close()
	if a.closeStore != nil {
		a.closeStore()
	}
}
