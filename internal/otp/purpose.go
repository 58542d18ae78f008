package otp

// Purpose names what a one-time code proves.
type Purpose string

const (
	RegisterVerify Purpose = "register-verify"
	DeviceVerify   Purpose = "device-verify"
	PinReset       Purpose = "pin-reset"
)

// Endpoints used to deliver and verify codes of one purpose.
type Endpoints struct {
	Send   string
	Verify string
}

var endpoints = map[Purpose]Endpoints{
	RegisterVerify: {Send: "phone-resend-otp", Verify: "phone-verify-otp"},
	DeviceVerify:   {Send: "resend-device-otp", Verify: "verify-device-otp"},
	PinReset:       {Send: "forgot-pin", Verify: "verify-reset-code"},
}

// EndpointsFor returns the endpoints of p.
func EndpointsFor(p Purpose) (Endpoints, bool) {
	e, ok := endpoints[p]
	return e, ok
}
