// Package authtest runs a scriptable stand-in for the remote auth and payment
// services on a loopback listener. Tests script replies per endpoint and
// inspect the calls the client made.
package authtest

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Call is one request received by the server.
type Call struct {
	Endpoint       string
	Body           map[string]any
	Authorization  string
	RequestID      string
	IdempotencyKey string

	// Replayed is set when the response came from the idempotency cache and
	// no handler ran.
	Replayed bool
}

// Reply scripts one response. Raw, when set, is sent verbatim instead of Body.
type Reply struct {
	Status int
	Body   any
	Raw    string
	Delay  time.Duration
}

// OK is a 200 reply with a success envelope merged with extra fields.
func OK(extra fiber.Map) Reply {
	body := fiber.Map{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	return Reply{Status: http.StatusOK, Body: body}
}

// Fail is a failed envelope with the given status and message.
func Fail(status int, message string) Reply {
	return Reply{Status: status, Body: fiber.Map{"success": false, "message": message}}
}

// Server is the running fake service.
type Server struct {
	URL string

	app      *fiber.App
	mu       sync.Mutex
	handlers map[string]func(Call) Reply
	calls    []Call
	replay   *replayCache
}

// New starts a server and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		URL:      "http://" + ln.Addr().String(),
		app:      fiber.New(fiber.Config{DisableStartupMessage: true}),
		handlers: make(map[string]func(Call) Reply),
	}
	s.app.Use(s.requestID)
	s.app.Use(s.idempotency)
	s.app.Post("/*", s.serve)

	go func() {
		_ = s.app.Listener(ln)
	}()
	t.Cleanup(func() {
		_ = s.app.ShutdownWithTimeout(time.Second)
	})
	return s
}

// Handle installs fn for endpoint, replacing any previous script.
func (s *Server) Handle(endpoint string, fn func(Call) Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[endpoint] = fn
}

// Script replies to endpoint with replies in order; the last one repeats.
func (s *Server) Script(endpoint string, replies ...Reply) {
	var mu sync.Mutex
	i := 0
	s.Handle(endpoint, func(Call) Reply {
		mu.Lock()
		defer mu.Unlock()
		r := replies[i]
		if i < len(replies)-1 {
			i++
		}
		return r
	})
}

// Handled returns the requests on endpoint that reached a handler, leaving
// out idempotent replays.
func (s *Server) Handled(endpoint string) int {
	n := 0
	for _, c := range s.Calls(endpoint) {
		if !c.Replayed {
			n++
		}
	}
	return n
}

// Calls returns the requests received on endpoint.
func (s *Server) Calls(endpoint string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of requests received on endpoint.
func (s *Server) Count(endpoint string) int {
	return len(s.Calls(endpoint))
}

// Total returns the number of requests received on any endpoint.
func (s *Server) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// record appends the request to the call log and returns it.
func (s *Server) record(c *fiber.Ctx, replayed bool) Call {
	call := Call{
		Endpoint:       strings.TrimPrefix(c.Path(), "/"),
		Authorization:  c.Get(fiber.HeaderAuthorization),
		RequestID:      requestIDFrom(c),
		IdempotencyKey: c.Get(idempotencyKeyHeader),
		Replayed:       replayed,
	}
	if len(c.Body()) > 0 {
		_ = json.Unmarshal(c.Body(), &call.Body)
	}
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	return call
}

func (s *Server) serve(c *fiber.Ctx) error {
	call := s.record(c, false)

	s.mu.Lock()
	fn, ok := s.handlers[call.Endpoint]
	s.mu.Unlock()

	if !ok {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"success": false, "message": "no handler for " + call.Endpoint})
	}

	reply := fn(call)
	if reply.Delay > 0 {
		time.Sleep(reply.Delay)
	}
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if reply.Raw != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlain)
		return c.Status(status).SendString(reply.Raw)
	}
	return c.Status(status).JSON(reply.Body)
}
