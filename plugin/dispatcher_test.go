package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falconeta/wificonnect/consent"
	"github.com/falconeta/wificonnect/wifi"
	"github.com/falconeta/wificonnect/wifi/mock"
)

// fakeAuthority records requests and lets tests answer them.
type fakeAuthority struct {
	mu         sync.Mutex
	states     map[consent.Consent]consent.State
	requests   []consent.Request
	replies    map[string]consent.ReplyFunc
	requestErr error
	stateErr   error
	stateReads int
}

func newFakeAuthority(granted ...consent.Consent) *fakeAuthority {
	f := &fakeAuthority{
		states:  make(map[consent.Consent]consent.State),
		replies: make(map[string]consent.ReplyFunc),
	}
	for _, c := range granted {
		f.states[c] = consent.Granted
	}
	return f
}

func allGranted() *fakeAuthority {
	return newFakeAuthority(consent.Required...)
}

func (f *fakeAuthority) State(ctx context.Context, c consent.Consent) (consent.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateReads++
	if f.stateErr != nil {
		return consent.Unknown, f.stateErr
	}
	return f.states[c], nil
}

func (f *fakeAuthority) Request(ctx context.Context, req consent.Request, reply consent.ReplyFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return f.requestErr
	}
	f.requests = append(f.requests, req)
	f.replies[req.Ticket] = reply
	return nil
}

func (f *fakeAuthority) Requests() []consent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]consent.Request(nil), f.requests...)
}

func (f *fakeAuthority) last(t *testing.T) consent.Request {
	t.Helper()
	reqs := f.Requests()
	require.NotEmpty(t, reqs, "no consent request issued")
	return reqs[len(reqs)-1]
}

// answer records the decision for the latest request and replies to it.
func (f *fakeAuthority) answer(t *testing.T, granted bool) consent.Request {
	t.Helper()
	req := f.last(t)
	f.mu.Lock()
	reply := f.replies[req.Ticket]
	delete(f.replies, req.Ticket)
	if granted {
		f.states[req.Consent] = consent.Granted
	} else {
		f.states[req.Consent] = consent.Denied
	}
	f.mu.Unlock()
	require.NotNil(t, reply, "request %s already answered", req.Ticket)
	reply(consent.Decision{Ticket: req.Ticket, Consent: req.Consent, Granted: granted})
	return req
}

type recorder struct {
	mu       sync.Mutex
	results  []Result
	errs     []error
	resolved int
	rejected int
}

func (r *recorder) settled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved + r.rejected
}

func (r *recorder) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[0]
}

func newTestCall(method string, p Params) (*Call, *recorder) {
	rec := &recorder{}
	call := NewCall(method, p, func(res Result) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.resolved++
		rec.results = append(rec.results, res)
	}, func(err error) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.rejected++
		rec.errs = append(rec.errs, err)
	})
	return call, rec
}

func testBackend() *mock.MockBackend {
	return mock.NewFromSpec(
		mock.Network{SSID: "cafe-guest", Strength: 40},
		mock.Network{SSID: "cafe-lobby", Strength: 75},
		mock.Network{SSID: "home", Passphrase: "hunter22", Strength: 60},
		mock.Network{SSID: "attic", Passphrase: "abcde", WEP: true, Strength: 20},
	)
}

func newTestDispatcher(b wifi.Backend, a consent.Authority, opts ...Option) *Dispatcher {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(b, a, opts...)
}

func TestGateRequestsFirstMissingConsent(t *testing.T) {
	auth := newFakeAuthority(consent.FineLocation, consent.ChangeWifiState)
	b := testBackend()
	d := newTestDispatcher(b, auth)

	call, rec := newTestCall(MethodConnect, SSIDParams("cafe-lobby"))
	d.Invoke(context.Background(), call)

	reqs := auth.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, consent.CoarseLocation, reqs[0].Consent)
	assert.Equal(t, MethodConnect, reqs[0].ResumeAt)
	assert.NotEmpty(t, reqs[0].Ticket)
	assert.Equal(t, 0, rec.settled())
	assert.Equal(t, 0, b.CallCount("Connect"))

	pending := d.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, reqs[0].Ticket, pending[0].Ticket)
	assert.Same(t, call, pending[0].Call)
}

func TestAllGrantedIssuesNoRequest(t *testing.T) {
	auth := allGranted()
	b := testBackend()
	b.SetActive("home")
	d := newTestDispatcher(b, auth)

	call, rec := newTestCall(MethodGetSSID, Params{})
	d.Invoke(context.Background(), call)

	assert.Empty(t, auth.Requests())
	require.Equal(t, 1, rec.resolved)
	require.NotNil(t, rec.results[0].Value)
	assert.Equal(t, "home", *rec.results[0].Value)
}

func TestGrantResumesThroughEveryConsent(t *testing.T) {
	auth := newFakeAuthority()
	b := testBackend()
	d := newTestDispatcher(b, auth)

	call, rec := newTestCall(MethodConnect, SSIDParams("cafe-guest"))
	d.Invoke(context.Background(), call)

	var order []consent.Consent
	for i := 0; i < len(consent.Required); i++ {
		require.Len(t, auth.Requests(), i+1)
		assert.Equal(t, 0, rec.settled())
		order = append(order, auth.answer(t, true).Consent)
	}

	assert.Equal(t, consent.Required, order)
	assert.Equal(t, 1, rec.resolved)
	assert.Equal(t, 1, b.CallCount("Connect"))
	assert.Empty(t, d.Pending())

	ssid, err := b.CurrentSSID()
	require.NoError(t, err)
	assert.Equal(t, "cafe-guest", ssid)
}

func TestDenialRejectsOnce(t *testing.T) {
	auth := newFakeAuthority(consent.FineLocation, consent.CoarseLocation)
	b := testBackend()
	d := newTestDispatcher(b, auth)

	call, rec := newTestCall(MethodDisconnect, Params{})
	d.Invoke(context.Background(), call)
	req := auth.answer(t, false)

	assert.Equal(t, consent.AccessWifiState, req.Consent)
	assert.Equal(t, 1, rec.rejected)
	assert.Equal(t, 0, rec.resolved)
	assert.EqualError(t, rec.err(), "Permission is required")
	assert.Equal(t, 0, b.CallCount("Disconnect"))
	assert.Len(t, auth.Requests(), 1, "denial is not retried")

	err := d.Decide(req.Ticket, true)
	assert.ErrorIs(t, err, consent.ErrUnknownTicket)
	assert.Equal(t, 1, rec.settled())
}

func TestGateRunsBeforeValidation(t *testing.T) {
	auth := newFakeAuthority()
	b := testBackend()
	d := newTestDispatcher(b, auth)

	call, rec := newTestCall(MethodConnect, Params{})
	d.Invoke(context.Background(), call)

	require.Len(t, auth.Requests(), 1)
	assert.Equal(t, 0, rec.settled(), "missing ssid must not reject before consent")

	for range consent.Required {
		auth.answer(t, true)
	}
	require.Equal(t, 1, rec.rejected)
	assert.EqualError(t, rec.err(), "SSID is mandatory")
	assert.ErrorIs(t, rec.err(), ErrMissingInput)
	assert.Equal(t, 0, b.CallCount("Connect"))
}

func TestValidation(t *testing.T) {
	empty := ""
	tests := []struct {
		name    string
		method  string
		params  Params
		wantErr string
	}{
		{"connect without ssid", MethodConnect, Params{}, "SSID is mandatory"},
		{"connect with empty ssid", MethodConnect, Params{SSID: &empty}, "SSID is mandatory"},
		{"prefixConnect without ssid", MethodPrefixConnect, Params{}, "SSID is mandatory"},
		{"secureConnect without password", MethodSecureConnect, SSIDParams("home"), "SSID and password are mandatory"},
		{"secureConnect without ssid", MethodSecureConnect, Params{Password: &empty}, "SSID and password are mandatory"},
		{"securePrefixConnect without password", MethodSecurePrefixConnect, SSIDParams("home"), "SSID and password are mandatory"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := testBackend()
			d := newTestDispatcher(b, allGranted())

			call, rec := newTestCall(tc.method, tc.params)
			d.Invoke(context.Background(), call)

			require.Equal(t, 1, rec.rejected)
			assert.EqualError(t, rec.err(), tc.wantErr)
			assert.Equal(t, 0, b.CallCount("Connect")+b.CallCount("ConnectSecure")+b.CallCount("ConnectPrefix"))
		})
	}
}

func TestSecureConnect(t *testing.T) {
	b := testBackend()
	d := newTestDispatcher(b, allGranted())

	call, rec := newTestCall(MethodSecureConnect, CredentialParams("home", "hunter22", false))
	d.Invoke(context.Background(), call)
	require.Equal(t, 1, rec.resolved)

	wep := "abcde"
	call, rec = newTestCall(MethodSecureConnect, Params{SSID: strPtr("attic"), Password: &wep})
	d.Invoke(context.Background(), call)
	require.Equal(t, 1, rec.rejected, "isWep defaults to false")
	assert.ErrorIs(t, rec.err(), wifi.ErrOperationFailed)

	call, rec = newTestCall(MethodSecurePrefixConnect, CredentialParams("attic", "abcde", true))
	d.Invoke(context.Background(), call)
	require.Equal(t, 1, rec.resolved)
	assert.Equal(t, 3, b.CallCount("ConnectSecure"))
}

func TestPrefixConnectPicksStrongest(t *testing.T) {
	b := testBackend()
	d := newTestDispatcher(b, allGranted())

	call, rec := newTestCall(MethodPrefixConnect, SSIDParams("cafe"))
	d.Invoke(context.Background(), call)

	require.Equal(t, 1, rec.resolved)
	assert.Equal(t, 1, b.CallCount("ConnectPrefix"))
	ssid, err := b.CurrentSSID()
	require.NoError(t, err)
	assert.Equal(t, "cafe-lobby", ssid)
}

// plainBackend hides the mock's ConnectPrefix.
type plainBackend struct {
	wifi.Backend
}

func TestPrefixConnectFallsBackToConnect(t *testing.T) {
	b := testBackend()
	d := newTestDispatcher(plainBackend{b}, allGranted())

	call, rec := newTestCall(MethodPrefixConnect, SSIDParams("cafe-guest"))
	d.Invoke(context.Background(), call)

	require.Equal(t, 1, rec.resolved)
	assert.Equal(t, 0, b.CallCount("ConnectPrefix"))
	assert.Equal(t, 1, b.CallCount("Connect"))
}

func TestBackendErrorsPassThrough(t *testing.T) {
	b := testBackend()
	boom := errors.New("radio on fire")
	b.SSIDError = boom
	d := newTestDispatcher(b, allGranted())

	call, rec := newTestCall(MethodGetSSID, Params{})
	d.Invoke(context.Background(), call)
	require.Equal(t, 1, rec.rejected)
	assert.Same(t, boom, rec.err())

	call, rec = newTestCall(MethodConnect, SSIDParams("nowhere"))
	d.Invoke(context.Background(), call)
	require.Equal(t, 1, rec.rejected)
	assert.ErrorIs(t, rec.err(), wifi.ErrNotFound)
}

func TestDisconnectTwiceForwardsTwice(t *testing.T) {
	b := testBackend()
	b.SetActive("home")
	d := newTestDispatcher(b, allGranted())

	for i := 0; i < 2; i++ {
		call, rec := newTestCall(MethodDisconnect, Params{})
		d.Invoke(context.Background(), call)
		require.Equal(t, 1, rec.resolved)
	}
	assert.Equal(t, 2, b.CallCount("Disconnect"))
}

func TestAlreadyDenied(t *testing.T) {
	auth := newFakeAuthority(consent.FineLocation)
	auth.requestErr = consent.ErrPermanentlyDenied
	b := testBackend()
	d := newTestDispatcher(b, auth)

	call, rec := newTestCall(MethodGetSSID, Params{})
	d.Invoke(context.Background(), call)

	require.Equal(t, 1, rec.rejected)
	assert.ErrorIs(t, rec.err(), ErrPermissionRequired)
	assert.Empty(t, d.Pending())
	assert.Equal(t, 0, b.CallCount("CurrentSSID"))
}

func TestAuthorityFailures(t *testing.T) {
	boom := errors.New("bus gone")

	auth := newFakeAuthority()
	auth.stateErr = boom
	d := newTestDispatcher(testBackend(), auth)
	call, rec := newTestCall(MethodGetSSID, Params{})
	d.Invoke(context.Background(), call)
	require.Equal(t, 1, rec.rejected)
	assert.ErrorIs(t, rec.err(), boom)

	auth = newFakeAuthority()
	auth.requestErr = boom
	d = newTestDispatcher(testBackend(), auth)
	call, rec = newTestCall(MethodGetSSID, Params{})
	d.Invoke(context.Background(), call)
	require.Equal(t, 1, rec.rejected)
	assert.ErrorIs(t, rec.err(), boom)
	assert.Empty(t, d.Pending())
}

func TestStateIsReadOnEveryEvaluation(t *testing.T) {
	auth := allGranted()
	d := newTestDispatcher(testBackend(), auth)

	for i := 0; i < 3; i++ {
		call, _ := newTestCall(MethodGetSSID, Params{})
		d.Invoke(context.Background(), call)
	}
	assert.Equal(t, 3*len(consent.Required), auth.stateReads)

	// A consent revoked between calls is requested again.
	auth.mu.Lock()
	auth.states[consent.ChangeNetworkState] = consent.Unknown
	auth.mu.Unlock()
	call, rec := newTestCall(MethodGetSSID, Params{})
	d.Invoke(context.Background(), call)
	assert.Equal(t, 0, rec.settled())
	assert.Equal(t, consent.ChangeNetworkState, auth.last(t).Consent)
}

func TestConsentTimeout(t *testing.T) {
	auth := newFakeAuthority()
	b := testBackend()
	d := newTestDispatcher(b, auth, WithConsentTimeout(20*time.Millisecond))

	call, rec := newTestCall(MethodDisconnect, Params{})
	d.Invoke(context.Background(), call)

	select {
	case <-call.Done():
	case <-time.After(time.Second):
		t.Fatal("call was not rejected after timeout")
	}
	assert.ErrorIs(t, rec.err(), ErrPermissionRequired)
	assert.Empty(t, d.Pending())

	// A late decision finds nothing to resume.
	auth.answer(t, true)
	assert.Equal(t, 1, rec.settled())
	assert.Equal(t, 0, b.CallCount("Disconnect"))
}

// slowAuthority delivers its prompt only after delay and tracks Forget calls
// for tickets it has not recorded yet.
type slowAuthority struct {
	*fakeAuthority
	delay        time.Duration
	forgotten    []string
	unrecorded   int
	settledEarly bool
	rec          *recorder
}

func (s *slowAuthority) Request(ctx context.Context, req consent.Request, reply consent.ReplyFunc) error {
	time.Sleep(s.delay)
	if s.rec != nil && s.rec.settled() > 0 {
		s.mu.Lock()
		s.settledEarly = true
		s.mu.Unlock()
	}
	return s.fakeAuthority.Request(ctx, req, reply)
}

func (s *slowAuthority) Forget(ticket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.replies[ticket]; !ok {
		s.unrecorded++
	}
	delete(s.replies, ticket)
	s.forgotten = append(s.forgotten, ticket)
}

func TestConsentTimeoutStartsAfterRequest(t *testing.T) {
	b := testBackend()
	auth := &slowAuthority{fakeAuthority: newFakeAuthority(), delay: 50 * time.Millisecond}
	d := newTestDispatcher(b, auth, WithConsentTimeout(5*time.Millisecond))

	call, rec := newTestCall(MethodDisconnect, Params{})
	auth.rec = rec
	d.Invoke(context.Background(), call)

	select {
	case <-call.Done():
	case <-time.After(time.Second):
		t.Fatal("call was not rejected after timeout")
	}
	assert.ErrorIs(t, rec.err(), ErrPermissionRequired)

	auth.mu.Lock()
	defer auth.mu.Unlock()
	assert.False(t, auth.settledEarly, "call rejected before its prompt was delivered")
	assert.Len(t, auth.forgotten, 1)
	assert.Zero(t, auth.unrecorded, "expiry forgot a ticket the authority had not recorded")
	assert.Empty(t, auth.replies)
}

func TestUnknownMethod(t *testing.T) {
	auth := newFakeAuthority()
	d := newTestDispatcher(testBackend(), auth)

	call, rec := newTestCall("scan", Params{})
	d.Invoke(context.Background(), call)

	assert.ErrorIs(t, rec.err(), ErrUnknownMethod)
	assert.Empty(t, auth.Requests())
}

func TestPermissionMethods(t *testing.T) {
	auth := newFakeAuthority(consent.FineLocation)
	d := newTestDispatcher(testBackend(), auth)

	call, rec := newTestCall(MethodCheckPermissions, Params{})
	d.Invoke(context.Background(), call)
	require.Equal(t, 1, rec.resolved)
	assert.Empty(t, auth.Requests(), "checkPermissions is not gated")
	assert.Equal(t, consent.Granted, rec.results[0].Permissions[consent.FineLocation])
	assert.Equal(t, consent.Unknown, rec.results[0].Permissions[consent.ChangeWifiState])

	call, rec = newTestCall(MethodRequestPermissions, Params{})
	d.Invoke(context.Background(), call)
	for i := 1; i < len(consent.Required); i++ {
		auth.answer(t, true)
	}
	require.Equal(t, 1, rec.resolved)
	for _, c := range consent.Required {
		assert.Equal(t, consent.Granted, rec.results[0].Permissions[c])
	}
}

func TestRelayRoundTrip(t *testing.T) {
	ledger, err := consent.NewLedger(nil)
	require.NoError(t, err)

	prompts := make(chan consent.Request, len(consent.Required))
	relay := consent.NewRelay(ledger, consent.WithPrompter(func(ctx context.Context, req consent.Request) error {
		prompts <- req
		return nil
	}))
	b := testBackend()
	b.SetActive("cafe-lobby")
	d := newTestDispatcher(b, relay)

	call, rec := newTestCall(MethodGetSSID, Params{})
	d.Invoke(context.Background(), call)

	for _, want := range consent.Required {
		req := <-prompts
		assert.Equal(t, want, req.Consent)
		require.NoError(t, d.Decide(req.Ticket, true))
	}

	require.Equal(t, 1, rec.resolved)
	assert.Equal(t, "cafe-lobby", *rec.results[0].Value)
	for _, c := range consent.Required {
		assert.Equal(t, consent.Granted, ledger.Get(c))
	}
	assert.Empty(t, relay.Pending())

	err = d.Decide("no-such-ticket", true)
	assert.ErrorIs(t, err, consent.ErrUnknownTicket)
}

func TestCallSettlesOnce(t *testing.T) {
	call, rec := newTestCall(MethodGetSSID, Params{})

	assert.True(t, call.Reject(ErrPermissionRequired))
	assert.False(t, call.Resolve(Result{}))
	assert.False(t, call.Reject(ErrPermissionRequired))
	assert.Equal(t, 1, rec.settled())

	select {
	case <-call.Done():
	default:
		t.Fatal("done not closed")
	}
}

func strPtr(s string) *string { return &s }
