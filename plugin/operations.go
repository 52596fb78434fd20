package plugin

import (
	"context"
	"fmt"

	"github.com/falconeta/wificonnect/consent"
	"github.com/falconeta/wificonnect/wifi"
)

// Method names accepted by Invoke.
const (
	MethodGetSSID             = "getSSID"
	MethodDisconnect          = "disconnect"
	MethodConnect             = "connect"
	MethodSecureConnect       = "secureConnect"
	MethodPrefixConnect       = "prefixConnect"
	MethodSecurePrefixConnect = "securePrefixConnect"
	MethodCheckPermissions    = "checkPermissions"
	MethodRequestPermissions  = "requestPermissions"
)

type operation struct {
	name string
	// ungated operations run without consulting the gate.
	ungated bool
	// input and output are zero values used for schema generation.
	input  any
	output any
	run    func(ctx context.Context, d *Dispatcher, p Params) (Result, error)
}

type ssidOutput struct {
	Value string `json:"value"`
}

type permissionsOutput struct {
	Permissions map[string]string `json:"permissions" jsonschema:"description=Consent alias mapped to granted or denied or prompt"`
}

var operations = map[string]operation{}

func init() {
	for _, op := range []operation{
		{name: MethodGetSSID, output: ssidOutput{}, run: runGetSSID},
		{name: MethodDisconnect, run: runDisconnect},
		{name: MethodConnect, input: ssidInput{}, run: runConnect},
		{name: MethodSecureConnect, input: credentialInput{}, run: runSecureConnect},
		{name: MethodPrefixConnect, input: ssidInput{}, run: runPrefixConnect},
		{name: MethodSecurePrefixConnect, input: credentialInput{}, run: runSecureConnect},
		{name: MethodCheckPermissions, ungated: true, output: permissionsOutput{}, run: runPermissions},
		{name: MethodRequestPermissions, output: permissionsOutput{}, run: runPermissions},
	} {
		operations[op.name] = op
	}
}

// Methods lists the method names in a stable order.
func Methods() []string {
	return []string{
		MethodGetSSID,
		MethodDisconnect,
		MethodConnect,
		MethodSecureConnect,
		MethodPrefixConnect,
		MethodSecurePrefixConnect,
		MethodCheckPermissions,
		MethodRequestPermissions,
	}
}

func runGetSSID(ctx context.Context, d *Dispatcher, p Params) (Result, error) {
	ssid, err := d.backend.CurrentSSID()
	if err != nil {
		return Result{}, err
	}
	return Result{Value: &ssid}, nil
}

func runDisconnect(ctx context.Context, d *Dispatcher, p Params) (Result, error) {
	return Result{}, d.backend.Disconnect()
}

func runConnect(ctx context.Context, d *Dispatcher, p Params) (Result, error) {
	in, err := p.ssid()
	if err != nil {
		return Result{}, err
	}
	return Result{}, d.backend.Connect(in.SSID)
}

func runSecureConnect(ctx context.Context, d *Dispatcher, p Params) (Result, error) {
	in, err := p.credentials()
	if err != nil {
		return Result{}, err
	}
	return Result{}, d.backend.ConnectSecure(in.SSID, *in.Password, in.IsWEP)
}

func runPrefixConnect(ctx context.Context, d *Dispatcher, p Params) (Result, error) {
	in, err := p.ssid()
	if err != nil {
		return Result{}, err
	}
	if pc, ok := d.backend.(wifi.PrefixConnector); ok {
		return Result{}, pc.ConnectPrefix(in.SSID)
	}
	return Result{}, d.backend.Connect(in.SSID)
}

func runPermissions(ctx context.Context, d *Dispatcher, p Params) (Result, error) {
	states, err := consent.Snapshot(ctx, d.authority)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read consent states: %w", err)
	}
	return Result{Permissions: states}, nil
}
