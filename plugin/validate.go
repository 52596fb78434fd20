package plugin

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type ssidInput struct {
	SSID string `json:"ssid" validate:"required" jsonschema:"description=Network name or name prefix"`
}

type credentialInput struct {
	SSID     string  `json:"ssid" validate:"required" jsonschema:"description=Network name"`
	Password *string `json:"password" validate:"required" jsonschema:"description=Passphrase or WEP key"`
	IsWEP    bool    `json:"isWep,omitempty" jsonschema:"default=false"`
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (p Params) ssid() (ssidInput, error) {
	in := ssidInput{SSID: deref(p.SSID)}
	if err := validate.Struct(in); err != nil {
		return in, ErrSSIDMandatory
	}
	return in, nil
}

func (p Params) credentials() (credentialInput, error) {
	in := credentialInput{
		SSID:     deref(p.SSID),
		Password: p.Password,
		IsWEP:    deref(p.IsWEP),
	}
	if err := validate.Struct(in); err != nil {
		return in, ErrCredentialsMandatory
	}
	return in, nil
}
