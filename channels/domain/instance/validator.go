package instance

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
)

// ConfigValidator validates a config for one channel type and reports every
// violation at once.
type ConfigValidator interface {
	ChannelType() ChannelType
	Validate(cfg ChannelInstanceConfig) error
}

type WhatsAppValidator struct{}

func (WhatsAppValidator) ChannelType() ChannelType { return ChannelTypeWhatsApp }

func (WhatsAppValidator) Validate(cfg ChannelInstanceConfig) error {
	errs := validation.Errors{}
	if err := cfg.Validate(); err != nil {
		if common, ok := err.(validation.Errors); ok {
			for k, v := range common {
				errs[k] = v
			}
		} else {
			return err
		}
	}

	specific := validation.Errors{}
	if cfg.ChannelSpecific.WhatsApp == nil {
		specific["whatsapp"] = validation.Errors{"phoneNumber": validation.ErrRequired}
	} else if err := cfg.ChannelSpecific.WhatsApp.Validate(); err != nil {
		specific["whatsapp"] = err
	}
	if len(specific) > 0 {
		errs["channelSpecific"] = specific
	}

	return pkgError.FromValidation(errs.Filter())
}
