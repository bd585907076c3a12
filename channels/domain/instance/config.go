package instance

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/kinopsis/agensalud-mvp-sub003/pkg/timeutils"
)

// ChannelInstanceConfig is the per-instance configuration. ChannelSpecific is
// a tagged union: exactly the variant matching the instance's channel type
// must be set.
type ChannelInstanceConfig struct {
	AutoReply       bool            `json:"autoReply"`
	BusinessHours   BusinessHours   `json:"businessHours"`
	AIConfig        AIConfig        `json:"aiConfig"`
	Webhook         WebhookConfig   `json:"webhook"`
	Limits          Limits          `json:"limits"`
	ChannelSpecific ChannelSpecific `json:"channelSpecific"`
}

type BusinessHours struct {
	Enabled  bool          `json:"enabled"`
	Timezone string        `json:"timezone,omitempty"`
	Schedule []DaySchedule `json:"schedule,omitempty"`
	// OutOfHoursMessage is sent as auto-reply outside the schedule.
	OutOfHoursMessage string `json:"outOfHoursMessage,omitempty"`
}

type DaySchedule struct {
	Day   int    `json:"day"` // 0=Sunday ... 6=Saturday
	Open  string `json:"open"`
	Close string `json:"close"`
}

type AIConfig struct {
	Enabled        bool    `json:"enabled"`
	Model          string  `json:"model,omitempty"`
	Temperature    float64 `json:"temperature"`
	MaxTokens      int     `json:"maxTokens"`
	TimeoutSeconds int     `json:"timeoutSeconds"`
	SystemPrompt   string  `json:"systemPrompt,omitempty"`
}

type WebhookConfig struct {
	URL    string   `json:"url,omitempty"`
	Secret string   `json:"secret,omitempty"`
	Events []string `json:"events,omitempty"`
}

type Limits struct {
	MaxConcurrentChats    int `json:"maxConcurrentChats"`
	MessageRateLimit      int `json:"messageRateLimit"` // messages per minute
	SessionTimeoutMinutes int `json:"sessionTimeoutMinutes"`
}

type ChannelSpecific struct {
	WhatsApp *WhatsAppSettings `json:"whatsapp,omitempty"`
}

const (
	IntegrationBaileys  = "WHATSAPP-BAILEYS"
	IntegrationBusiness = "WHATSAPP-BUSINESS"
)

type WhatsAppSettings struct {
	PhoneNumber         string `json:"phoneNumber"`
	GatewayInstanceName string `json:"gatewayInstanceName,omitempty"`
	Integration         string `json:"integration,omitempty"`
	GatewayToken        string `json:"gatewayToken,omitempty"`
	BusinessID          string `json:"businessId,omitempty"`
	RejectCalls         bool   `json:"rejectCalls"`
}

// KnownWebhookEvents are the gateway event names a webhook may subscribe to.
var KnownWebhookEvents = []any{
	"CONNECTION_UPDATE",
	"QRCODE_UPDATED",
	"MESSAGES_UPSERT",
	"SEND_MESSAGE",
	"LOGOUT_INSTANCE",
}

var (
	phoneNumberRe  = regexp.MustCompile(`^\+?[1-9][0-9]{7,14}$`)
	clockRe        = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
	instanceNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)
)

// WithDefaults fills zero values that have a sensible default.
func (c ChannelInstanceConfig) WithDefaults() ChannelInstanceConfig {
	if c.Limits.MaxConcurrentChats == 0 {
		c.Limits.MaxConcurrentChats = 50
	}
	if c.Limits.MessageRateLimit == 0 {
		c.Limits.MessageRateLimit = 60
	}
	if c.Limits.SessionTimeoutMinutes == 0 {
		c.Limits.SessionTimeoutMinutes = 30
	}
	if c.AIConfig.Enabled {
		if c.AIConfig.MaxTokens == 0 {
			c.AIConfig.MaxTokens = 512
		}
		if c.AIConfig.TimeoutSeconds == 0 {
			c.AIConfig.TimeoutSeconds = 15
		}
	}
	if wa := c.ChannelSpecific.WhatsApp; wa != nil && wa.Integration == "" {
		copied := *wa
		copied.Integration = IntegrationBaileys
		c.ChannelSpecific.WhatsApp = &copied
	}
	return c
}

// Validate checks the channel-independent sections.
func (c ChannelInstanceConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BusinessHours),
		validation.Field(&c.AIConfig),
		validation.Field(&c.Webhook),
		validation.Field(&c.Limits),
	)
}

func (b BusinessHours) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Timezone, validation.When(b.Enabled, validation.Required), validation.By(validTimezone)),
		validation.Field(&b.Schedule, validation.When(b.Enabled, validation.Required)),
	)
}

func (d DaySchedule) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Day, validation.Min(0), validation.Max(6)),
		validation.Field(&d.Open, validation.Required, validation.Match(clockRe).Error("must be HH:MM")),
		validation.Field(&d.Close, validation.Required, validation.Match(clockRe).Error("must be HH:MM"),
			validation.By(func(any) error {
				if clockRe.MatchString(d.Open) && clockRe.MatchString(d.Close) && d.Close <= d.Open {
					return fmt.Errorf("must be later than open")
				}
				return nil
			})),
	)
}

func (a AIConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Model, validation.When(a.Enabled, validation.Required), validation.Length(0, 100)),
		validation.Field(&a.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&a.MaxTokens, validation.When(a.Enabled, validation.Min(1), validation.Max(8192))),
		validation.Field(&a.TimeoutSeconds, validation.When(a.Enabled, validation.Min(1), validation.Max(120))),
	)
}

func (w WebhookConfig) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.URL, is.URL, validation.By(httpScheme)),
		validation.Field(&w.Secret, validation.Length(0, 256)),
		validation.Field(&w.Events, validation.Each(validation.In(KnownWebhookEvents...).Error("unknown event"))),
	)
}

func (l Limits) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.MaxConcurrentChats, validation.Min(1), validation.Max(10000)),
		validation.Field(&l.MessageRateLimit, validation.Min(1), validation.Max(1000)),
		validation.Field(&l.SessionTimeoutMinutes, validation.Min(1), validation.Max(1440)),
	)
}

func (w WhatsAppSettings) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.PhoneNumber, validation.Required,
			validation.Match(phoneNumberRe).Error("must be a valid phone number (E.164 digits)")),
		validation.Field(&w.GatewayInstanceName, validation.Match(instanceNameRe).Error("must be 3-64 letters, digits, '-' or '_'")),
		validation.Field(&w.Integration, validation.In(IntegrationBaileys, IntegrationBusiness)),
		validation.Field(&w.GatewayToken, validation.When(w.Integration == IntegrationBusiness, validation.Required)),
		validation.Field(&w.BusinessID, validation.When(w.Integration == IntegrationBusiness, validation.Required)),
	)
}

func validTimezone(value any) error {
	tz, _ := value.(string)
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("unknown timezone")
	}
	return nil
}

func httpScheme(value any) error {
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	if len(raw) < 7 || (raw[:7] != "http://" && (len(raw) < 8 || raw[:8] != "https://")) {
		return fmt.Errorf("must use http or https")
	}
	return nil
}

// MergePatch applies a JSON merge patch (RFC 7386) to the config: objects are
// merged recursively, null removes a key, everything else replaces.
func (c ChannelInstanceConfig) MergePatch(patch map[string]any) (ChannelInstanceConfig, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return c, err
	}
	var base map[string]any
	if err := json.Unmarshal(raw, &base); err != nil {
		return c, err
	}
	merged := mergeObjects(base, patch)
	raw, err = json.Marshal(merged)
	if err != nil {
		return c, err
	}
	var out ChannelInstanceConfig
	if err := json.Unmarshal(raw, &out); err != nil {
		return c, fmt.Errorf("invalid config patch: %w", err)
	}
	return out, nil
}

func mergeObjects(base, patch map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(base, k)
			continue
		}
		if pv, ok := v.(map[string]any); ok {
			bv, _ := base[k].(map[string]any)
			base[k] = mergeObjects(bv, pv)
			continue
		}
		base[k] = v
	}
	return base
}

// OpenAt reports whether t falls inside the schedule. Disabled business
// hours mean always open.
func (b BusinessHours) OpenAt(t time.Time) (bool, error) {
	if !b.Enabled {
		return true, nil
	}
	windows := make([]timeutils.Window, 0, len(b.Schedule))
	for _, d := range b.Schedule {
		windows = append(windows, timeutils.Window{Day: time.Weekday(d.Day), Open: d.Open, Close: d.Close})
	}
	return timeutils.WithinWindows(t, b.Timezone, windows)
}
