package instance

import (
	"testing"

	pkgError "github.com/kinopsis/agensalud-mvp-sub003/pkg/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() ChannelInstanceConfig {
	return ChannelInstanceConfig{
		AutoReply: true,
		Webhook:   WebhookConfig{URL: "https://hooks.example.com/wa", Events: []string{"CONNECTION_UPDATE"}},
		ChannelSpecific: ChannelSpecific{
			WhatsApp: &WhatsAppSettings{PhoneNumber: "+5491122334455"},
		},
	}.WithDefaults()
}

func TestWhatsAppValidator_Valid(t *testing.T) {
	require.NoError(t, WhatsAppValidator{}.Validate(validConfig()))
}

func TestWhatsAppValidator_BadPhone(t *testing.T) {
	cfg := validConfig()
	cfg.ChannelSpecific.WhatsApp.PhoneNumber = "not-a-number"

	err := WhatsAppValidator{}.Validate(cfg)
	require.Error(t, err)

	var verr *pkgError.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Violations, "channelSpecific.whatsapp.phoneNumber")
	assert.Contains(t, err.Error(), "phoneNumber")
}

func TestWhatsAppValidator_ReportsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.ChannelSpecific.WhatsApp.PhoneNumber = "abc"
	cfg.Webhook.URL = "ftp://example.com"
	cfg.Limits.MessageRateLimit = -5
	cfg.AIConfig = AIConfig{Enabled: true, Temperature: 3, MaxTokens: 10, TimeoutSeconds: 10}
	cfg.BusinessHours = BusinessHours{Enabled: true, Timezone: "Mars/Olympus", Schedule: []DaySchedule{{Day: 1, Open: "18:00", Close: "09:00"}}}

	err := WhatsAppValidator{}.Validate(cfg)
	var verr *pkgError.ValidationError
	require.ErrorAs(t, err, &verr)

	for _, field := range []string{
		"channelSpecific.whatsapp.phoneNumber",
		"webhook.url",
		"limits.messageRateLimit",
		"aiConfig.model",
		"aiConfig.temperature",
		"businessHours.timezone",
		"businessHours.schedule.0.close",
	} {
		assert.Contains(t, verr.Violations, field)
	}
}

func TestWhatsAppValidator_MissingVariant(t *testing.T) {
	cfg := validConfig()
	cfg.ChannelSpecific.WhatsApp = nil

	var verr *pkgError.ValidationError
	require.ErrorAs(t, WhatsAppValidator{}.Validate(cfg), &verr)
	assert.Contains(t, verr.Violations, "channelSpecific.whatsapp.phoneNumber")
}

func TestWhatsAppValidator_BusinessNeedsToken(t *testing.T) {
	cfg := validConfig()
	cfg.ChannelSpecific.WhatsApp.Integration = IntegrationBusiness

	var verr *pkgError.ValidationError
	require.ErrorAs(t, WhatsAppValidator{}.Validate(cfg), &verr)
	assert.Contains(t, verr.Violations, "channelSpecific.whatsapp.gatewayToken")
	assert.Contains(t, verr.Violations, "channelSpecific.whatsapp.businessId")
}

func TestMergePatch(t *testing.T) {
	cfg := validConfig()

	merged, err := cfg.MergePatch(map[string]any{
		"autoReply": false,
		"limits":    map[string]any{"messageRateLimit": 10},
		"channelSpecific": map[string]any{
			"whatsapp": map[string]any{"rejectCalls": true},
		},
		"webhook": nil,
	})
	require.NoError(t, err)

	assert.False(t, merged.AutoReply)
	assert.Equal(t, 10, merged.Limits.MessageRateLimit)
	assert.Equal(t, 50, merged.Limits.MaxConcurrentChats, "untouched fields survive")
	assert.Equal(t, "+5491122334455", merged.ChannelSpecific.WhatsApp.PhoneNumber)
	assert.True(t, merged.ChannelSpecific.WhatsApp.RejectCalls)
	assert.Empty(t, merged.Webhook.URL)
}

func TestMergePatch_TypeMismatch(t *testing.T) {
	_, err := validConfig().MergePatch(map[string]any{"limits": "lots"})
	assert.Error(t, err)
}

func TestGatewayName(t *testing.T) {
	inst := ChannelInstance{ID: "abc-123", Config: validConfig()}
	assert.Equal(t, "abc-123", inst.GatewayName())

	inst.Config.ChannelSpecific.WhatsApp.GatewayInstanceName = "clinic_main"
	assert.Equal(t, "clinic_main", inst.GatewayName())
}
