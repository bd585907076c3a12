package application

import (
	"context"
	"fmt"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/conversation"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/message"
	"github.com/sirupsen/logrus"
)

const defaultInterpretTimeout = 15 * time.Second

// MessageProcessor handles one inbound message: conversation bookkeeping,
// interpretation, escalation and the optional auto-reply.
type MessageProcessor struct {
	conversations conversation.Repository
	interpreter   message.Interpreter
	now           func() time.Time
}

func NewMessageProcessor(conversations conversation.Repository, interpreter message.Interpreter) *MessageProcessor {
	return &MessageProcessor{
		conversations: conversations,
		interpreter:   interpreter,
		now:           time.Now,
	}
}

// Process runs the pipeline for msg. svc is the channel service owning the
// instance; it is used to read the config and to send replies.
func (p *MessageProcessor) Process(ctx context.Context, svc ChannelService, msg message.IncomingMessage) (message.ProcessResult, error) {
	log := logrus.WithFields(logrus.Fields{
		"tenant_id":   msg.TenantID,
		"instance_id": msg.InstanceID,
		"chat_id":     msg.ChatID,
		"message_id":  msg.MessageID,
	})

	inst, err := svc.Get(ctx, msg.TenantID, msg.InstanceID)
	if err != nil {
		return message.ProcessResult{}, err
	}

	key := conversation.Key{TenantID: msg.TenantID, InstanceID: msg.InstanceID, RemoteJID: msg.ChatID}
	at := msg.Timestamp
	if at.IsZero() {
		at = p.now().UTC()
	}
	if _, err := p.conversations.Touch(ctx, key, msg.PushName, at); err != nil {
		return message.ProcessResult{}, fmt.Errorf("touch conversation: %w", err)
	}

	cfg := inst.Config
	result, err := p.interpret(ctx, msg, cfg.AIConfig)
	if err != nil {
		log.WithError(err).Warn("[MESSAGE] Interpretation failed")
		result = message.ProcessResult{Intent: "unknown"}
	}
	log.WithFields(logrus.Fields{
		"intent":       result.Intent,
		"confidence":   result.Confidence,
		"next_actions": result.NextActions,
	}).Info("[MESSAGE] Message interpreted")

	if result.Intent == message.IntentEscalate {
		if err := p.conversations.SetStatus(ctx, key, conversation.StatusEscalated); err != nil {
			log.WithError(err).Warn("[MESSAGE] Could not escalate conversation")
		}
	}

	if reply := p.reply(cfg, result, at, log); reply != "" && !msg.IsGroup {
		if err := svc.SendText(ctx, msg.TenantID, msg.InstanceID, msg.SenderID, reply); err != nil {
			log.WithError(err).Warn("[MESSAGE] Auto-reply failed")
		}
	}
	return result, nil
}

func (p *MessageProcessor) interpret(ctx context.Context, msg message.IncomingMessage, cfg instance.AIConfig) (message.ProcessResult, error) {
	if p.interpreter == nil || msg.Text == "" {
		return message.ProcessResult{Intent: "unknown"}, nil
	}
	timeout := defaultInterpretTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.interpreter.Interpret(ctx, msg, cfg)
}

// reply picks the text to send back: the out-of-hours notice outside the
// schedule, otherwise the interpreter's reply. Nothing without autoReply.
func (p *MessageProcessor) reply(cfg instance.ChannelInstanceConfig, result message.ProcessResult, at time.Time, log *logrus.Entry) string {
	if !cfg.AutoReply {
		return ""
	}
	open, err := cfg.BusinessHours.OpenAt(at)
	if err != nil {
		log.WithError(err).Warn("[MESSAGE] Invalid business hours, treating as open")
		open = true
	}
	if !open && cfg.BusinessHours.OutOfHoursMessage != "" {
		return cfg.BusinessHours.OutOfHoursMessage
	}
	return result.Reply
}
