package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/message"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const DefaultOpenAIModel = "gpt-4o-mini"

const interpretInstructions = `Classify the patient's WhatsApp message for a healthcare clinic.
Answer with a single JSON object and nothing else:
{"intent": "greeting|appointment|cancel_appointment|escalate|unknown", "confidence": 0..1, "next_actions": ["..."], "reply": "short reply in the patient's language"}
Use "escalate" when the patient asks for a human or describes an emergency.`

// OpenAIInterpreter asks a chat model to classify the message and draft a reply.
type OpenAIInterpreter struct {
	client       openai.Client
	defaultModel string
}

func NewOpenAIInterpreter(apiKey, defaultModel string, opts ...option.RequestOption) *OpenAIInterpreter {
	if defaultModel == "" {
		defaultModel = DefaultOpenAIModel
	}
	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIInterpreter{
		client:       openai.NewClient(reqOpts...),
		defaultModel: defaultModel,
	}
}

func (p *OpenAIInterpreter) Interpret(ctx context.Context, msg message.IncomingMessage, cfg instance.AIConfig) (message.ProcessResult, error) {
	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	model := cfg.Model
	if model == "" {
		model = p.defaultModel
	}

	system := interpretInstructions
	if cfg.SystemPrompt != "" {
		system = cfg.SystemPrompt + "\n\n" + interpretInstructions
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(msg.Text),
		},
		Temperature: openai.Float(cfg.Temperature),
	}
	if cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(cfg.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return message.ProcessResult{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return message.ProcessResult{}, fmt.Errorf("openai returned no choices")
	}

	content := completion.Choices[0].Message.Content
	logrus.WithFields(logrus.Fields{
		"instance_id": msg.InstanceID,
		"model":       model,
		"tokens":      completion.Usage.TotalTokens,
	}).Debug("[AI] Interpretation received")

	return parseResult(content), nil
}

// parseResult tolerates code fences and free text around the JSON object.
// A reply that is not JSON at all is kept as the reply text.
func parseResult(content string) message.ProcessResult {
	s := strings.TrimSpace(content)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	if !gjson.Valid(s) {
		return message.ProcessResult{Intent: IntentUnknown, Reply: strings.TrimSpace(content)}
	}
	res := gjson.Parse(s)
	out := message.ProcessResult{
		Intent:     strings.ToLower(res.Get("intent").String()),
		Confidence: res.Get("confidence").Float(),
		Reply:      res.Get("reply").String(),
	}
	for _, a := range res.Get("next_actions").Array() {
		out.NextActions = append(out.NextActions, a.String())
	}
	if out.Intent == "" {
		out.Intent = IntentUnknown
	}
	return out
}

// Router picks the model backed interpreter when the instance enables AI
// and a key is configured, and the keyword fallback otherwise.
type Router struct {
	model    message.Interpreter
	fallback message.Interpreter
}

func NewRouter(model message.Interpreter) *Router {
	return &Router{model: model, fallback: KeywordInterpreter{}}
}

func (r *Router) Interpret(ctx context.Context, msg message.IncomingMessage, cfg instance.AIConfig) (message.ProcessResult, error) {
	if cfg.Enabled && r.model != nil {
		res, err := r.model.Interpret(ctx, msg, cfg)
		if err == nil {
			return res, nil
		}
		logrus.WithError(err).WithField("instance_id", msg.InstanceID).Warn("[AI] Model interpretation failed, using keyword fallback")
	}
	return r.fallback.Interpret(ctx, msg, cfg)
}
