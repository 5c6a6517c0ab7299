package telephony

import (
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

const (
	DefaultVoice    = "Polly.Amy"
	DefaultLanguage = "en-US"

	ProcessPath = "/api/voice/process"
	WelcomePath = "/api/voice/welcome"

	ContentTypeTwiML = "application/xml"
)

const (
	scriptWelcome  = "Welcome to Storage Agent. How may I assist you today?"
	scriptGreeting = "Thank you for calling. I'm here to help you with your storage needs."
	scriptAsk      = "Please tell me what you're looking for, such as unit availability, pricing, or general information."
	scriptMenu     = "You can also press 1 for availability, 2 for pricing, or 3 for general information."
	scriptNoInput  = "I'm sorry, I didn't catch that. Could you please repeat?"
	scriptTrouble  = "I'm sorry, we're having trouble handling your call right now."
	scriptFallback = "I apologize, but we're experiencing technical difficulties. Please try your call again in a few moments."
	scriptGoodbye  = "Thank you for calling Storage Plus. Goodbye."
	scriptNotHeard = "I'm sorry, I couldn't understand the recording. Let's try again."
)

// Builder renders the TwiML documents returned from the voice webhooks.
type Builder struct {
	voice    string
	language string
}

func NewBuilder(voice string) *Builder {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = DefaultVoice
	}
	return &Builder{voice: voice, language: DefaultLanguage}
}

func (b *Builder) say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: SpeakableText(text), Voice: b.voice, Language: b.language}
}

func (b *Builder) gather(prompts ...string) *twiml.VoiceGather {
	inner := make([]twiml.Element, 0, len(prompts))
	for _, p := range prompts {
		inner = append(inner, b.say(p))
	}
	return &twiml.VoiceGather{
		Input:         "speech dtmf",
		Action:        ProcessPath,
		Method:        "POST",
		Language:      b.language,
		SpeechTimeout: "auto",
		NumDigits:     "1",
		InnerElements: inner,
	}
}

func redirectWelcome() *twiml.VoiceRedirect {
	return &twiml.VoiceRedirect{Url: WelcomePath, Method: "POST"}
}

// Welcome greets, pauses, then listens once before saying goodbye.
func (b *Builder) Welcome() (string, error) {
	return twiml.Voice([]twiml.Element{
		b.say(scriptWelcome),
		&twiml.VoicePause{Length: "1"},
		b.gather(scriptAsk, scriptMenu),
		b.say(scriptGoodbye),
		&twiml.VoiceHangup{},
	})
}

func (b *Builder) Incoming() (string, error) {
	return twiml.Voice([]twiml.Element{
		b.say(scriptGreeting),
		b.gather(scriptAsk),
		redirectWelcome(),
	})
}

// Prompt speaks the assistant reply and listens for the next turn.
func (b *Builder) Prompt(text string) (string, error) {
	return twiml.Voice([]twiml.Element{
		b.gather(text),
		redirectWelcome(),
	})
}

func (b *Builder) NoInput() (string, error) {
	return twiml.Voice([]twiml.Element{
		b.say(scriptNoInput),
		redirectWelcome(),
	})
}

// NotUnderstood answers a recording that could not be transcribed.
func (b *Builder) NotUnderstood() (string, error) {
	return twiml.Voice([]twiml.Element{
		b.say(scriptNotHeard),
		redirectWelcome(),
	})
}

func (b *Builder) Trouble() (string, error) {
	return twiml.Voice([]twiml.Element{
		b.say(scriptTrouble),
		b.say(scriptFallback),
		&twiml.VoiceHangup{},
	})
}

func (b *Builder) Fallback() (string, error) {
	return twiml.Voice([]twiml.Element{b.say(scriptFallback)})
}
