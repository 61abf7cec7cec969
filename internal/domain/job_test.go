package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEnvelopeValidate(t *testing.T) {
	if err := (Envelope{UserID: 1}).Validate(); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("missing queue name should be malformed, got %v", err)
	}
	if err := (Envelope{Type: QueueChatGPT}).Validate(); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("missing user id should be malformed, got %v", err)
	}
	if _, err := (Envelope{Type: QueueChatGPT}).Encode(); err == nil {
		t.Fatalf("Encode must validate first")
	}
}

func TestImageJobThroughEnvelope(t *testing.T) {
	job := &ImageJob{
		JobMeta: JobMeta{Queue: QueueVariationMidjourney, UserID: 3, LeaseKey: "3:generate", EnergyCost: EnergyFromInt(15)},
		Action:  ImageActionVariation,
		ImageID: 12,
		Choice:  4,
	}
	envelope, err := NewEnvelope(job)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	body, err := envelope.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeEnvelope(body)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	parsed, err := ParseJob(decoded)
	if err != nil {
		t.Fatalf("ParseJob: %v", err)
	}
	image, ok := parsed.(*ImageJob)
	if !ok {
		t.Fatalf("expected *ImageJob, got %T", parsed)
	}
	if image.ImageID != 12 || image.Choice != 4 || image.Action != ImageActionVariation || image.LeaseKey != "3:generate" {
		t.Fatalf("unexpected job: %+v", image)
	}
	if image.EnergyCost != EnergyFromInt(15) {
		t.Fatalf("energy cost lost: %s", image.EnergyCost)
	}
}

func TestParseJobInfersKindFromQueue(t *testing.T) {
	parsed, err := ParseJob(Envelope{Type: QueueUpscaleMidjourney, UserID: 2, ImageID: 1, Choice: 1})
	if err != nil {
		t.Fatalf("ParseJob: %v", err)
	}
	image, ok := parsed.(*ImageJob)
	if !ok || image.Action != ImageActionUpscale {
		t.Fatalf("expected an upscale image job, got %#v", parsed)
	}

	text, err := ParseJob(Envelope{Type: QueueClaude, UserID: 2, Message: optionalString("hi"), Version: "claude-3-haiku"})
	if err != nil {
		t.Fatalf("ParseJob: %v", err)
	}
	if job, ok := text.(*TextJob); !ok || job.Model != "claude-3-haiku" {
		t.Fatalf("expected a text job, got %#v", text)
	}
}

func TestParseJobUnknownKind(t *testing.T) {
	_, err := ParseJob(Envelope{Type: "video", UserID: 2})
	if !errors.Is(err, ErrUnknownJobKind) {
		t.Fatalf("expected ErrUnknownJobKind, got %v", err)
	}
	if _, err := DecodeEnvelope([]byte("{oops")); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestErrorsQueueNames(t *testing.T) {
	if ErrorsQueue(QueueChatGPT) != "chatgpt_errors" || !IsErrorsQueue("chatgpt_errors") || IsErrorsQueue(QueueChatGPT) {
		t.Fatalf("unexpected errors queue naming")
	}
}

func TestEnvelopeMissingMessageFieldsAreNull(t *testing.T) {
	referral, err := NewEnvelope(&ReferralJob{
		JobMeta:       JobMeta{Queue: QueueReferral, UserID: 5},
		InvitedUserID: 6,
		Bonus:         EnergyFromInt(3),
	})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	encoded, err := referral.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(encoded), `"message":null`) || !strings.Contains(string(encoded), `"answer_message":null`) {
		t.Fatalf("expected null message fields, got %s", encoded)
	}

	var decoded Envelope
	if err := json.Unmarshal([]byte(`{"type":"chatgpt","user_id":5,"message":null,"answer_message":null}`), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	job, err := ParseJob(decoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	text := job.(*TextJob)
	if text.Message != "" || text.AnswerMessage != 0 {
		t.Fatalf("expected empty message and no placeholder, got %+v", text)
	}

	withPlaceholder, err := NewEnvelope(&TextJob{
		JobMeta: JobMeta{Queue: QueueChatGPT, UserID: 5, AnswerMessage: 12},
		Message: "hi",
	})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if withPlaceholder.AnswerMessageID() != 12 || withPlaceholder.Text() != "hi" {
		t.Fatalf("unexpected envelope: %+v", withPlaceholder)
	}
}
