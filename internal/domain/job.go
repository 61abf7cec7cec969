package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownJobKind    = errors.New("unknown job kind")
)

type JobKind string

const (
	JobKindText      JobKind = "text"
	JobKindAssistant JobKind = "assistant"
	JobKindImage     JobKind = "image"
	JobKindReferral  JobKind = "referral"
)

type ImageAction string

const (
	ImageActionImagine   ImageAction = "imagine"
	ImageActionReroll    ImageAction = "reroll"
	ImageActionUpscale   ImageAction = "upscale"
	ImageActionVariation ImageAction = "variation"
)

// Conventional queue names. Every queue has a sibling ErrorsQueue(name).
const (
	QueueChatGPT             = "chatgpt"
	QueueClaude              = "claude"
	QueueAssistant           = "gpt_assistant"
	QueueMidjourney          = "midjourney"
	QueueRerollMidjourney    = "refresh_midjourney"
	QueueUpscaleMidjourney   = "upscale_midjourney"
	QueueVariationMidjourney = "variation_midjourney"
	QueueReferral            = "referral"
)

const errorsQueueSuffix = "_errors"

func ErrorsQueue(name string) string {
	return name + errorsQueueSuffix
}

func IsErrorsQueue(name string) bool {
	return strings.HasSuffix(name, errorsQueueSuffix)
}

// KindForQueue maps a conventional queue name to the job kind it carries.
func KindForQueue(name string) JobKind {
	switch name {
	case QueueChatGPT, QueueClaude:
		return JobKindText
	case QueueAssistant:
		return JobKindAssistant
	case QueueMidjourney, QueueRerollMidjourney, QueueUpscaleMidjourney, QueueVariationMidjourney:
		return JobKindImage
	case QueueReferral:
		return JobKindReferral
	default:
		return ""
	}
}

func actionForQueue(name string) ImageAction {
	switch name {
	case QueueRerollMidjourney:
		return ImageActionReroll
	case QueueUpscaleMidjourney:
		return ImageActionUpscale
	case QueueVariationMidjourney:
		return ImageActionVariation
	default:
		return ImageActionImagine
	}
}

// FileRef points at a user upload (document, photo or voice note).
type FileRef struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Type string `json:"type"`
}

const (
	FileTypeDocument = "document"
	FileTypeVoice    = "voice"
	FileTypePhoto    = "photo"
)

// Envelope is the transport format placed on a queue.
type Envelope struct {
	ID             string      `json:"id"`
	Kind           JobKind     `json:"kind"`
	RetryCount     int         `json:"retry_count"`
	Type           string      `json:"type"`
	Message        *string     `json:"message"`
	AnswerMessage  *int        `json:"answer_message"`
	UserID         int64       `json:"user_id"`
	Timestamp      time.Time   `json:"timestamp"`
	Priority       int         `json:"priority"`
	Key            string      `json:"key,omitempty"`
	EnergyCost     Energy      `json:"energy_cost"`
	DialogID       int64       `json:"dialog_id,omitempty"`
	Version        string      `json:"version,omitempty"`
	File           *FileRef    `json:"file,omitempty"`
	LastMessage    string      `json:"last_message,omitempty"`
	ImageID        int64       `json:"image_id,omitempty"`
	Choice         int         `json:"choice,omitempty"`
	Action         ImageAction `json:"action,omitempty"`
	ReferralUserID int64       `json:"referral_user_id,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// Text returns the message body, empty when the envelope carries none.
func (e Envelope) Text() string {
	if e.Message == nil {
		return ""
	}
	return *e.Message
}

// AnswerMessageID returns the placeholder message id, 0 when there is none.
func (e Envelope) AnswerMessageID() int {
	if e.AnswerMessage == nil {
		return 0
	}
	return *e.AnswerMessage
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func optionalInt(value int) *int {
	if value == 0 {
		return nil
	}
	return &value
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("%w: queue name is required", ErrMalformedEnvelope)
	}
	if e.UserID <= 0 {
		return fmt.Errorf("%w: user_id is required", ErrMalformedEnvelope)
	}
	return nil
}

func DecodeEnvelope(body []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return envelope, nil
}

func (e Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return encoded, nil
}

// JobMeta carries the fields every job kind shares.
type JobMeta struct {
	ID            string
	Queue         string
	UserID        int64
	AnswerMessage int
	LeaseKey      string
	EnergyCost    Energy
	Priority      int
	RetryCount    int
	Timestamp     time.Time
}

func (m *JobMeta) Meta() *JobMeta { return m }

// Job is the typed form of an envelope. Implementations: *TextJob, *AssistantJob,
// *ImageJob, *ReferralJob.
type Job interface {
	Kind() JobKind
	Meta() *JobMeta
}

type TextJob struct {
	JobMeta
	Message     string
	DialogID    int64
	Model       string
	File        *FileRef
	LastMessage string
}

func (*TextJob) Kind() JobKind { return JobKindText }

type AssistantJob struct {
	JobMeta
	Message     string
	DialogID    int64
	AssistantID string
	File        *FileRef
}

func (*AssistantJob) Kind() JobKind { return JobKindAssistant }

// ImageJob covers a fresh generation and the derivative actions on a stored task.
// ImageID and Choice are only meaningful for derivatives.
type ImageJob struct {
	JobMeta
	Action  ImageAction
	Prompt  string
	ImageID int64
	Choice  int
	Model   string
}

func (*ImageJob) Kind() JobKind { return JobKindImage }

// ReferralJob credits Bonus to the referrer UserID after InvitedUserID joined.
type ReferralJob struct {
	JobMeta
	InvitedUserID int64
	Bonus         Energy
}

func (*ReferralJob) Kind() JobKind { return JobKindReferral }

// NewEnvelope flattens a typed job into its wire form. RetryCount and Timestamp
// are left for the publisher to stamp.
func NewEnvelope(job Job) (Envelope, error) {
	if job == nil {
		return Envelope{}, fmt.Errorf("%w: nil job", ErrMalformedEnvelope)
	}
	meta := job.Meta()
	envelope := Envelope{
		ID:            meta.ID,
		Kind:          job.Kind(),
		Type:          meta.Queue,
		AnswerMessage: optionalInt(meta.AnswerMessage),
		UserID:        meta.UserID,
		Priority:      meta.Priority,
		Key:           meta.LeaseKey,
		EnergyCost:    meta.EnergyCost,
	}

	switch typed := job.(type) {
	case *TextJob:
		envelope.Message = optionalString(typed.Message)
		envelope.DialogID = typed.DialogID
		envelope.Version = typed.Model
		envelope.File = typed.File
		envelope.LastMessage = typed.LastMessage
	case *AssistantJob:
		envelope.Message = optionalString(typed.Message)
		envelope.DialogID = typed.DialogID
		envelope.Version = typed.AssistantID
		envelope.File = typed.File
	case *ImageJob:
		action := typed.Action
		if action == "" {
			action = ImageActionImagine
		}
		envelope.Action = action
		envelope.Message = optionalString(typed.Prompt)
		envelope.ImageID = typed.ImageID
		envelope.Choice = typed.Choice
		envelope.Version = typed.Model
	case *ReferralJob:
		envelope.ReferralUserID = typed.InvitedUserID
		envelope.EnergyCost = typed.Bonus
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnknownJobKind, job)
	}

	if err := envelope.Validate(); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}

// ParseJob turns an envelope back into its typed job.
func ParseJob(envelope Envelope) (Job, error) {
	if err := envelope.Validate(); err != nil {
		return nil, err
	}
	meta := JobMeta{
		ID:            envelope.ID,
		Queue:         envelope.Type,
		UserID:        envelope.UserID,
		AnswerMessage: envelope.AnswerMessageID(),
		LeaseKey:      envelope.Key,
		EnergyCost:    envelope.EnergyCost,
		Priority:      envelope.Priority,
		RetryCount:    envelope.RetryCount,
		Timestamp:     envelope.Timestamp,
	}

	kind := envelope.Kind
	if kind == "" {
		kind = KindForQueue(envelope.Type)
	}

	switch kind {
	case JobKindText:
		return &TextJob{
			JobMeta:     meta,
			Message:     envelope.Text(),
			DialogID:    envelope.DialogID,
			Model:       envelope.Version,
			File:        envelope.File,
			LastMessage: envelope.LastMessage,
		}, nil
	case JobKindAssistant:
		return &AssistantJob{
			JobMeta:     meta,
			Message:     envelope.Text(),
			DialogID:    envelope.DialogID,
			AssistantID: envelope.Version,
			File:        envelope.File,
		}, nil
	case JobKindImage:
		action := envelope.Action
		if action == "" {
			action = actionForQueue(envelope.Type)
		}
		return &ImageJob{
			JobMeta: meta,
			Action:  action,
			Prompt:  envelope.Text(),
			ImageID: envelope.ImageID,
			Choice:  envelope.Choice,
			Model:   envelope.Version,
		}, nil
	case JobKindReferral:
		return &ReferralJob{
			JobMeta:       meta,
			InvitedUserID: envelope.ReferralUserID,
			Bonus:         envelope.EnergyCost,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobKind, kind)
	}
}
