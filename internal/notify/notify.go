// Package notify turns templated notification requests into mail jobs and
// hands them to an outbound transport. Rendering of the message body and
// SMTP delivery happen in the mailer that consumes the jobs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"edudesk.io/internal/ids"
)

// Trigger keys understood by the mailer.
const (
	TriggerUserWelcome      = "user:welcome"
	TriggerAdminAlert       = "admin:alert"
	TriggerUserPlainWelcome = "user:plain-welcome"
	TriggerForgotPassword   = "forgot-password"
)

// ErrUnknownTrigger is returned for template keys with no registered trigger.
var ErrUnknownTrigger = errors.New("notify: unknown trigger")

// Job is one outbound message as queued for the mailer.
type Job struct {
	ID        string         `json:"id"`
	Template  string         `json:"template"`
	To        string         `json:"to"`
	Subject   string         `json:"subject"`
	Context   map[string]any `json:"context"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Transport delivers a job.
type Transport interface {
	Deliver(ctx context.Context, job Job) error
}

// Trigger describes a template: its subject line and required context keys.
type Trigger struct {
	Key      string
	Subject  string
	Required []string

	subject *template.Template
}

// DefaultTriggers returns the built-in trigger set.
func DefaultTriggers() []Trigger {
	return []Trigger{
		{Key: TriggerUserWelcome, Subject: "Welcome to EduDesk, {{.name}}", Required: []string{"name"}},
		{Key: TriggerAdminAlert, Subject: "EduDesk admin alert", Required: []string{"name"}},
		{Key: TriggerUserPlainWelcome, Subject: "Welcome to EduDesk", Required: []string{"name"}},
		{Key: TriggerForgotPassword, Subject: "Reset your EduDesk password", Required: []string{"name", "resetUrl"}},
	}
}

// Sink implements auth.Notifier on top of a Transport.
type Sink struct {
	triggers  map[string]Trigger
	transport Transport
	now       func() time.Time
}

// SinkOption configures Sink.
type SinkOption func(*Sink)

// WithTriggers replaces the trigger registry.
func WithTriggers(triggers ...Trigger) SinkOption {
	return func(s *Sink) {
		s.triggers = map[string]Trigger{}
		for _, t := range triggers {
			s.triggers[t.Key] = t
		}
	}
}

// WithClock overrides the job timestamp source.
func WithClock(fn func() time.Time) SinkOption {
	return func(s *Sink) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewSink(transport Transport, opts ...SinkOption) (*Sink, error) {
	if transport == nil {
		return nil, errors.New("notify transport is required")
	}
	s := &Sink{transport: transport, now: time.Now}
	WithTriggers(DefaultTriggers()...)(s)
	for _, opt := range opts {
		opt(s)
	}
	for key, t := range s.triggers {
		tpl, err := template.New(key).Option("missingkey=zero").Parse(t.Subject)
		if err != nil {
			return nil, fmt.Errorf("parse subject for %s: %w", key, err)
		}
		t.subject = tpl
		s.triggers[key] = t
	}
	return s, nil
}

// Keys lists the registered trigger keys.
func (s *Sink) Keys() []string {
	keys := make([]string, 0, len(s.triggers))
	for k := range s.triggers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Send renders the trigger identified by key and hands the job to the
// transport.
func (s *Sink) Send(ctx context.Context, key, to string, data map[string]any) error {
	t, ok := s.triggers[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, key)
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("notify: recipient is required")
	}
	for _, k := range t.Required {
		if _, ok := data[k]; !ok {
			return fmt.Errorf("notify: %s requires %q", key, k)
		}
	}
	var subject strings.Builder
	if err := t.subject.Execute(&subject, data); err != nil {
		return fmt.Errorf("render subject for %s: %w", key, err)
	}
	job := Job{
		ID:        ids.New(),
		Template:  key,
		To:        to,
		Subject:   subject.String(),
		Context:   data,
		CreatedAt: s.now().UTC(),
	}
	if err := s.transport.Deliver(ctx, job); err != nil {
		return fmt.Errorf("deliver %s: %w", key, err)
	}
	return nil
}
