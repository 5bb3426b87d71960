// Package notify emails applicants their links and recruiters new submissions.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"talencor/pkg/render"
	"talencor/services/portal/internal/events"
)

const maxDeliver = 5

// Notifier turns portal events into emails.
type Notifier struct {
	sub      events.Subscriber
	mailer   Mailer
	renderer *render.Engine
	baseURL  string
	log      zerolog.Logger

	subsMu sync.Mutex
	subs   []io.Closer
}

func NewNotifier(sub events.Subscriber, mailer Mailer, renderer *render.Engine, baseURL string, log zerolog.Logger) (*Notifier, error) {
	if sub == nil {
		return nil, errors.New("subscriber is required")
	}
	if mailer == nil {
		return nil, errors.New("mailer is required")
	}
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	return &Notifier{
		sub:      sub,
		mailer:   mailer,
		renderer: renderer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log,
	}, nil
}

// Start registers subscriptions and processes events until ctx is cancelled.
func (n *Notifier) Start(ctx context.Context) error {
	if n == nil {
		return errors.New("nil notifier")
	}

	specs := []struct {
		subject string
		durable string
		handler func(context.Context, []byte) error
	}{
		{events.SubjectLinkIssued, "notify-links", n.handleLinkIssued},
		{events.SubjectApplicationSubmitted, "notify-submissions", n.handleSubmitted},
	}

	for _, spec := range specs {
		closer, err := n.sub.Subscribe(ctx, spec.subject, spec.durable, maxDeliver, spec.handler)
		if err != nil {
			n.Close()
			return fmt.Errorf("subscribe %s: %w", spec.subject, err)
		}
		n.subsMu.Lock()
		n.subs = append(n.subs, closer)
		n.subsMu.Unlock()
	}
	return nil
}

// Close tears down active subscriptions.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}

	n.subsMu.Lock()
	defer n.subsMu.Unlock()

	var firstErr error
	for _, sub := range n.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	n.subs = nil
	return firstErr
}

func (n *Notifier) handleLinkIssued(ctx context.Context, data []byte) error {
	var evt events.LinkIssued
	if err := json.Unmarshal(data, &evt); err != nil {
		n.log.Error().Err(err).Msg("decode link issued event")
		return nil
	}
	if evt.ApplicantEmail == "" {
		return nil
	}
	return n.send(ctx, evt.ApplicantEmail, "link_issued", evt)
}

func (n *Notifier) handleSubmitted(ctx context.Context, data []byte) error {
	var evt events.ApplicationSubmitted
	if err := json.Unmarshal(data, &evt); err != nil {
		n.log.Error().Err(err).Msg("decode application submitted event")
		return nil
	}
	if evt.RecruiterEmail == "" {
		return nil
	}

	view := struct {
		events.ApplicationSubmitted
		ReviewURL string
	}{
		ApplicationSubmitted: evt,
		ReviewURL:            n.baseURL + "/applications/" + strconv.FormatUint(evt.ApplicationID, 10),
	}
	return n.send(ctx, evt.RecruiterEmail, "application_submitted", view)
}

func (n *Notifier) send(ctx context.Context, to, template string, data any) error {
	msg, err := n.renderer.RenderMessage(template, data)
	if err != nil {
		// A broken template will not fix itself on redelivery.
		n.log.Error().Err(err).Str("template", template).Msg("render email")
		return nil
	}

	if err := n.mailer.Send(ctx, Email{To: to, Subject: msg.Subject, Body: msg.Body}); err != nil {
		n.log.Warn().Err(err).Str("template", template).Msg("send email")
		return err
	}
	n.log.Info().Str("template", template).Str("to", to).Msg("email sent")
	return nil
}
