package notify

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fleetwatch/core-go/internal/metrics"
)

type Options struct {
	Sinks       []Sink
	Push        PushSender
	Email       EmailSender
	Concurrency int
}

// Fanout routes messages to every channel. Delivery is best effort: failures
// are logged and counted, never returned as errors.
type Fanout struct {
	log         zerolog.Logger
	metrics     *metrics.Metrics
	hub         *Hub
	sinks       []Sink
	pushTokens  *Registry
	emails      *Registry
	push        PushSender
	email       EmailSender
	concurrency int
}

func NewFanout(log zerolog.Logger, m *metrics.Metrics, hub *Hub, opts Options) *Fanout {
	log = log.With().Str("component", "fanout").Logger()
	push := opts.Push
	if push == nil {
		push = LogPushSender{Log: log}
	}
	email := opts.Email
	if email == nil {
		email = LogEmailSender{Log: log}
	}
	c := opts.Concurrency
	if c <= 0 {
		c = defaultConcurrency
	}
	return &Fanout{
		log:         log,
		metrics:     m,
		hub:         hub,
		sinks:       opts.Sinks,
		pushTokens:  NewRegistry(),
		emails:      NewRegistry(),
		push:        push,
		email:       email,
		concurrency: c,
	}
}

func (f *Fanout) Hub() *Hub { return f.hub }

func (f *Fanout) PushTokens() *Registry { return f.pushTokens }

func (f *Fanout) Emails() *Registry { return f.emails }

// Subscribers is the number of connected websocket clients.
func (f *Fanout) Subscribers() int { return f.hub.Count() }

type delivery struct {
	channel string
	target  string
	send    func(ctx context.Context) error
}

func (f *Fanout) run(ctx context.Context, ds []delivery) Report {
	errs := make([]error, len(ds))
	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, d := range ds {
		g.Go(func() error {
			errs[i] = d.send(ctx)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Attempted: len(ds)}
	for i, err := range errs {
		d := ds[i]
		f.metrics.ObserveDelivery(d.channel, err == nil)
		if err == nil {
			rep.Delivered++
			continue
		}
		f.log.Warn().Err(err).Str("channel", d.channel).Str("target", d.target).Msg("notification delivery failed")
		rep.Failures = append(rep.Failures, Failure{Channel: d.channel, Target: d.target, Err: err})
	}
	return rep
}

func (f *Fanout) sinkDeliveries(msgType string, payload []byte) []delivery {
	ds := make([]delivery, 0, len(f.sinks))
	for _, s := range f.sinks {
		ds = append(ds, delivery{
			channel: s.Name(),
			target:  s.Name(),
			send: func(ctx context.Context) error {
				return s.Publish(ctx, msgType, payload)
			},
		})
	}
	return ds
}

// Publish sends msg to websocket subscribers and machine sinks. Used for
// high-frequency status traffic.
func (f *Fanout) Publish(ctx context.Context, msg Message) Report {
	payload, err := Encode(msg)
	if err != nil {
		f.log.Error().Err(err).Str("type", msg.MessageType()).Msg("failed to encode message")
		return Report{}
	}
	rep := f.hub.broadcastPayload(ctx, f.hub.snapshot(), payload)
	rep.merge(f.run(ctx, f.sinkDeliveries(msg.MessageType(), payload)))
	return rep
}

// Notify is Publish plus push and email delivery to the global subscribers
// and, when userID is set, that user's subscriptions.
func (f *Fanout) Notify(ctx context.Context, msg Message, userID *int64) Report {
	payload, err := Encode(msg)
	if err != nil {
		f.log.Error().Err(err).Str("type", msg.MessageType()).Msg("failed to encode message")
		return Report{}
	}

	rep := f.hub.broadcastPayload(ctx, f.hub.snapshot(), payload)

	ds := f.sinkDeliveries(msg.MessageType(), payload)
	for _, token := range f.pushTokens.Recipients(userID) {
		ds = append(ds, delivery{
			channel: "push",
			target:  token,
			send: func(ctx context.Context) error {
				return f.push.SendPush(ctx, token, payload)
			},
		})
	}
	subject := emailSubject(msg)
	body := string(payload)
	for _, addr := range f.emails.Recipients(userID) {
		ds = append(ds, delivery{
			channel: "email",
			target:  addr,
			send: func(ctx context.Context) error {
				return f.email.SendEmail(ctx, addr, subject, body)
			},
		})
	}
	rep.merge(f.run(ctx, ds))
	return rep
}

func emailSubject(msg Message) string {
	label := msg.MessageType()
	if a, ok := msg.(AlertEvent); ok && a.AlertType != "" {
		label = a.AlertType
	}
	return "[Monitoring] " + label
}
