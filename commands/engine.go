// Package commands drives the multi-turn command exchanges offered to
// remote JIDs over the messaging transport: request an authorization link,
// fetch a load curve, fetch daily aggregates. Each command is a two-turn
// form/submit exchange keyed by a transport-provided session handle the
// engine treats as opaque. Exchange state lives in memory only; in-flight
// exchanges are lost on restart and the caller simply retries from the
// first turn.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/consometers/data-connect-proxy/dataconnect"
	"github.com/consometers/data-connect-proxy/models"
	"github.com/consometers/data-connect-proxy/proxy"
)

// Command nodes as advertised to the transport.
const (
	NodeRequestAuthorizationLink = "request-authorization-link"
	NodeGetLoadCurve             = "get-load-curve"
	NodeGetDaily                 = "get-daily"
)

// ErrUnknownNode is returned for a command node the engine does not serve.
var ErrUnknownNode = errors.New("unknown command node")

// Status tells the transport whether the exchange expects another turn.
type Status string

const (
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
)

// NoteType qualifies the terminal note of an exchange.
type NoteType string

const (
	NoteInfo  NoteType = "info"
	NoteError NoteType = "error"
)

// Note is a human-readable result message.
type Note struct {
	Type NoteType
	Text string
}

// Reply is what the transport sends back to the caller after a turn. On the
// form turn only Form is set. On the terminal turn Note is always set, URL
// carries the consent link for the authorize command, and Reading carries
// the fetched samples for the data commands (encoded onto the wire by the
// transport's payload encoder, not here).
type Reply struct {
	Status  Status
	Form    *Form
	Note    *Note
	URL     string
	Reading *dataconnect.MeterReading
}

// turnFunc handles the submit turn of one exchange.
type turnFunc func(ctx context.Context, requester string, sub Submission) (*Reply, error)

// Engine maps inbound command turns onto broker operations.
type Engine struct {
	proxy  *proxy.Proxy
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]turnFunc
}

// NewEngine creates a command engine over the broker.
func NewEngine(p *proxy.Proxy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		proxy:   p,
		logger:  logger,
		pending: make(map[string]turnFunc),
	}
}

// Nodes lists the command nodes the engine serves, for transport discovery.
func (e *Engine) Nodes() []string {
	return []string{NodeRequestAuthorizationLink, NodeGetLoadCurve, NodeGetDaily}
}

// Execute runs one turn of an exchange. A nil submission is the first turn:
// the caller gets the form for node and the engine records the submit
// handler under the session handle. A non-nil submission runs that handler.
// A submission for a session the engine does not know (a restart, or a
// transport retry after completion) falls back to first-turn semantics so
// the caller can recover by refilling the form.
func (e *Engine) Execute(ctx context.Context, node, sessionID, requester string, sub Submission) (*Reply, error) {
	if sub == nil {
		return e.offer(node, sessionID)
	}

	e.mu.Lock()
	submit, ok := e.pending[sessionID]
	delete(e.pending, sessionID)
	e.mu.Unlock()

	if !ok {
		e.logger.Info("submission for unknown session, re-offering form",
			zap.String("node", node),
			zap.String("session", sessionID))
		return e.offer(node, sessionID)
	}
	return submit(ctx, requester, sub)
}

func (e *Engine) offer(node, sessionID string) (*Reply, error) {
	var form *Form
	var submit turnFunc
	switch node {
	case NodeRequestAuthorizationLink:
		form, submit = e.authorizeCommand()
	case NodeGetLoadCurve:
		form, submit = e.loadCurveCommand()
	case NodeGetDaily:
		form, submit = e.dailyCommand()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}

	e.mu.Lock()
	e.pending[sessionID] = submit
	e.mu.Unlock()

	return &Reply{Status: StatusExecuting, Form: form}, nil
}

func environmentField() Field {
	return Field{
		Var:   "environment",
		Type:  FieldListSingle,
		Label: "Data Connect environment",
		Value: string(models.EnvironmentProduction),
		Options: []Option{
			{Label: "Production", Value: string(models.EnvironmentProduction)},
			{Label: "Sandbox", Value: string(models.EnvironmentSandbox)},
		},
	}
}

func directionField() Field {
	return Field{
		Var:   "direction",
		Type:  FieldListSingle,
		Label: "Metering direction",
		Value: string(dataconnect.DirectionConsumption),
		Options: []Option{
			{Label: "Consumption", Value: string(dataconnect.DirectionConsumption)},
			{Label: "Production", Value: string(dataconnect.DirectionProduction)},
		},
	}
}

func (e *Engine) authorizeCommand() (*Form, turnFunc) {
	form := &Form{
		Title:        "Request an authorization link",
		Instructions: "The returned link asks the customer to grant access to their metering data.",
		Fields: []Field{
			{Var: "redirect_uri", Type: FieldTextSingle,
				Label: "Address the customer is sent back to after consenting (optional)"},
			{Var: "state", Type: FieldTextSingle,
				Label: "Correlation token echoed in the completion notification (optional)"},
			{Var: "duration", Type: FieldTextSingle, Value: "P1Y",
				Label: "Requested access duration, ISO 8601, capped at three years by the provider"},
			environmentField(),
		},
	}
	submit := func(_ context.Context, requester string, sub Submission) (*Reply, error) {
		env := models.Environment(sub.get(form, "environment"))
		consentURL := e.proxy.RegisterAuthorizeRequest(
			sub.get(form, "redirect_uri"),
			sub.get(form, "duration"),
			requester,
			sub.get(form, "state"),
			env,
		)
		return &Reply{
			Status: StatusCompleted,
			Note:   &Note{Type: NoteInfo, Text: "Authorization link ready: " + consentURL},
			URL:    consentURL,
		}, nil
	}
	return form, submit
}

func (e *Engine) loadCurveCommand() (*Form, turnFunc) {
	now := time.Now()
	form := &Form{
		Title:        "Get a load curve",
		Instructions: "Fetches fine-grained readings for one granted usage point.",
		Fields: []Field{
			{Var: "usage_point_id", Type: FieldTextSingle, Label: "Usage point", Required: true},
			directionField(),
			{Var: "start", Type: FieldTextSingle, Label: "Start date (YYYY-MM-DD)",
				Value: now.AddDate(0, 0, -1).Format("2006-01-02")},
			{Var: "end", Type: FieldTextSingle, Label: "End date (YYYY-MM-DD)",
				Value: now.Format("2006-01-02")},
		},
	}
	submit := func(ctx context.Context, requester string, sub Submission) (*Reply, error) {
		reading, err := e.proxy.FetchLoadCurve(ctx,
			dataconnect.Direction(sub.get(form, "direction")),
			requester,
			sub.get(form, "usage_point_id"),
			sub.get(form, "start"),
			sub.get(form, "end"),
		)
		if err != nil {
			return failureReply(err)
		}
		return readingReply(reading), nil
	}
	return form, submit
}

func (e *Engine) dailyCommand() (*Form, turnFunc) {
	now := time.Now()
	form := &Form{
		Title:        "Get daily aggregates",
		Instructions: "Fetches daily totals for one granted usage point. The provider publishes no daily data newer than 15 days.",
		Fields: []Field{
			{Var: "usage_point_id", Type: FieldTextSingle, Label: "Usage point", Required: true},
			directionField(),
			{Var: "start", Type: FieldTextSingle, Label: "Start date (YYYY-MM-DD)",
				Value: now.AddDate(0, 0, -30).Format("2006-01-02")},
			{Var: "end", Type: FieldTextSingle, Label: "End date (YYYY-MM-DD)",
				Value: now.AddDate(0, 0, -15).Format("2006-01-02")},
		},
	}
	submit := func(ctx context.Context, requester string, sub Submission) (*Reply, error) {
		reading, err := e.proxy.FetchDaily(ctx,
			dataconnect.Direction(sub.get(form, "direction")),
			requester,
			sub.get(form, "usage_point_id"),
			sub.get(form, "start"),
			sub.get(form, "end"),
		)
		if err != nil {
			return failureReply(err)
		}
		return readingReply(reading), nil
	}
	return form, submit
}

func readingReply(reading *dataconnect.MeterReading) *Reply {
	return &Reply{
		Status:  StatusCompleted,
		Note:    &Note{Type: NoteInfo, Text: fmt.Sprintf("%d readings retrieved", len(reading.IntervalReading))},
		Reading: reading,
	}
}

// failureReply turns expected broker failures into a terminal error note so
// the transport answers normally instead of raising a stanza-level fault.
// Anything unexpected propagates as a plain error.
func failureReply(err error) (*Reply, error) {
	var dcErr *dataconnect.Error
	switch {
	case errors.As(err, &dcErr), errors.Is(err, proxy.ErrAccessDenied), errors.Is(err, proxy.ErrInvalidArgument):
		return &Reply{
			Status: StatusCompleted,
			Note:   &Note{Type: NoteError, Text: err.Error()},
		}, nil
	default:
		return nil, err
	}
}
