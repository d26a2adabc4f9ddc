package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"trip-tracker/internal/publisher"
)

const (
	SubjectPrefix   = "sandbox"
	HeaderRequestID = "Request-Id"

	defaultRequestTimeout = 10 * time.Second
)

// Subject is the request subject for event on the runner called label.
func Subject(label, event string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, publisher.SubjectToken(label), publisher.SubjectToken(event))
}

// Serve answers dispatch requests for the given labels from host.
func Serve(nc *nats.Conn, host *Host, labels ...string) ([]*nats.Subscription, error) {
	subs := make([]*nats.Subscription, 0, len(labels))
	for _, label := range labels {
		label := label
		subject := fmt.Sprintf("%s.%s.*", SubjectPrefix, publisher.SubjectToken(label))
		sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
			reply := answer(host, label, m.Subject, m.Data)
			if err := m.Respond(reply); err != nil {
				log.Printf("runner %s: respond on %s: %v", label, m.Subject, err)
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		log.Printf("runner %s: serving %s", label, subject)
		subs = append(subs, sub)
	}
	return subs, nil
}

// answer dispatches one request and renders the wire reply.
func answer(host *Host, label, subject string, data []byte) []byte {
	event := subject[strings.LastIndex(subject, ".")+1:]
	var details map[string]any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &details); err != nil {
			b, _ := EncodeReply(Response{}, fmt.Errorf("decode details: %w", err))
			return b
		}
	}
	resp, err := host.Dispatch(context.Background(), label, event, details)
	b, encErr := EncodeReply(resp, err)
	if encErr != nil {
		b, _ = EncodeReply(Response{}, encErr)
	}
	return b
}

// NATSDispatcher sends dispatch requests to runners served over NATS.
type NATSDispatcher struct {
	nc          *nats.Conn
	logSubjects bool
}

func NewNATSDispatcher(nc *nats.Conn, logSubjects bool) *NATSDispatcher {
	return &NATSDispatcher{nc: nc, logSubjects: logSubjects}
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, label, event string, details map[string]any) (Response, error) {
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return Response{}, fmt.Errorf("encode details: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	msg := nats.NewMsg(Subject(label, event))
	msg.Data = payload
	reqID := uuid.NewString()
	msg.Header.Set(HeaderRequestID, reqID)
	if d.logSubjects {
		log.Printf("nats request subject=%s id=%s", msg.Subject, reqID)
	}
	reply, err := d.nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return Response{}, fmt.Errorf("dispatch %s to %s (request %s): %w", event, label, reqID, err)
	}
	return DecodeReply(reply.Data)
}
