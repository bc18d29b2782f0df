package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/agentmesh/message"
	"github.com/BaSui01/agentmesh/types"
)

// Router errors.
var (
	// ErrClosed indicates the router was shut down.
	ErrClosed = errors.New("router: closed")
	// ErrUnknownRecipient indicates no target is registered for an agent id.
	ErrUnknownRecipient = errors.New("router: unknown recipient")
)

// PartialDeliveryError reports which recipients could not be reached after
// retries were exhausted. Successful deliveries are not rolled back.
type PartialDeliveryError struct {
	MessageID string
	// Failed maps each unreachable recipient to its final error. Each
	// recipient appears exactly once.
	Failed map[string]error
	// Succeeded lists the recipients that acknowledged delivery.
	Succeeded []string
}

// Error implements the error interface.
func (e *PartialDeliveryError) Error() string {
	recipients := make([]string, 0, len(e.Failed))
	for r := range e.Failed {
		recipients = append(recipients, r)
	}
	sort.Strings(recipients)

	var sb strings.Builder
	fmt.Fprintf(&sb, "message %s: delivery failed for %d of %d recipients: ",
		e.MessageID, len(e.Failed), len(e.Failed)+len(e.Succeeded))
	for i, r := range recipients {
		if i > 0 {
			sb.WriteString("; ")
		}
		fmt.Fprintf(&sb, "%s: %v", r, e.Failed[r])
	}
	return sb.String()
}

// FailedRecipients returns the unreachable recipients in sorted order.
func (e *PartialDeliveryError) FailedRecipients() []string {
	out := make([]string, 0, len(e.Failed))
	for r := range e.Failed {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ErrorReply builds the ERROR message a router caller sends back to the
// originator of a failed request, mapping the routing error to a status
// code. Internal invariant violations are the caller's bug and should be
// surfaced directly rather than converted; this helper is for protocol
// failures.
func ErrorReply(original *message.Message, routeErr error) (*message.Message, error) {
	status := types.StatusInternal
	switch types.GetErrorCode(routeErr) {
	case types.ErrValidation, types.ErrMessageTooLarge, types.ErrUnsupportedMessageType:
		status = types.StatusBadRequest
	case types.ErrExpiredMessage:
		status = types.StatusTimeout
	case types.ErrPartialDelivery, types.ErrRoutingDisabled, types.ErrCircuitOpen:
		status = types.StatusUnavailable
	}
	return message.NewError(original, status, routeErr.Error())
}
