package commands

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// GrantNotifier adapts a transport send callback into the broker's Notifier
// capability. The broker fires it on its own goroutine, so a slow transport
// never stalls a browser redirect.
type GrantNotifier struct {
	Send   func(to, body string) error
	Logger *zap.Logger
}

// NotifyAuthorizeComplete tells the original requester that the end user
// consented, echoing the caller's correlation token when one was supplied.
func (n *GrantNotifier) NotifyAuthorizeComplete(jid string, usagePoints []string, userState string) {
	body := fmt.Sprintf("Authorization granted for usage points %s", strings.Join(usagePoints, ", "))
	if userState != "" {
		body += fmt.Sprintf(" (state: %s)", userState)
	}
	if err := n.Send(jid, body); err != nil && n.Logger != nil {
		n.Logger.Error("failed to notify requester",
			zap.String("jid", jid),
			zap.Error(err))
	}
}
