// Package notify is the boundary to the mail collaborator. Sends are
// fire-and-forget from the gateway's point of view: a failed send is logged,
// never propagated to the signing-up user.
package notify

import (
	"context"

	"go.uber.org/zap"
)

type Kind string

const (
	KindVerifyEmail   Kind = "verify"
	KindResetPassword Kind = "resetPassword"
)

type Notifier interface {
	Notify(ctx context.Context, kind Kind, email, token string) error
}

// LogNotifier stands in for a real mail transport; deployments plug their
// own Notifier into the gateway.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, kind Kind, email, token string) error {
	n.log.Infow("notification", "kind", kind, "email", email, "token", token)
	return nil
}
