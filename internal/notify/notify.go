// Package notify implements the notification-send collaborator invoked
// when a session ends abnormally. Delivery is best-effort.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/domain"
)

type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (LogNotifier) SessionEnded(_ context.Context, peer domain.PeerID, reason string) {
	log.Info().Str("module", "notify").Str("peer", string(peer)).Str("reason", reason).Msg("session ended")
}
