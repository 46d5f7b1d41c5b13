package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/Uriel-Ondo/agro/internal/logging"
	"github.com/Uriel-Ondo/agro/internal/models"
	"github.com/Uriel-Ondo/agro/internal/repository"
)

type onlineChecker interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// DeliveryMachine decides message status. Statuses only move forward:
// sent, then received, then read.
type DeliveryMachine struct {
	presence onlineChecker
	log      zerolog.Logger
}

func NewDeliveryMachine(presence onlineChecker) *DeliveryMachine {
	return &DeliveryMachine{
		presence: presence,
		log:      logging.Component("delivery"),
	}
}

// InitialStatus is "received" when the recipient has a live connection and
// "sent" otherwise. A failed presence read degrades to "sent".
func (d *DeliveryMachine) InitialStatus(ctx context.Context, recipientID int64) string {
	online, err := d.presence.IsOnline(ctx, recipientID)
	if err != nil {
		d.log.Warn().Err(err).Int64("recipient_id", recipientID).Msg("presence read failed")
		return models.MessageStatusSent
	}
	if online {
		return models.MessageStatusReceived
	}
	return models.MessageStatusSent
}

// MarkSessionRead moves every message readerID did not author to "read" and
// returns the transitioned messages oldest first.
func (d *DeliveryMachine) MarkSessionRead(
	ctx context.Context,
	repos repository.Repositories,
	sessionID int64,
	readerID int64,
) ([]models.Message, error) {
	changed, err := repos.Messages.MarkSessionRead(ctx, sessionID, readerID)
	if err != nil {
		return nil, storageError(err)
	}
	return changed, nil
}

// Advance moves one message forward on behalf of actorID. Only the recipient
// may advance a message. Moves that are not forward return the message
// unchanged with changed=false.
func (d *DeliveryMachine) Advance(
	ctx context.Context,
	repos repository.Repositories,
	messageID int64,
	actorID int64,
	status string,
) (message *models.Message, changed bool, err error) {
	if status != models.MessageStatusReceived && status != models.MessageStatusRead {
		return nil, false, ErrInvalidContent
	}

	current, err := repos.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, storageError(err)
	}
	session, err := repos.Sessions.GetByID(ctx, current.SessionID)
	if err != nil {
		return nil, false, storageError(err)
	}
	if !session.IsParticipant(actorID) || current.SenderID == actorID {
		return nil, false, ErrForbidden
	}

	advanced, err := repos.Messages.AdvanceStatus(ctx, messageID, actorID, status)
	if errors.Is(err, repository.ErrNotFound) {
		return current, false, nil
	}
	if err != nil {
		return nil, false, storageError(err)
	}
	return advanced, true, nil
}
