package service

import (
	"context"
	"encoding/json"

	"merchantops/internal/apperror"
	"merchantops/internal/model"
	"merchantops/internal/permission"
	"merchantops/internal/repository"

	"github.com/google/uuid"
)

// RefundPayload is the payload of a refund.issue request.
type RefundPayload struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
}

// OutboxResult is returned by handlers that hand work to a downstream service.
type OutboxResult struct {
	OutboxID string `json:"outbox_id"`
	Topic    string `json:"topic"`
}

// RegisterDefaultActions registers the built-in action types.
func RegisterDefaultActions(registry *ActionRegistry, ledger LedgerService, outbox repository.OutboxRepository) {
	registry.MustRegister(ActionDefinition{
		Type:       model.ActionRefundIssue,
		Capability: permission.RefundsApprove,
		Handler:    NewRefundHandler(ledger),
	})
	registry.MustRegister(ActionDefinition{
		Type:       model.ActionCampaignSend,
		Capability: permission.CampaignsApprove,
		Handler:    NewOutboxHandler(outbox, "campaigns.send"),
	})
	registry.MustRegister(ActionDefinition{
		Type:       model.ActionPoliciesPublish,
		Capability: permission.PoliciesApprove,
		Handler:    NewOutboxHandler(outbox, "policies.publish"),
	})
	registry.MustRegister(ActionDefinition{
		Type:       model.ActionDeliveryDispatch,
		Capability: permission.DeliveriesApprove,
		Handler:    NewOutboxHandler(outbox, "deliveries.dispatch"),
	})
}

// NewRefundHandler issues the refund described by the request payload. The
// order id falls back to the request's entity id.
func NewRefundHandler(ledger LedgerService) ActionHandler {
	return func(ctx context.Context, in ActionInput) (interface{}, error) {
		const op = "refund.issue"

		var p RefundPayload
		if err := json.Unmarshal([]byte(in.Request.Payload), &p); err != nil {
			return nil, apperror.Wrap(apperror.ErrValidation, op, err, "invalid refund payload")
		}
		if p.OrderID == "" {
			p.OrderID = in.Request.EntityID
		}
		orderID, err := uuid.Parse(p.OrderID)
		if err != nil {
			return nil, apperror.Wrap(apperror.ErrValidation, op, err, "invalid order id %q", p.OrderID)
		}
		if p.Reason == "" {
			p.Reason = in.Request.Reason
		}

		result, err := ledger.RefundOrder(ctx, RefundOrderInput{
			TenantID:  in.Request.TenantID,
			OrderID:   orderID,
			Amount:    p.Amount,
			Reason:    p.Reason,
			RequestID: in.Request.ID,
			Actor:     in.Actor,
		})
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// NewOutboxHandler enqueues the request payload for a downstream service on topic.
func NewOutboxHandler(outbox repository.OutboxRepository, topic string) ActionHandler {
	return func(ctx context.Context, in ActionInput) (interface{}, error) {
		msg := &model.OutboxMessage{
			TenantID:          in.Request.TenantID,
			Topic:             topic,
			ApprovalRequestID: in.Request.ID,
			CorrelationID:     in.Request.CorrelationID,
			Payload:           in.Request.Payload,
			Status:            model.OutboxPending,
		}
		if err := outbox.Create(ctx, msg); err != nil {
			return nil, err
		}
		return OutboxResult{OutboxID: msg.ID.String(), Topic: topic}, nil
	}
}
