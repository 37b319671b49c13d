package orders

import (
	"github.com/threadline/shopfront-backend/pkg/db/models"
	"github.com/threadline/shopfront-backend/pkg/enums"
	"github.com/threadline/shopfront-backend/pkg/outbox"
	"github.com/threadline/shopfront-backend/pkg/outbox/payloads"
)

func orderCreatedEvent(order *models.Order, actor *outbox.ActorRef) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.OrderCreatedEvent{
			OrderID:         order.ID,
			OrderNumber:     order.OrderNumber,
			UserID:          order.UserID,
			PaymentIntentID: order.PaymentIntentID,
			PaymentMethod:   order.PaymentMethod,
			Status:          order.Status,
			PaymentStatus:   order.PaymentStatus,
			TotalAmount:     order.TotalAmount,
			Discount:        order.Discount,
			ItemCount:       len(order.Items),
			VoucherCode:     order.VoucherCode,
		},
	}
}

func orderCancelledEvent(order *models.Order, result *CancelResult, actor Actor) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderCancelledEvent{
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			CancelledBy:    string(actor.Role),
			StockReleased:  result.StockReleased,
			RequiresRefund: result.RequiresRefund,
		},
	}
}

func orderStatusChangedEvent(order *models.Order, from enums.OrderStatus, actor Actor) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderStatusChangedEvent{
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			From:           from,
			To:             order.Status,
			TrackingNumber: order.TrackingNumber,
		},
	}
}

func actorRef(actor Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)}
}

func customer(userID string) *outbox.ActorRef {
	return actorRef(Actor{UserID: userID, Role: enums.RoleCustomer})
}
