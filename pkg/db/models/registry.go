package models

// Schema lists the models owned by this service, in dependency order.
func Schema() []any {
	return []any{
		&Product{},
		&ProductVariant{},
		&Voucher{},
		&Cart{},
		&CartItem{},
		&PaymentIntent{},
		&Order{},
		&OrderItem{},
		&Notification{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
