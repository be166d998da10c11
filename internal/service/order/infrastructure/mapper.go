// internal/service/order/infrastructure/mapper.go
package infrastructure

import (
	"database/sql"

	"emporia/internal/service/order/domain"
)

func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	items := make([]domain.OrderItem, len(model.Items))
	for i, m := range model.Items {
		items[i] = domain.OrderItem{
			ID:           m.ID,
			ProductID:    m.ProductID,
			Quantity:     m.Quantity,
			UnitPrice:    m.UnitPrice,
			RewardPoints: m.RewardPoints,
			Licensable:   m.Licensable,
			MultiSeat:    m.MultiSeat,
			LicenseKey:   m.LicenseKey,
		}
	}
	return &domain.Order{
		ID:         model.ID,
		UserID:     model.UserID,
		Items:      items,
		Subtotal:   model.Subtotal,
		Discount:   model.Discount,
		PromoCode:  model.PromoCode,
		Total:      model.Total,
		Status:     domain.Status(model.Status),
		Method:     domain.PaymentMethod(model.Method),
		SessionRef: model.SessionRef.String,
		CreatedAt:  model.CreatedAt,
		UpdatedAt:  model.UpdatedAt,
	}
}

func FromDomainOrder(order *domain.Order) *OrderModel {
	if order == nil {
		return nil
	}
	model := &OrderModel{
		ID:        order.ID,
		UserID:    order.UserID,
		Subtotal:  order.Subtotal,
		Discount:  order.Discount,
		PromoCode: order.PromoCode,
		Total:     order.Total,
		Status:    string(order.Status),
		Method:    string(order.Method),
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
	if order.SessionRef != "" {
		model.SessionRef = sql.NullString{String: order.SessionRef, Valid: true}
	}
	model.Items = make([]OrderItemModel, len(order.Items))
	for i, item := range order.Items {
		model.Items[i] = OrderItemModel{
			ID:           item.ID,
			OrderID:      order.ID,
			ProductID:    item.ProductID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			RewardPoints: item.RewardPoints,
			Licensable:   item.Licensable,
			MultiSeat:    item.MultiSeat,
			LicenseKey:   item.LicenseKey,
		}
	}
	return model
}

func ToDomainProduct(model *ProductModel) *domain.Product {
	if model == nil {
		return nil
	}
	return &domain.Product{
		ID:           model.ID,
		Name:         model.Name,
		Price:        model.Price,
		Stock:        model.Stock,
		Active:       model.Active,
		RewardPoints: model.RewardPoints,
		Licensable:   model.Licensable,
		MultiSeat:    model.MultiSeat,
	}
}

func ToDomainUser(model *UserModel) *domain.User {
	if model == nil {
		return nil
	}
	return &domain.User{
		ID:         model.ID,
		Balance:    model.Balance,
		Points:     model.Points,
		TotalSpent: model.TotalSpent,
	}
}
