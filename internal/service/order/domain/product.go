// internal/service/order/domain/product.go
package domain

// UnlimitedStock 是"不限库存"的哨兵值。
const UnlimitedStock int64 = -1

// Product 是目录中的商品（引擎只读；目录维护不在本核心范围内）。
type Product struct {
	ID           int64
	Name         string
	Price        float64
	Stock        int64 // UnlimitedStock 表示不限量
	Active       bool
	RewardPoints int64 // 每件商品完成时发放的积分
	Licensable   bool  // 完成时是否签发 license key
	MultiSeat    bool  // 多席位商品按件签发，而不是按行签发
}

// HasStock 报告库存是否足以覆盖 quantity。
// 这是报价时的读检查；权威的扣减在完成事务里带守卫进行。
func (p *Product) HasStock(quantity int64) bool {
	return p.Stock == UnlimitedStock || p.Stock >= quantity
}
