// internal/service/order/domain/user.go
package domain

// User 是引擎视角下的买家账户。
// 身份与会话由外部协作方负责，这里只关心余额、积分和累计消费。
type User struct {
	ID         int64
	Balance    float64
	Points     int64
	TotalSpent float64 // 只在订单完成时增加，单调不减
}

// Tier 是由累计消费派生的会员等级，不单独存储，读取时重算。
type Tier string

const (
	TierBronze   Tier = "BRONZE"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

// 等级阈值与对应的单品折扣率。
const (
	silverThreshold   = 1_000
	goldThreshold     = 10_000
	platinumThreshold = 50_000
)

// TierFor 由累计消费派生会员等级。
func TierFor(totalSpent float64) Tier {
	switch {
	case totalSpent >= platinumThreshold:
		return TierPlatinum
	case totalSpent >= goldThreshold:
		return TierGold
	case totalSpent >= silverThreshold:
		return TierSilver
	default:
		return TierBronze
	}
}

// DiscountRate 返回该等级的单品折扣率（0.05 表示九五折）。
func (t Tier) DiscountRate() float64 {
	switch t {
	case TierPlatinum:
		return 0.10
	case TierGold:
		return 0.05
	case TierSilver:
		return 0.02
	default:
		return 0
	}
}

// Tier 返回用户当前等级。
func (u *User) Tier() Tier {
	return TierFor(u.TotalSpent)
}
