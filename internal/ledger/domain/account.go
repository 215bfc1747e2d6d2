package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LiabilityKind 负债类别：可用或冻结
type LiabilityKind string

const (
	KindMain   LiabilityKind = "main"
	KindLocked LiabilityKind = "locked"
)

// 流水引用类型
const (
	RefTrade   = "trade"
	RefOrder   = "order"
	RefDeposit = "deposit"
)

// Account 会员某一币种的负债余额
type Account struct {
	gorm.Model
	MemberID uint64          `gorm:"column:member_id;uniqueIndex:uk_account_member_currency;not null" json:"member_id"`
	Currency string          `gorm:"column:currency;type:varchar(10);uniqueIndex:uk_account_member_currency;not null" json:"currency"`
	Balance  decimal.Decimal `gorm:"column:balance;type:decimal(32,16);not null;default:0" json:"balance"`
	Locked   decimal.Decimal `gorm:"column:locked;type:decimal(32,16);not null;default:0" json:"locked"`
}

// TableName 表名
func (Account) TableName() string {
	return "accounts"
}

// Apply 按类别调整余额，结果为负时返回 ErrInsufficientFunds 且不修改账户
func (a *Account) Apply(kind LiabilityKind, delta decimal.Decimal) error {
	switch kind {
	case KindMain:
		next := a.Balance.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("%w: member %d %s main %s, change %s", ErrInsufficientFunds, a.MemberID, a.Currency, a.Balance, delta)
		}
		a.Balance = next
	case KindLocked:
		next := a.Locked.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("%w: member %d %s locked %s, change %s", ErrInsufficientFunds, a.MemberID, a.Currency, a.Locked, delta)
		}
		a.Locked = next
	default:
		return fmt.Errorf("unknown liability kind %q", kind)
	}
	return nil
}

// LiabilityEntry 负债流水，只追加
type LiabilityEntry struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	MemberID      uint64          `gorm:"column:member_id;index:idx_liability_member_currency;not null" json:"member_id"`
	Currency      string          `gorm:"column:currency;type:varchar(10);index:idx_liability_member_currency;not null" json:"currency"`
	Kind          LiabilityKind   `gorm:"column:kind;type:varchar(10);not null" json:"kind"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(32,16);not null" json:"amount"`
	ReferenceType string          `gorm:"column:reference_type;type:varchar(20);index:idx_liability_ref;not null" json:"reference_type"`
	ReferenceID   string          `gorm:"column:reference_id;type:varchar(64);index:idx_liability_ref;not null" json:"reference_id"`
	CreatedAt     int64           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName 表名
func (LiabilityEntry) TableName() string {
	return "liabilities"
}

// Revenue 平台手续费收入，MemberID 为付费会员
type Revenue struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	MemberID      uint64          `gorm:"column:member_id;index;not null" json:"member_id"`
	Currency      string          `gorm:"column:currency;type:varchar(10);index;not null" json:"currency"`
	Amount        decimal.Decimal `gorm:"column:amount;type:decimal(32,16);not null" json:"amount"`
	ReferenceType string          `gorm:"column:reference_type;type:varchar(20);not null" json:"reference_type"`
	ReferenceID   string          `gorm:"column:reference_id;type:varchar(64);index;not null" json:"reference_id"`
	CreatedAt     int64           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName 表名
func (Revenue) TableName() string {
	return "revenues"
}
