package domain

import "strings"

// 对外生命周期事件名
const (
	EventOrderCreated   = "order_created"
	EventOrderCanceled  = "order_canceled"
	EventOrderCompleted = "order_completed"
	EventOrderUpdated   = "order_updated"
)

// PushChannelOrder 会员推送频道
const PushChannelOrder = "order"

// Publication 一次提交后需要发出的通知
type Publication struct {
	// 是否推送会员界面
	Push bool
	// 对外事件名，空串表示不发布
	Event string
}

// CreationPublication 创建提交后：总是推送；仅限价单发布 order_created。
// 市价单即时成交，不进入对外生命周期事件流。
func CreationPublication(o *Order) Publication {
	p := Publication{Push: true}
	if o.OrdType == OrdTypeLimit {
		p.Event = EventOrderCreated
	}
	return p
}

// UpdateEvent 更新提交后的对外事件：只看限价单；状态变为 cancel/done 时
// 分别为 order_canceled/order_completed，其余更新均为 order_updated。
func UpdateEvent(previous State, o *Order) string {
	if o.OrdType != OrdTypeLimit {
		return ""
	}
	if o.State != previous {
		switch o.State {
		case StateCancel:
			return EventOrderCanceled
		case StateDone:
			return EventOrderCompleted
		}
	}
	return EventOrderUpdated
}

// Topic 事件主题 market.<market_id>.<event>
func Topic(marketID, event string) string {
	return strings.Join([]string{"market", marketID, event}, ".")
}
