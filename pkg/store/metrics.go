package store

import "campusmarket/internal/metrics"

func observeTable(key, op string, err error) {
	metrics.ObserveStoreOp(tableName(key), op, err)
}

func tableName(key string) string {
	switch key {
	case ListingsKey:
		return "listings"
	case BidsKey:
		return "bids"
	case ConversationsKey:
		return "conversations"
	case MessagesKey:
		return "messages"
	default:
		return "unknown"
	}
}
