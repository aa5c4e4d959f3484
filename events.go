package hodl

import "log/slog"

// Structured event records, the audit trail the chain event log used to
// provide.

func emitLockupCreated(index LockupIndex, lockup *Lockup, draftID *DraftIndex) {
	attrs := []any{
		"index", uint32(index),
		"account", lockup.AccountID,
		"total", lockup.Schedule.TotalBalance(),
	}

	if draftID != nil {
		attrs = append(attrs, "draft", uint32(*draftID))
	}

	slog.Info("ft_lockup: create lockup", attrs...)
}

func emitLockupClaimed(index LockupIndex, amount Balance) {
	slog.Info("ft_lockup: claim lockup", "index", uint32(index), "amount", amount)
}

func emitLockupTerminated(index LockupIndex, unvested Balance, ts TimestampSec) {
	slog.Info("ft_lockup: terminate lockup", "index", uint32(index), "unvested", unvested, "timestamp", ts)
}

func emitLockupAdjusted(index LockupIndex, bp uint64, refund Balance) {
	slog.Info("ft_lockup: adjust lockup", "index", uint32(index), "percentage", bp, "refund", refund)
}

func emitLockupsRevoked(indices []LockupIndex, total Balance) {
	slog.Info("ft_lockup: revoke lockups", "count", len(indices), "total", total)
}

func emitDraftGroupFunded(groupID DraftGroupIndex, amount Balance, payerID string) {
	slog.Info("ft_lockup: fund draft group", "group", uint32(groupID), "amount", amount, "payer", payerID)
}

func emitOrdersExecuted(result *OrdersResult) {
	slog.Info("ft_lockup: orders executed", "approved", len(result.Approved), "rejected", len(result.Rejected))
}
