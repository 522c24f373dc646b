package mongosink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyaichatbot/orchestration-core/internal/policy"
)

func TestToAuditDocumentCarriesDecisionFields(t *testing.T) {
	now := time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC)
	entry := policy.AuditEntry{
		TransactionID: "tx-1",
		Timestamp:     now,
		SubjectID:     "user-1",
		Role:          "tool_user",
		ResourceType:  policy.ResourceTool,
		ResourceID:    "echo",
		Operation:     "call",
		Decision:      policy.Decision{Allowed: false, Reason: policy.ReasonDefaultDeny},
		Latency:       15 * time.Millisecond,
	}

	doc := toAuditDocument(entry)
	require.Equal(t, "tx-1", doc.TransactionID)
	require.Equal(t, now, doc.Timestamp)
	require.Equal(t, string(policy.ResourceTool), doc.ResourceType)
	require.False(t, doc.Allowed)
	require.Equal(t, policy.ReasonDefaultDeny, doc.Reason)
	require.Equal(t, int64(15), doc.LatencyMillis)
}
