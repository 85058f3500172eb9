package operation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewOperationID builds the operationId format mandated by SPEC_FULL.md
// §3: "YYYYMMDDTHH:MM:SS.mmm-<initiator>-<8 hex>".
func NewOperationID(initiatorParticipantID string, now time.Time) string {
	ts := now.UTC().Format("20060102T15:04:05.000")
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("%s-%s-%s", ts, initiatorParticipantID, suffix)
}

// NewCallID returns an opaque callId unique within an operation.
func NewCallID() string {
	return uuid.New().String()
}
