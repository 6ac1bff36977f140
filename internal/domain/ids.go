package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID prefixes
const (
	TradeIDPrefix  = "trd"
	InboxIDPrefix  = "inb"
	ReportIDPrefix = "rpt"
)

// NewID returns an identifier of the form {prefix}_{unixMillis}_{suffix}.
func NewID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}
