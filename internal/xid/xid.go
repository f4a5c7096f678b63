package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// ReturnNumber is the human-facing return reference, RET-YYYYMMDD-XXXXXXXX.
func ReturnNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("RET-%s-%s", at.UTC().Format("20060102"), suffix)
}
