package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DisplayID builds the human-facing reference, e.g.
// "CON-6f1c...-482913". The suffix is the last six digits of the millisecond
// timestamp. It is never used for lookups; only ID is authoritative.
func DisplayID(category Category, id uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s-%s-%06d", category.Tag(), id, at.UnixMilli()%1_000_000)
}
