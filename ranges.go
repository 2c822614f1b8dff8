package nuagent

import (
	"fmt"
	"strconv"
	"strings"
)

// CompressIDRanges renders a sorted, de-duplicated list of IDs as a
// compact range string: [1,2,3,7,9,10] → "1-3, 7, 9-10". Used to tell
// the model which message IDs were withheld from its context.
func CompressIDRanges(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	var parts []string
	start, prev := ids[0], ids[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.FormatInt(start, 10))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, id := range ids[1:] {
		if id == prev+1 {
			prev = id
			continue
		}
		flush()
		start, prev = id, id
	}
	flush()
	return strings.Join(parts, ", ")
}

// ExpandIDRanges parses the output of CompressIDRanges back into the
// full ID list. Malformed segments are skipped.
func ExpandIDRanges(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err1 := strconv.ParseInt(lo, 10, 64)
			b, err2 := strconv.ParseInt(hi, 10, 64)
			if err1 != nil || err2 != nil || b < a {
				continue
			}
			for id := a; id <= b; id++ {
				ids = append(ids, id)
			}
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
