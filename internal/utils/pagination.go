package utils

import "strconv"

// ParsePagination reads limit/page query values, returning nil for anything
// absent or malformed so the repository defaults apply.
func ParsePagination(limitRaw, pageRaw string) (*int32, *int32) {
	var limit, page *int32
	if v, err := strconv.ParseInt(limitRaw, 10, 32); err == nil && v > 0 {
		n := int32(v)
		limit = &n
	}
	if v, err := strconv.ParseInt(pageRaw, 10, 32); err == nil && v > 0 {
		n := int32(v)
		page = &n
	}
	return limit, page
}
