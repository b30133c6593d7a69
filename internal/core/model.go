package core

import "strings"

// ParseModelID splits a qualified "provider/model" id at the first slash.
// The model half is opaque and may itself contain slashes.
func ParseModelID(qualified string) (provider, model string, err error) {
	idx := strings.Index(qualified, "/")
	if idx <= 0 || idx == len(qualified)-1 {
		return "", "", NewBadRequest("invalid model id %q, expected provider/model", qualified)
	}

	return qualified[:idx], qualified[idx+1:], nil
}
