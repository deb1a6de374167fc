package main

import (
	"strconv"
	"strings"

	"github.com/kstaniek/go-ims-packets/internal/node"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// nodeVersion converts a "v1.2.3" style build version to the VERSION packet
// payload. Anything that is not a plain release sets DevFlag.
func nodeVersion(s string) node.Version {
	v := node.Version{DevFlag: 1}
	s = strings.TrimPrefix(s, "v")
	core, pre, hasPre := strings.Cut(s, "-")
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return v
	}
	var nums [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return v
		}
		nums[i] = uint32(n)
	}
	v.Major, v.Minor, v.Build = nums[0], nums[1], nums[2]
	if !hasPre || pre == "" {
		v.DevFlag = 0
	}
	return v
}
