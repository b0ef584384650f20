package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-version"
)

// LatestRelease picks the highest semantic version among release directory names such as
// "v1.4.0" or "1.10.2". Names that are not versions are ignored; pre-releases only win when
// no final release exists.
func LatestRelease(names []string) (string, error) {
	type candidate struct {
		name string
		v    *version.Version
	}
	var finals, pre []candidate
	for _, n := range names {
		v, err := version.NewVersion(strings.TrimSpace(n))
		if err != nil {
			continue
		}
		c := candidate{name: strings.TrimSpace(n), v: v}
		if v.Prerelease() != "" {
			pre = append(pre, c)
		} else {
			finals = append(finals, c)
		}
	}
	pool := finals
	if len(pool) == 0 {
		pool = pre
	}
	if len(pool) == 0 {
		return "", fmt.Errorf("no versioned releases among %d entries", len(names))
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].v.GreaterThan(pool[j].v) })
	return pool[0].name, nil
}
